package can

import (
	"testing"
	"time"

	"github.com/opencyphal-go/transport/capture"
)

func rawEvent(t *testing.T, id Identifier, fr Frame, at time.Time) capture.Event {
	t.Helper()
	raw, err := id.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data := fr.Compile()
	return capture.Event{
		Timestamp:     capture.Timestamp{System: at},
		TransportName: "can",
		Raw: struct {
			Identifier uint32
			Data       []byte
		}{raw, data},
	}
}

func TestTracer_SingleFrameMessage(t *testing.T) {
	src := uint16(5)
	id := Identifier{Priority: 3, SubjectID: 42, SourceNodeID: &src}
	fr := Frame{Payload: []byte("hi"), StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: 1}

	tr := NewTracer()
	alien, err := tr.Update(rawEvent(t, id, fr, time.Unix(1000, 0)))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if alien == nil {
		t.Fatal("expected a completed transfer")
	}
	if string(alien.Fragments[0]) != "hi" {
		t.Fatalf("got %q", alien.Fragments[0])
	}
	if alien.DataSpecifier.IsService || alien.DataSpecifier.ID != 42 {
		t.Fatalf("unexpected data specifier: %+v", alien.DataSpecifier)
	}
	if alien.SourceNodeID == nil || *alien.SourceNodeID != src {
		t.Fatalf("unexpected source: %v", alien.SourceNodeID)
	}
}

func TestTracer_IgnoresUnrelatedRaw(t *testing.T) {
	tr := NewTracer()
	alien, err := tr.Update(capture.Event{Raw: "not a can frame"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if alien != nil {
		t.Fatal("expected nil for unrelated raw payload")
	}
}

func TestTracer_TracksMultipleSourcesIndependently(t *testing.T) {
	tr := NewTracer()
	srcA, srcB := uint16(1), uint16(2)
	idA := Identifier{Priority: 1, SubjectID: 10, SourceNodeID: &srcA}
	idB := Identifier{Priority: 1, SubjectID: 10, SourceNodeID: &srcB}
	frA := Frame{Payload: []byte("a"), StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: 0}
	frB := Frame{Payload: []byte("b"), StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: 0}

	now := time.Unix(2000, 0)
	alienA, err := tr.Update(rawEvent(t, idA, frA, now))
	if err != nil || alienA == nil {
		t.Fatalf("Update A: %v %v", alienA, err)
	}
	alienB, err := tr.Update(rawEvent(t, idB, frB, now.Add(time.Millisecond)))
	if err != nil || alienB == nil {
		t.Fatalf("Update B: %v %v", alienB, err)
	}
	if string(alienA.Fragments[0]) != "a" || string(alienB.Fragments[0]) != "b" {
		t.Fatalf("cross-contaminated state: %q %q", alienA.Fragments[0], alienB.Fragments[0])
	}
}
