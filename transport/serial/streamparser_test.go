package serial

import (
	"testing"
	"time"

	roottransport "github.com/opencyphal-go/transport"
)

func TestStreamParser_ValidFrame(t *testing.T) {
	f := Frame{DataSpecifier: roottransport.DataSpecifier{ID: 3}, EndOfTransfer: true, Payload: []byte("ab")}
	wire := f.Compile()

	var got []ParsedBlock
	sp := NewStreamParser(func(b ParsedBlock) { got = append(got, b) })
	sp.Feed(wire, time.Now())

	if len(got) != 1 {
		t.Fatalf("expected 1 block, got %d", len(got))
	}
	if got[0].Frame == nil {
		t.Fatal("expected a parsed frame")
	}
	if string(got[0].Frame.Payload) != "ab" {
		t.Fatalf("got payload %q", got[0].Frame.Payload)
	}
}

func TestStreamParser_GarbageBecomesOOB(t *testing.T) {
	var got []ParsedBlock
	sp := NewStreamParser(func(b ParsedBlock) { got = append(got, b) })
	sp.Feed([]byte("not a frame\x00"), time.Now())

	if len(got) != 1 {
		t.Fatalf("expected 1 block, got %d", len(got))
	}
	if got[0].Frame != nil {
		t.Fatal("expected no parsed frame for garbage")
	}
}

func TestStreamParser_MultipleFramesInOneChunk(t *testing.T) {
	f1 := Frame{DataSpecifier: roottransport.DataSpecifier{ID: 1}, EndOfTransfer: true, Payload: []byte("x")}
	f2 := Frame{DataSpecifier: roottransport.DataSpecifier{ID: 2}, EndOfTransfer: true, Payload: []byte("y")}

	var got []ParsedBlock
	sp := NewStreamParser(func(b ParsedBlock) { got = append(got, b) })
	combined := append(f1.Compile(), f2.Compile()...)
	sp.Feed(combined, time.Now())

	if len(got) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(got))
	}
	if got[0].Frame == nil || got[1].Frame == nil {
		t.Fatal("expected both blocks to parse")
	}
}
