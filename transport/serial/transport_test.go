package serial

import (
	"context"
	"io"
	"testing"
	"time"

	roottransport "github.com/opencyphal-go/transport"
)

// pipeMedia connects two Transports back to back via an in-memory pipe,
// without any real device.
type pipeMedia struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeMedia) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeMedia) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeMedia) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newLoopback() (*pipeMedia, *pipeMedia) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &pipeMedia{r: r1, w: w2}, &pipeMedia{r: r2, w: w1}
}

func nodeID(v uint16) *uint16 { return &v }

func TestTransport_MessageRoundTrip(t *testing.T) {
	aMedia, bMedia := newLoopback()
	aliceID, bobID := nodeID(1), nodeID(2)
	alice := NewTransport(aMedia, aliceID, 64)
	bob := NewTransport(bMedia, bobID, 64)
	defer alice.Close()
	defer bob.Close()

	spec := roottransport.SessionSpecifier{DataSpecifier: roottransport.DataSpecifier{ID: 500}}
	in, err := bob.InputSession(spec, roottransport.PayloadMetadata{ExtentBytes: 4096})
	if err != nil {
		t.Fatalf("InputSession: %v", err)
	}
	out, err := alice.OutputSession(spec, roottransport.PayloadMetadata{ExtentBytes: 4096})
	if err != nil {
		t.Fatalf("OutputSession: %v", err)
	}

	payload := []byte("hello over serial")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := out.Send(ctx, roottransport.Transfer{Priority: 3, TransferID: 42, Fragments: [][]byte{payload}}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	tr, err := in.Receive(recvCtx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(tr.Fragments[0]) != string(payload) {
		t.Fatalf("got %q want %q", tr.Fragments[0], payload)
	}
	if tr.SourceNodeID == nil || *tr.SourceNodeID != *aliceID {
		t.Fatalf("unexpected source: %v", tr.SourceNodeID)
	}
}

func TestTransport_MultiFrameRoundTrip(t *testing.T) {
	aMedia, bMedia := newLoopback()
	aliceID, bobID := nodeID(10), nodeID(20)
	alice := NewTransport(aMedia, aliceID, 16)
	bob := NewTransport(bMedia, bobID, 16)
	defer alice.Close()
	defer bob.Close()

	spec := roottransport.SessionSpecifier{DataSpecifier: roottransport.DataSpecifier{ID: 9}}
	in, _ := bob.InputSession(spec, roottransport.PayloadMetadata{ExtentBytes: 4096})
	out, _ := alice.OutputSession(spec, roottransport.PayloadMetadata{ExtentBytes: 4096})

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := out.Send(ctx, roottransport.Transfer{Priority: 1, TransferID: 7, Fragments: [][]byte{payload}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	recvCtx, recvCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer recvCancel()
	tr, err := in.Receive(recvCtx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if string(tr.Fragments[0]) != string(payload) {
		t.Fatalf("payload mismatch: got %d bytes want %d", len(tr.Fragments[0]), len(payload))
	}
}

func TestTransport_AnonymousCannotOpenServiceOutput(t *testing.T) {
	aMedia, _ := newLoopback()
	anon := NewTransport(aMedia, nil, 64)
	defer anon.Close()
	_, err := anon.OutputSession(roottransport.SessionSpecifier{
		DataSpecifier: roottransport.DataSpecifier{IsService: true, ID: 1, IsRequest: true},
	}, roottransport.PayloadMetadata{})
	if err != roottransport.ErrOperationNotDefinedForAnonymous {
		t.Fatalf("expected ErrOperationNotDefinedForAnonymous, got %v", err)
	}
}
