package hot

import (
	"testing"
	"time"

	"github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/crc"
)

func ts(mono time.Duration) transport.Timestamp {
	return transport.Timestamp{Monotonic: mono}
}

func withCRC(payload []byte) []byte {
	c := crc.NewCRC32C()
	c.Add(payload)
	trailer := c.ValueAsBytes()
	return append(append([]byte{}, payload...), trailer[:]...)
}

func TestReassembler_SingleFrame(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	res := r.Process(Frame{Timestamp: ts(0), TransferID: 1, Index: 0, EndOfTransfer: true, Payload: []byte("hello")})
	if res.Err != ErrNone || res.Transfer == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Transfer.Fragments[0]) != "hello" {
		t.Fatalf("payload = %q", res.Transfer.Fragments[0])
	}
}

func TestReassembler_MultiFrameInOrder(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	whole := withCRC([]byte("0123456789abcdef"))
	chunks := [][]byte{whole[0:8], whole[8:16], whole[16:]}

	var final Result
	for i, c := range chunks {
		final = r.Process(Frame{Timestamp: ts(0), TransferID: 7, Index: uint32(i), EndOfTransfer: i == len(chunks)-1, Payload: c})
		if i < len(chunks)-1 && final.Transfer != nil {
			t.Fatalf("completed early at frame %d", i)
		}
	}
	if final.Err != ErrNone || final.Transfer == nil {
		t.Fatalf("unexpected final result: %+v", final)
	}
	if string(final.Transfer.Fragments[0]) != "0123456789abcdef" {
		t.Fatalf("payload = %q", final.Transfer.Fragments[0])
	}
}

func TestReassembler_MultiFrameOutOfOrder(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	whole := withCRC([]byte("out-of-order-payload!!!"))
	chunks := [][]byte{whole[0:8], whole[8:16], whole[16:]}

	r.Process(Frame{Timestamp: ts(0), TransferID: 2, Index: 2, EndOfTransfer: true, Payload: chunks[2]})
	r.Process(Frame{Timestamp: ts(0), TransferID: 2, Index: 0, EndOfTransfer: false, Payload: chunks[0]})
	final := r.Process(Frame{Timestamp: ts(0), TransferID: 2, Index: 1, EndOfTransfer: false, Payload: chunks[1]})

	if final.Err != ErrNone || final.Transfer == nil {
		t.Fatalf("unexpected result: %+v", final)
	}
	if string(final.Transfer.Fragments[0]) != "out-of-order-payload!!!" {
		t.Fatalf("payload = %q", final.Transfer.Fragments[0])
	}
}

func TestReassembler_IntegrityError(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	whole := withCRC([]byte("corrupted-payload"))
	whole[len(whole)-1] ^= 0xFF // flip a CRC byte
	chunks := [][]byte{whole[0:8], whole[8:]}

	r.Process(Frame{Timestamp: ts(0), TransferID: 3, Index: 0, EndOfTransfer: false, Payload: chunks[0]})
	final := r.Process(Frame{Timestamp: ts(0), TransferID: 3, Index: 1, EndOfTransfer: true, Payload: chunks[1]})
	if final.Err != ErrMultiframeIntegrityError {
		t.Fatalf("err = %v, want ErrMultiframeIntegrityError", final.Err)
	}
}

func TestReassembler_NewTransferIDAbandonsOld(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	r.Process(Frame{Timestamp: ts(0), TransferID: 1, Index: 0, EndOfTransfer: false, Payload: []byte("aaaaaaaa")})
	// A new transfer-ID arrives before the old one completed; it must win.
	res := r.Process(Frame{Timestamp: ts(0), TransferID: 2, Index: 0, EndOfTransfer: true, Payload: []byte("bb")})
	if res.Err != ErrNone || res.Transfer == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Transfer.Fragments[0]) != "bb" {
		t.Fatalf("payload = %q", res.Transfer.Fragments[0])
	}
}

func TestReassembler_TimeoutAbandonsTransfer(t *testing.T) {
	r := NewReassembler(nil, 10*time.Millisecond, 1024)
	r.Process(Frame{Timestamp: ts(0), TransferID: 5, Index: 0, EndOfTransfer: false, Payload: []byte("aaaaaaaa")})
	res := r.Process(Frame{Timestamp: ts(20 * time.Millisecond), TransferID: 5, Index: 1, EndOfTransfer: true, Payload: []byte("bb")})
	if res.Err != ErrMultiframeMissingFrames {
		t.Fatalf("err = %v, want ErrMultiframeMissingFrames", res.Err)
	}
}

func TestReassembler_EmptyNonTerminalFrameRejected(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	res := r.Process(Frame{Timestamp: ts(0), TransferID: 1, Index: 0, EndOfTransfer: false, Payload: nil})
	if res.Err != ErrMultiframeEmptyFrame {
		t.Fatalf("err = %v, want ErrMultiframeEmptyFrame", res.Err)
	}
}

func TestReassembler_OlderTransferIDIgnoredMidReassembly(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	whole := withCRC([]byte("0123456789abcdef"))
	chunks := [][]byte{whole[0:8], whole[8:16], whole[16:]}

	// Start transfer 11, then let a stale, already-superseded transfer 10
	// SOT frame arrive mid-reassembly. It must be dropped without wiping
	// the buffered payload of the newer transfer.
	r.Process(Frame{Timestamp: ts(0), TransferID: 11, Index: 0, EndOfTransfer: false, Payload: chunks[0]})
	stale := r.Process(Frame{Timestamp: ts(0), TransferID: 10, Index: 0, EndOfTransfer: false, Payload: []byte("stale")})
	if stale.Err != ErrNone || stale.Transfer != nil {
		t.Fatalf("stale frame result = %+v, want no-op", stale)
	}
	r.Process(Frame{Timestamp: ts(0), TransferID: 11, Index: 1, EndOfTransfer: false, Payload: chunks[1]})
	final := r.Process(Frame{Timestamp: ts(0), TransferID: 11, Index: 2, EndOfTransfer: true, Payload: chunks[2]})

	if final.Err != ErrNone || final.Transfer == nil {
		t.Fatalf("unexpected final result: %+v", final)
	}
	if string(final.Transfer.Fragments[0]) != "0123456789abcdef" {
		t.Fatalf("payload = %q", final.Transfer.Fragments[0])
	}
}

func TestReassembler_EOTInconsistent(t *testing.T) {
	r := NewReassembler(nil, time.Second, 1024)
	r.Process(Frame{Timestamp: ts(0), TransferID: 9, Index: 2, EndOfTransfer: true, Payload: []byte("x")})
	res := r.Process(Frame{Timestamp: ts(0), TransferID: 9, Index: 3, EndOfTransfer: true, Payload: []byte("y")})
	if res.Err != ErrMultiframeEOTInconsistent {
		t.Fatalf("err = %v, want ErrMultiframeEOTInconsistent", res.Err)
	}
}

func TestSerialize_RoundTripsThroughReassembler(t *testing.T) {
	payload := []byte("a payload long enough to span several frames of small size")
	chunks, err := Serialize([][]byte{payload}, 8)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	r := NewReassembler(nil, time.Second, 1024)
	var final Result
	for i, c := range chunks {
		final = r.Process(Frame{Timestamp: ts(0), TransferID: 1, Index: uint32(i), EndOfTransfer: i == len(chunks)-1, Payload: c})
	}
	if final.Transfer == nil || string(final.Transfer.Fragments[0]) != string(payload) {
		t.Fatalf("round trip mismatch: %+v", final)
	}
}
