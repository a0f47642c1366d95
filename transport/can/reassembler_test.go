package can

import (
	"testing"
	"time"

	"github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/crc"
)

func crc16Of(payload []byte) [2]byte {
	c := crc.NewCRC16CCITTFalse()
	c.Add(payload)
	return c.ValueAsBytes()
}

func TestTransferReceiver_SingleFrame(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	f := Frame{Payload: []byte("hi"), StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: 3}
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal, f)
	if res.Err != ErrNone || res.Transfer == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Transfer.Fragments[0]) != "hi" {
		t.Fatalf("payload = %q", res.Transfer.Fragments[0])
	}
}

func TestTransferReceiver_MultiFrame(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	payload := []byte("0123456789abcdef")
	c := crc16Of(payload)
	whole := append(append([]byte{}, payload...), c[:]...)

	chunk1, chunk2, chunk3 := whole[0:7], whole[7:14], whole[14:]
	r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: chunk1, StartOfTransfer: true, Toggle: true, TransferID: 9})
	r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: chunk2, Toggle: false, TransferID: 9})
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: chunk3, EndOfTransfer: true, Toggle: true, TransferID: 9})

	if res.Err != ErrNone || res.Transfer == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
	if string(res.Transfer.Fragments[0]) != string(payload) {
		t.Fatalf("payload = %q, want %q", res.Transfer.Fragments[0], payload)
	}
}

func TestTransferReceiver_MissedStartOfTransfer(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("x"), Toggle: true, TransferID: 1})
	if res.Err != ErrMissedStartOfTransfer {
		t.Fatalf("err = %v, want ErrMissedStartOfTransfer", res.Err)
	}
}

func TestTransferReceiver_UnexpectedToggle(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("abc"), StartOfTransfer: true, Toggle: true, TransferID: 1})
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("def"), Toggle: true, TransferID: 1}) // should have flipped to false
	if res.Err != ErrUnexpectedToggleBit {
		t.Fatalf("err = %v, want ErrUnexpectedToggleBit", res.Err)
	}
}

func TestTransferReceiver_UnexpectedTransferID(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("abc"), StartOfTransfer: true, Toggle: true, TransferID: 1})
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("def"), Toggle: false, TransferID: 2})
	if res.Err != ErrUnexpectedTransferID {
		t.Fatalf("err = %v, want ErrUnexpectedTransferID", res.Err)
	}
}

func TestTransferReceiver_CRCMismatch(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, time.Second)
	payload := []byte("0123456789abcdef")
	c := crc16Of(payload)
	whole := append(append([]byte{}, payload...), c[:]...)
	whole[len(whole)-1] ^= 0xFF

	r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: whole[0:9], StartOfTransfer: true, Toggle: true, TransferID: 4})
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: whole[9:], EndOfTransfer: true, Toggle: false, TransferID: 4})
	if res.Err != ErrTransferCRCMismatch {
		t.Fatalf("err = %v, want ErrTransferCRCMismatch", res.Err)
	}
}

func TestTransferReceiver_ImmediateDuplicateRejected(t *testing.T) {
	r := NewTransferReceiver(nil, 1024, 900*time.Nanosecond)
	mono := func(ns int64) transport.Timestamp { return transport.Timestamp{Monotonic: time.Duration(ns)} }
	f := func() Frame {
		return Frame{Payload: []byte("hello"), StartOfTransfer: true, EndOfTransfer: true, Toggle: true, TransferID: 0}
	}

	res := r.Process(mono(1000), transport.PriorityNominal, f())
	if res.Err != ErrNone || res.Transfer == nil {
		t.Fatalf("first frame: unexpected result %+v", res)
	}

	// The same transfer replayed immediately (e.g. a duplicated CAN frame)
	// must be rejected rather than delivered as a second transfer.
	dup := r.Process(mono(1000), transport.PriorityNominal, f())
	if dup.Err != ErrUnexpectedTransferID {
		t.Fatalf("duplicate frame err = %v, want ErrUnexpectedTransferID", dup.Err)
	}
	dup2 := r.Process(mono(1000), transport.PriorityNominal, f())
	if dup2.Err != ErrUnexpectedTransferID {
		t.Fatalf("second duplicate frame err = %v, want ErrUnexpectedTransferID", dup2.Err)
	}

	// Once the transfer-ID timeout has elapsed, the same transfer-ID is
	// accepted again as a fresh transfer.
	again := r.Process(mono(2000), transport.PriorityNominal, f())
	if again.Err != ErrNone || again.Transfer == nil {
		t.Fatalf("post-timeout frame: unexpected result %+v", again)
	}
	if string(again.Transfer.Fragments[0]) != "hello" {
		t.Fatalf("payload = %q", again.Transfer.Fragments[0])
	}
}

func TestTransferReceiver_PayloadTooLarge(t *testing.T) {
	r := NewTransferReceiver(nil, 4, time.Second)
	res := r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("abcd"), StartOfTransfer: true, Toggle: true, TransferID: 1})
	if res.Err != ErrNone {
		t.Fatalf("first frame err = %v, want ErrNone", res.Err)
	}
	// extentBytes(4) + CRC(2) = 6 bytes of headroom; this frame pushes the
	// accumulated payload to 7, past the limit.
	res = r.Process(transport.Timestamp{}, transport.PriorityNominal,
		Frame{Payload: []byte("efg"), Toggle: false, TransferID: 1})
	if res.Err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", res.Err)
	}
}

func TestSerializeCAN_RoundTrip(t *testing.T) {
	payload := []byte("a reasonably long payload that spans several CAN frames")
	chunks, err := SerializeCAN([][]byte{payload}, 7)
	if err != nil {
		t.Fatalf("SerializeCAN: %v", err)
	}
	r := NewTransferReceiver(nil, 1024, time.Second)
	var final ReceptionResult
	toggle := true
	for i, c := range chunks {
		final = r.Process(transport.Timestamp{}, transport.PriorityNominal, Frame{
			Payload:         c,
			StartOfTransfer: i == 0,
			EndOfTransfer:   i == len(chunks)-1,
			Toggle:          toggle,
			TransferID:      5,
		})
		toggle = !toggle
	}
	if final.Transfer == nil || string(final.Transfer.Fragments[0]) != string(payload) {
		t.Fatalf("round trip mismatch: %+v", final)
	}
}
