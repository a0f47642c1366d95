package can

import (
	"time"

	"github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/crc"
)

// transferCRCSize is the width, in bytes, of the trailing CRC-16/CCITT-FALSE
// appended to a multi-frame transfer.
const transferCRCSize = 2

// ReceptionError enumerates the ways an in-order CAN reassembler can reject
// a frame.
type ReceptionError int

const (
	ErrNone ReceptionError = iota
	// ErrMissedStartOfTransfer: a frame arrived mid-transfer before any
	// start-of-transfer frame was seen for it.
	ErrMissedStartOfTransfer
	// ErrUnexpectedToggleBit: a frame's toggle bit didn't alternate as
	// required.
	ErrUnexpectedToggleBit
	// ErrUnexpectedTransferID: a non-start frame's transfer-ID didn't match
	// the transfer in progress.
	ErrUnexpectedTransferID
	// ErrTransferCRCMismatch: the reassembled multi-frame payload's
	// trailing CRC-16/CCITT-FALSE did not validate.
	ErrTransferCRCMismatch
	// ErrPayloadTooLarge: the payload accumulated so far for a multi-frame
	// transfer (including its CRC trailer) exceeds the session's configured
	// extent plus the 2-byte CRC size; checked only when an extent is set.
	ErrPayloadTooLarge
)

func (e ReceptionError) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrMissedStartOfTransfer:
		return "missed_start_of_transfer"
	case ErrUnexpectedToggleBit:
		return "unexpected_toggle_bit"
	case ErrUnexpectedTransferID:
		return "unexpected_transfer_id"
	case ErrTransferCRCMismatch:
		return "transfer_crc_mismatch"
	case ErrPayloadTooLarge:
		return "payload_too_large"
	default:
		return "unknown"
	}
}

// ReceptionResult is returned for every frame folded into a TransferReceiver.
type ReceptionResult struct {
	Transfer *transport.TransferFrom
	Err      ReceptionError
}

// TransferReceiver reassembles a single remote node's in-order CAN frame
// stream into Transfers. Classic CAN's tail byte carries only a toggle bit
// (not a full frame index), so unlike transport/hot's reassembler, frames
// must arrive in order; any out-of-order or duplicate frame is rejected.
//
// Padding: a multi-frame transfer's final frame is assumed to contain only
// real payload bytes followed by the CRC-16 trailer, with no DLC padding —
// true for every classic-CAN (<=8 byte) frame, since DLC codes 0..8 require
// no rounding. CAN-FD frames whose real content does not already land on a
// valid DLC boundary are transmitted correctly (Frame.Compile still pads
// them) but this reassembler does not attempt to strip that padding back
// out.
type TransferReceiver struct {
	sourceNodeID      *uint16
	extentBytes       uint32
	transferIDTimeout time.Duration

	started    bool // false until the first frame has ever been accepted
	transferID uint8
	toggle     bool
	payload    []byte
	timestamp  transport.Timestamp // timestamp of the in-progress transfer's start-of-transfer frame
	priority   transport.Priority
}

// NewTransferReceiver constructs a receiver for one remote node.
// transferIDTimeout bounds how long the receiver waits for the next frame of
// an in-progress transfer before treating any subsequent frame as the start
// of a new one, regardless of transfer-ID continuity.
func NewTransferReceiver(sourceNodeID *uint16, extentBytes uint32, transferIDTimeout time.Duration) *TransferReceiver {
	return &TransferReceiver{sourceNodeID: sourceNodeID, extentBytes: extentBytes, transferIDTimeout: transferIDTimeout}
}

// SetTransferIDTimeout updates the timeout applied to future frames.
func (r *TransferReceiver) SetTransferIDTimeout(d time.Duration) {
	r.transferIDTimeout = d
}

// Process folds one already tail-parsed Frame into the receiver.
//
// A new transfer begins either when the current one has timed out (or no
// frame has been accepted yet), or when an incoming start-of-transfer
// frame's transfer-ID is neither the one currently expected nor the one just
// before it (a forward distance from the frame's transfer-ID to the expected
// one greater than 1). A start-of-transfer frame carrying the expected
// transfer-ID proceeds normally; one carrying the just-completed transfer-ID
// (distance 1) is a retransmission and is rejected rather than accepted as
// new.
func (r *TransferReceiver) Process(ts transport.Timestamp, priority transport.Priority, f Frame) ReceptionResult {
	timedOut := !r.started || (r.transferIDTimeout > 0 && ts.Monotonic-r.timestamp.Monotonic > r.transferIDTimeout)
	notPreviousTID := ComputeTransferIDForwardDistance(f.TransferID, r.transferID) > 1

	if timedOut || (f.StartOfTransfer && notPreviousTID) {
		r.transferID = f.TransferID
		r.toggle = f.Toggle
		if !f.StartOfTransfer {
			return ReceptionResult{Err: ErrMissedStartOfTransfer}
		}
	}

	if f.TransferID != r.transferID {
		return ReceptionResult{Err: ErrUnexpectedTransferID}
	}
	if f.Toggle != r.toggle {
		return ReceptionResult{Err: ErrUnexpectedToggleBit}
	}

	if f.StartOfTransfer {
		r.payload = r.payload[:0]
		r.timestamp = ts
		r.priority = priority
	}
	r.started = true
	r.toggle = !r.toggle
	r.payload = append(r.payload, f.Payload...)

	if f.EndOfTransfer {
		completedTID, fragment, singleFrame := r.transferID, r.payload, f.StartOfTransfer
		r.prepareForNextTransfer()
		return r.finalize(completedTID, fragment, singleFrame)
	}

	if r.extentBytes > 0 && uint32(len(r.payload)) > r.extentBytes+transferCRCSize {
		r.prepareForNextTransfer()
		return ReceptionResult{Err: ErrPayloadTooLarge}
	}
	return ReceptionResult{}
}

// prepareForNextTransfer advances the receiver to expect the next
// transfer-ID in sequence, clearing any partially reassembled payload.
func (r *TransferReceiver) prepareForNextTransfer() {
	r.transferID = (r.transferID + 1) % TransferIDModulo
	r.toggle = true
	r.payload = nil
}

func (r *TransferReceiver) finalize(tid uint8, payload []byte, singleFrame bool) ReceptionResult {
	if !singleFrame {
		if len(payload) < transferCRCSize {
			return ReceptionResult{Err: ErrTransferCRCMismatch}
		}
		c := crc.NewCRC16CCITTFalse()
		c.Add(payload)
		if !c.CheckResidue() {
			return ReceptionResult{Err: ErrTransferCRCMismatch}
		}
		payload = payload[:len(payload)-transferCRCSize]
	}
	if r.extentBytes > 0 && uint32(len(payload)) > r.extentBytes {
		payload = payload[:r.extentBytes]
	}
	return ReceptionResult{Transfer: &transport.TransferFrom{
		Transfer: transport.Transfer{
			Timestamp:  r.timestamp,
			Priority:   r.priority,
			TransferID: uint64(tid),
			Fragments:  [][]byte{payload},
		},
		SourceNodeID: r.sourceNodeID,
	}}
}

// SerializeCAN splits a transfer's payload into CAN frame payloads (each at
// most maxPayloadPerFrame bytes of data before the tail byte) and appends a
// CRC-16/CCITT-FALSE trailer when the result spans more than one frame,
// mirroring TransferReceiver's finalize asymmetry.
func SerializeCAN(fragments [][]byte, maxPayloadPerFrame int) ([][]byte, error) {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	if total <= maxPayloadPerFrame {
		return chunk(fragments, maxPayloadPerFrame)
	}
	c := crc.NewCRC16CCITTFalse()
	for _, f := range fragments {
		c.Add(f)
	}
	trailer := c.ValueAsBytes()
	withCRC := append(append([][]byte{}, fragments...), trailer[:])
	return chunk(withCRC, maxPayloadPerFrame)
}

func chunk(fragments [][]byte, size int) ([][]byte, error) {
	var whole []byte
	for _, f := range fragments {
		whole = append(whole, f...)
	}
	var out [][]byte
	for len(whole) > size {
		out = append(out, whole[:size])
		whole = whole[size:]
	}
	out = append(out, whole)
	return out, nil
}
