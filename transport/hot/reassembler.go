// Package hot implements the generic high-overhead-transport transfer
// reassembly and serialization algorithm shared by any transport whose
// frames carry a transfer-ID, a frame index, and an end-of-transfer flag
// (currently: transport/serial). CAN has its own lighter-weight in-order
// reassembler in transport/can because its tail byte only affords a toggle
// bit, not a full index.
package hot

import (
	"time"

	"github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/crc"
)

// Frame is the minimal shape a high-overhead-transport frame must expose to
// the reassembler.
type Frame struct {
	Timestamp     transport.Timestamp
	Priority      transport.Priority
	TransferID    uint64
	Index         uint32
	EndOfTransfer bool
	Payload       []byte
}

// Error enumerates the ways process_frame can reject a frame or abandon an
// in-progress transfer. These are reported to the caller for statistics;
// none of them are fatal to the reassembler itself.
type Error int

const (
	ErrNone Error = iota
	// ErrMultiframeMissingFrames: the transfer was abandoned because its
	// transfer-ID timeout elapsed before all frames arrived.
	ErrMultiframeMissingFrames
	// ErrMultiframeIntegrityError: the reassembled payload's trailing
	// CRC-32C did not validate.
	ErrMultiframeIntegrityError
	// ErrMultiframeEmptyFrame: a frame of a multi-frame transfer carried zero
	// payload bytes, which is never valid (every frame but a possible single empty
	// single-frame transfer must carry at least one byte).
	ErrMultiframeEmptyFrame
	// ErrMultiframeEOTMisplaced: a frame index beyond a previously observed
	// end-of-transfer index arrived for the same transfer.
	ErrMultiframeEOTMisplaced
	// ErrMultiframeEOTInconsistent: two different frames of the same
	// transfer both claimed end-of-transfer at different indices.
	ErrMultiframeEOTInconsistent
)

func (e Error) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrMultiframeMissingFrames:
		return "multiframe_missing_frames"
	case ErrMultiframeIntegrityError:
		return "multiframe_integrity_error"
	case ErrMultiframeEmptyFrame:
		return "multiframe_empty_frame"
	case ErrMultiframeEOTMisplaced:
		return "multiframe_eot_misplaced"
	case ErrMultiframeEOTInconsistent:
		return "multiframe_eot_inconsistent"
	default:
		return "unknown"
	}
}

// Result is returned by Reassembler.Process for every frame consumed.
type Result struct {
	// Transfer is non-nil when this frame completed a transfer.
	Transfer *transport.TransferFrom
	// Err is ErrNone unless this frame was rejected or caused an
	// in-progress transfer to be abandoned.
	Err Error
}

// Reassembler reconstructs Transfers from Frames belonging to a single
// remote node on a single session. It is not safe for concurrent use; each
// session owns one Reassembler per remote node it has seen frames from.
type Reassembler struct {
	sourceNodeID   *uint16
	transferIDTimeout time.Duration
	extentBytes    uint32

	active         bool
	transferID     uint64
	startedAt      transport.Timestamp
	priority       transport.Priority
	maxIndex       int32 // -1 until an EOT frame has been seen
	payloads       map[uint32][]byte
	received       uint32
}

// NewReassembler constructs a reassembler for the given remote node.
// transferIDTimeout bounds how long an incomplete transfer may wait for its
// remaining frames before being abandoned; extent bounds the payload size
// retained (implicit truncation, per PayloadMetadata.ExtentBytes).
func NewReassembler(sourceNodeID *uint16, transferIDTimeout time.Duration, extentBytes uint32) *Reassembler {
	return &Reassembler{
		sourceNodeID:      sourceNodeID,
		transferIDTimeout: transferIDTimeout,
		extentBytes:       extentBytes,
		maxIndex:          -1,
	}
}

// SetTransferIDTimeout updates the timeout applied to future frames,
// without disturbing any transfer currently in progress. Used by tracers
// that auto-tune the timeout from observed inter-arrival times.
func (r *Reassembler) SetTransferIDTimeout(d time.Duration) {
	r.transferIDTimeout = d
}

func (r *Reassembler) restart(f Frame) {
	r.restartAt(f.TransferID, f.Timestamp, f.Priority)
}

// restartAt resets reassembly state to expect the given transfer-ID, without
// requiring a Frame already bearing it. Used both for a frame that begins a
// new transfer and to advance past an aborted one (tid+1) so a later replay
// of the aborted transfer-ID is recognized as stale instead of restarting
// the state a second time.
func (r *Reassembler) restartAt(tid uint64, ts transport.Timestamp, prio transport.Priority) {
	r.active = true
	r.transferID = tid
	r.startedAt = ts
	r.priority = prio
	r.maxIndex = -1
	r.payloads = make(map[uint32][]byte)
	r.received = 0
}

// Process folds one frame into the reassembler's state. It returns a
// completed transfer when the frame was the last one needed, or an Error
// when the frame (or the transfer it belonged to) had to be dropped.
func (r *Reassembler) Process(f Frame) Result {
	if len(f.Payload) == 0 && !(f.Index == 0 && f.EndOfTransfer) {
		return Result{Err: ErrMultiframeEmptyFrame}
	}

	// A single-frame transfer needs no reassembly state at all.
	if f.Index == 0 && f.EndOfTransfer {
		r.active = false
		return Result{Transfer: r.finalize(f.Timestamp, f.Priority, f.TransferID, [][]byte{f.Payload}, false)}
	}

	timedOut := r.active && r.transferIDTimeout > 0 &&
		f.Timestamp.Monotonic-r.startedAt.Monotonic > r.transferIDTimeout

	// A frame bearing an older transfer-ID than the one currently being
	// reassembled is a stale or redundantly-delivered duplicate: drop it
	// without disturbing the in-progress transfer.
	if r.active && f.TransferID < r.transferID && !timedOut {
		return Result{}
	}

	var abandoned Error
	if !r.active || f.TransferID > r.transferID || timedOut {
		if r.active && timedOut {
			abandoned = ErrMultiframeMissingFrames
		}
		r.restart(f)
	}

	if f.EndOfTransfer {
		if r.maxIndex >= 0 && r.maxIndex != int32(f.Index) {
			r.restartAt(f.TransferID+1, f.Timestamp, f.Priority)
			return Result{Err: ErrMultiframeEOTInconsistent}
		}
		r.maxIndex = int32(f.Index)
	} else if r.maxIndex >= 0 && int32(f.Index) > r.maxIndex {
		r.restartAt(f.TransferID+1, f.Timestamp, f.Priority)
		return Result{Err: ErrMultiframeEOTMisplaced}
	}

	if _, dup := r.payloads[f.Index]; !dup {
		r.payloads[f.Index] = f.Payload
		r.received++
	}

	if r.maxIndex < 0 || r.received <= uint32(r.maxIndex) {
		if abandoned != ErrNone {
			return Result{Err: abandoned}
		}
		return Result{}
	}

	ordered := make([][]byte, r.maxIndex+1)
	for i := int32(0); i <= r.maxIndex; i++ {
		p, ok := r.payloads[uint32(i)]
		if !ok {
			if abandoned != ErrNone {
				return Result{Err: abandoned}
			}
			return Result{}
		}
		ordered[i] = p
	}

	startedAt, priority, tid := r.startedAt, r.priority, r.transferID
	r.active = false
	tr := r.finalize(startedAt, priority, tid, ordered, true)
	if tr == nil {
		return Result{Err: ErrMultiframeIntegrityError}
	}
	return Result{Transfer: tr}
}

// finalize concatenates fragments, validates and strips the trailing
// CRC-32C for multi-frame transfers, truncates to extentBytes, and wraps the
// result into a TransferFrom. It returns nil if CRC validation fails.
func (r *Reassembler) finalize(ts transport.Timestamp, prio transport.Priority, tid uint64, fragments [][]byte, hasCRC bool) *transport.TransferFrom {
	payload := DropCRC(fragments, hasCRC)
	if hasCRC && payload == nil {
		return nil
	}
	if uint32(len(payload)) > r.extentBytes && r.extentBytes > 0 {
		payload = payload[:r.extentBytes]
	}
	return &transport.TransferFrom{
		Transfer: transport.Transfer{
			Timestamp:  ts,
			Priority:   prio,
			TransferID: tid,
			Fragments:  [][]byte{payload},
		},
		SourceNodeID: r.sourceNodeID,
	}
}

// DropCRC concatenates fragments and, if hasCRC, validates and removes the
// trailing CRC-32C. It returns nil if hasCRC is true and validation fails,
// or if the concatenated payload is too short to even contain a CRC.
func DropCRC(fragments [][]byte, hasCRC bool) []byte {
	total := 0
	for _, f := range fragments {
		total += len(f)
	}
	whole := make([]byte, 0, total)
	for _, f := range fragments {
		whole = append(whole, f...)
	}
	if !hasCRC {
		return whole
	}
	if len(whole) < crc.Size32 {
		return nil
	}
	c := crc.NewCRC32C()
	c.Add(whole)
	if !c.CheckResidue() {
		return nil
	}
	return whole[:len(whole)-crc.Size32]
}
