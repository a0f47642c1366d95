// Package redundant composes several concrete transports (e.g. one CAN and
// one serial) into a single transport.Transport that transmits every
// outgoing transfer over all of them and deduplicates incoming transfers
// reported by more than one inferior.
package redundant

import (
	"time"

	roottransport "github.com/opencyphal-go/transport"
)

// Deduplicator decides whether a transfer observed on a particular inferior
// interface should be delivered to the application, or rejected as a
// duplicate already delivered via another inferior.
type Deduplicator interface {
	ShouldAccept(ifaceID int, transferIDTimeout time.Duration, ts roottransport.Timestamp, sourceNodeID *uint16, transferID uint64) bool
}

// CyclicDeduplicator is used when at least one inferior's transfer-ID
// counter is expected to wrap around (modulo below
// MonotonicTransferIDModuloThreshold): it tracks, per remote node, which
// interface was last seen delivering traffic, and only allows a different
// interface to take over once the previous one has been silent for longer
// than transferIDTimeout. This tolerates interface failover without relying
// on transfer-ID ordering, which a cyclic counter cannot provide reliably.
type CyclicDeduplicator struct {
	remote map[uint16]*cyclicRemoteState
}

type cyclicRemoteState struct {
	ifaceID       int
	lastTimestamp roottransport.Timestamp
}

// NewCyclicDeduplicator constructs an empty CyclicDeduplicator.
func NewCyclicDeduplicator() *CyclicDeduplicator {
	return &CyclicDeduplicator{remote: make(map[uint16]*cyclicRemoteState)}
}

func (d *CyclicDeduplicator) ShouldAccept(ifaceID int, transferIDTimeout time.Duration, ts roottransport.Timestamp, sourceNodeID *uint16, _ uint64) bool {
	if sourceNodeID == nil {
		// Anonymous transfers are stateless; always accepted (may duplicate).
		return true
	}
	key := *sourceNodeID
	state, ok := d.remote[key]
	if !ok {
		d.remote[key] = &cyclicRemoteState{ifaceID: ifaceID, lastTimestamp: ts}
		return true
	}

	delta := ts.Monotonic - state.lastTimestamp.Monotonic
	ifaceSwitchAllowed := transferIDTimeout <= 0 || delta > transferIDTimeout
	if !ifaceSwitchAllowed && state.ifaceID != ifaceID {
		return false
	}
	state.ifaceID = ifaceID
	state.lastTimestamp = ts
	return true
}

// MonotonicDeduplicator is used when every inferior's transfer-ID counter is
// wide enough that it will not realistically wrap (>= threshold): it tracks
// the highest transfer-ID seen per remote node and rejects anything not
// greater, unless the transfer-ID timeout has elapsed (a restarted remote
// node resets its counter).
type MonotonicDeduplicator struct {
	remote map[uint16]*monotonicRemoteState
}

type monotonicRemoteState struct {
	lastTransferID uint64
	lastTimestamp  roottransport.Timestamp
}

// NewMonotonicDeduplicator constructs an empty MonotonicDeduplicator.
func NewMonotonicDeduplicator() *MonotonicDeduplicator {
	return &MonotonicDeduplicator{remote: make(map[uint16]*monotonicRemoteState)}
}

func (d *MonotonicDeduplicator) ShouldAccept(_ int, transferIDTimeout time.Duration, ts roottransport.Timestamp, sourceNodeID *uint16, transferID uint64) bool {
	if sourceNodeID == nil {
		return true
	}
	key := *sourceNodeID
	state, ok := d.remote[key]
	if !ok {
		d.remote[key] = &monotonicRemoteState{lastTransferID: transferID, lastTimestamp: ts}
		return true
	}

	timedOut := transferIDTimeout > 0 && ts.Monotonic-state.lastTimestamp.Monotonic > transferIDTimeout
	if !timedOut && transferID <= state.lastTransferID {
		return false
	}
	state.lastTransferID = transferID
	state.lastTimestamp = ts
	return true
}

var (
	_ Deduplicator = (*CyclicDeduplicator)(nil)
	_ Deduplicator = (*MonotonicDeduplicator)(nil)
)
