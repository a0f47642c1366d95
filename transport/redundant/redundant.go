package redundant

import (
	"context"
	"errors"
	"sync"
	"time"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/capture"
	"github.com/opencyphal-go/transport/internal/metrics"
)

// MonotonicTransferIDModuloThreshold is the dividing line between a "cyclic"
// transfer-ID counter (expected to wrap routinely, e.g. CAN's 5-bit modulo)
// and a "monotonic" one (wide enough that it will not realistically wrap
// within the system's lifetime, e.g. a 64-bit serial counter). The
// deduplication strategy for a redundant group is chosen from this, not
// configured directly.
const MonotonicTransferIDModuloThreshold = uint64(1) << 48

// DefaultTransferIDTimeout bounds how long a redundant session keeps
// preferring the interface it last saw traffic on before allowing another
// inferior to take over (cyclic strategy), or how long a remote node may go
// silent before its transfer-ID counter is assumed to have restarted
// (monotonic strategy).
const DefaultTransferIDTimeout = time.Second

// ErrInferiorAlreadyAttached is returned by AttachInferior for a transport
// that is already a member of the group.
var ErrInferiorAlreadyAttached = errors.New("redundant: transport is already an inferior of this group")

// ErrInferiorNotAttached is returned by DetachInferior for a transport that
// is not a member of the group.
var ErrInferiorNotAttached = errors.New("redundant: transport is not an inferior of this group")

// ErrInconsistentInferior is returned by AttachInferior when the new
// transport's node-ID or transfer-ID modulo is incompatible with the
// group's existing inferiors.
var ErrInconsistentInferior = errors.New("redundant: inconsistent inferior configuration")

type rowKey struct {
	spec roottransport.SessionSpecifier
}

// Transport composes several concrete transports into one. Every outgoing
// transfer is sent over every inferior; every incoming transfer is
// deduplicated across inferiors before being delivered once to the
// application.
type Transport struct {
	mu                sync.Mutex
	inferiors         []roottransport.Transport
	inferiorIDs       map[roottransport.Transport]int
	nextInferiorID    int
	inputRows         map[rowKey]*redundantInputSession
	outputRows        map[rowKey]*redundantOutputSession
	captureHandlers   []capture.Callback
	transferIDTimeout time.Duration
}

// NewTransport constructs an empty redundant transport with no inferiors.
func NewTransport() *Transport {
	return &Transport{
		inferiorIDs:       make(map[roottransport.Transport]int),
		inputRows:         make(map[rowKey]*redundantInputSession),
		outputRows:        make(map[rowKey]*redundantOutputSession),
		transferIDTimeout: DefaultTransferIDTimeout,
	}
}

// TransferIDTimeout returns the deduplication timeout currently in effect.
func (t *Transport) TransferIDTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferIDTimeout
}

// SetTransferIDTimeout overrides the deduplication timeout used for every
// row of the session matrix.
func (t *Transport) SetTransferIDTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferIDTimeout = d
}

// Inferiors returns a snapshot of the currently attached inferior
// transports, in attachment order.
func (t *Transport) Inferiors() []roottransport.Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]roottransport.Transport, len(t.inferiors))
	copy(out, t.inferiors)
	return out
}

func (t *Transport) LocalNodeID() *uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inferiors) == 0 {
		return nil
	}
	return t.inferiors[0].LocalNodeID()
}

// ProtocolParameters aggregates every inferior's parameters by taking the
// element-wise minimum (the weakest inferior bounds the group as a whole).
// With no inferiors attached, the result is the zero value.
func (t *Transport) ProtocolParameters() roottransport.ProtocolParameters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.aggregateProtocolParametersLocked()
}

func (t *Transport) aggregateProtocolParametersLocked() roottransport.ProtocolParameters {
	if len(t.inferiors) == 0 {
		return roottransport.ProtocolParameters{}
	}
	agg := t.inferiors[0].ProtocolParameters()
	for _, inf := range t.inferiors[1:] {
		pp := inf.ProtocolParameters()
		if pp.TransferIDModulo < agg.TransferIDModulo {
			agg.TransferIDModulo = pp.TransferIDModulo
		}
		if pp.MaxSingleFramePayload < agg.MaxSingleFramePayload {
			agg.MaxSingleFramePayload = pp.MaxSingleFramePayload
		}
		if pp.MTU < agg.MTU {
			agg.MTU = pp.MTU
		}
	}
	return agg
}

// AttachInferior adds transport to the redundant group, opening an inferior
// session on it for every row of the session matrix already in use. If
// opening any such session fails, the new inferior is rolled back out of
// the group entirely (the matrix is left exactly as it was).
func (t *Transport) AttachInferior(inf roottransport.Transport) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, existing := range t.inferiors {
		if existing == inf {
			return ErrInferiorAlreadyAttached
		}
	}
	if len(t.inferiors) > 0 {
		if !sameNodeID(t.inferiors[0].LocalNodeID(), inf.LocalNodeID()) {
			return ErrInconsistentInferior
		}
		agg := t.aggregateProtocolParametersLocked()
		newModulo := inf.ProtocolParameters().TransferIDModulo
		if agg.TransferIDModulo < MonotonicTransferIDModuloThreshold {
			if newModulo < MonotonicTransferIDModuloThreshold && newModulo != agg.TransferIDModulo {
				return ErrInconsistentInferior
			}
		} else if newModulo < MonotonicTransferIDModuloThreshold {
			return ErrInconsistentInferior
		}
	}

	for _, cb := range t.captureHandlers {
		if cb != nil {
			_, _ = inf.BeginCapture(cb)
		}
	}
	t.inferiors = append(t.inferiors, inf)
	id := t.nextInferiorID
	t.nextInferiorID++
	t.inferiorIDs[inf] = id

	modulo := inf.ProtocolParameters().TransferIDModulo
	for key, row := range t.inputRows {
		in, err := inf.InputSession(key.spec, row.meta)
		if err != nil {
			t.detachLocked(inf)
			return err
		}
		row.addInferior(inf, id, in, modulo)
	}
	for key, row := range t.outputRows {
		out, err := inf.OutputSession(key.spec, row.meta)
		if err != nil {
			t.detachLocked(inf)
			return err
		}
		row.addInferior(inf, out)
	}
	return nil
}

// DetachInferior removes transport from the group, closing every session it
// opened on it. The inferior transport itself is not closed; the caller
// owns its lifecycle.
func (t *Transport) DetachInferior(inf roottransport.Transport) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	found := false
	for _, existing := range t.inferiors {
		if existing == inf {
			found = true
			break
		}
	}
	if !found {
		return ErrInferiorNotAttached
	}
	t.detachLocked(inf)
	return nil
}

func (t *Transport) detachLocked(inf roottransport.Transport) {
	idx := -1
	for i, existing := range t.inferiors {
		if existing == inf {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	for _, row := range t.inputRows {
		row.removeInferior(inf)
	}
	for _, row := range t.outputRows {
		row.removeInferior(inf)
	}
	delete(t.inferiorIDs, inf)
	t.inferiors = append(t.inferiors[:idx], t.inferiors[idx+1:]...)
}

func sameNodeID(a, b *uint16) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (t *Transport) OutputSession(spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) (roottransport.OutputSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := rowKey{spec: spec}
	if row, ok := t.outputRows[key]; ok {
		return row, nil
	}
	row := newRedundantOutputSession(t, spec, meta)
	for _, inf := range t.inferiors {
		out, err := inf.OutputSession(spec, meta)
		if err != nil {
			return nil, err
		}
		row.addInferior(inf, out)
	}
	t.outputRows[key] = row
	return row, nil
}

func (t *Transport) InputSession(spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) (roottransport.InputSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := rowKey{spec: spec}
	if row, ok := t.inputRows[key]; ok {
		return row, nil
	}
	row := newRedundantInputSession(t, spec, meta)
	for _, inf := range t.inferiors {
		in, err := inf.InputSession(spec, meta)
		if err != nil {
			row.closeLocked()
			return nil, err
		}
		row.addInferior(inf, t.inferiorIDs[inf], in, inf.ProtocolParameters().TransferIDModulo)
	}
	t.inputRows[key] = row
	return row, nil
}

func (t *Transport) retireInput(key rowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inputRows, key)
}

func (t *Transport) retireOutput(key rowKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.outputRows, key)
}

func (t *Transport) BeginCapture(cb capture.Callback) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captureHandlers = append(t.captureHandlers, cb)
	idx := len(t.captureHandlers) - 1
	var cancels []func()
	for _, inf := range t.inferiors {
		cancel, err := inf.BeginCapture(cb)
		if err == nil && cancel != nil {
			cancels = append(cancels, cancel)
		}
	}
	return func() {
		t.mu.Lock()
		if idx < len(t.captureHandlers) {
			t.captureHandlers[idx] = nil
		}
		t.mu.Unlock()
		for _, c := range cancels {
			c()
		}
	}, nil
}

// Spoof propagates tr to every inferior. It succeeds if at least one
// inferior accepts it (a single failed inferior should not prevent
// diagnostic fault injection over the rest of the group); failures are
// counted per inferior and otherwise swallowed.
func (t *Transport) Spoof(ctx context.Context, tr roottransport.AlienTransfer) error {
	t.mu.Lock()
	infs := make([]roottransport.Transport, len(t.inferiors))
	copy(infs, t.inferiors)
	t.mu.Unlock()

	if len(infs) == 0 {
		return errors.New("redundant: no inferiors attached")
	}
	var lastErr error
	succeeded := false
	for i, inf := range infs {
		if err := inf.Spoof(ctx, tr); err != nil {
			lastErr = err
			metrics.IncRedundantInferiorFailure(inferiorLabel(i))
			continue
		}
		succeeded = true
	}
	if !succeeded {
		return lastErr
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	rows := make([]interface{ Close() error }, 0, len(t.inputRows)+len(t.outputRows))
	for _, row := range t.inputRows {
		rows = append(rows, row)
	}
	for _, row := range t.outputRows {
		rows = append(rows, row)
	}
	infs := make([]roottransport.Transport, len(t.inferiors))
	copy(infs, t.inferiors)
	t.inferiors = nil
	t.inputRows = make(map[rowKey]*redundantInputSession)
	t.outputRows = make(map[rowKey]*redundantOutputSession)
	t.mu.Unlock()

	var firstErr error
	for _, row := range rows {
		if err := row.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, inf := range infs {
		if err := inf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func inferiorLabel(i int) string {
	const letters = "0123456789"
	if i < len(letters) {
		return letters[i : i+1]
	}
	return "n"
}

var _ roottransport.Transport = (*Transport)(nil)
