package can

import (
	"context"
	"fmt"
	"sync"
	"time"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/capture"
	"github.com/opencyphal-go/transport/internal/queue"
	"github.com/opencyphal-go/transport/internal/logging"
	"github.com/opencyphal-go/transport/internal/metrics"
)

// DefaultTransferIDTimeout bounds how long an in-progress multi-frame CAN
// transfer waits for its remaining frames.
const DefaultTransferIDTimeout = time.Second

// monotonicEpoch anchors the Monotonic field of receive timestamps.
var monotonicEpoch = time.Now()

// Transport implements transport.Transport over a CAN Media.
type Transport struct {
	media       Media
	localNodeID *uint16
	mtuBytes    int // payload bytes per frame, excluding the tail byte (7 for classic CAN)

	mu                sync.RWMutex
	receivers         map[sessionKey]*sessionState
	captures          []capture.Callback
	txQueue           *queue.AsyncTx[outgoingFrame]
	transferIDTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

type sessionKey struct {
	spec roottransport.SessionSpecifier
}

type outgoingFrame struct {
	identifier uint32
	data       []byte
}

type sessionState struct {
	spec       roottransport.SessionSpecifier
	meta       roottransport.PayloadMetadata
	ch         chan roottransport.TransferFrom
	receivers  map[uint16]*TransferReceiver // keyed by remote node-id; promiscuous sessions track many
}

// NewTransport constructs a CAN transport over media. localNodeID is nil for
// an anonymous node, which can send only single-frame message transfers.
func NewTransport(media Media, localNodeID *uint16, mtuBytes int) *Transport {
	if mtuBytes <= 0 {
		mtuBytes = 7
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		media:             media,
		localNodeID:       localNodeID,
		mtuBytes:          mtuBytes,
		receivers:         make(map[sessionKey]*sessionState),
		ctx:               ctx,
		cancel:            cancel,
		transferIDTimeout: DefaultTransferIDTimeout,
	}
	t.txQueue = queue.New[outgoingFrame](ctx, 256, func(f outgoingFrame) error {
		return media.Send(f.identifier, f.data)
	}, queue.Hooks[outgoingFrame]{
		OnError: func(outgoingFrame, error) { metrics.IncError(metrics.ErrCANWrite) },
		OnAfter: func(outgoingFrame) { metrics.IncFramesTx("can") },
		OnDrop: func(outgoingFrame) error {
			metrics.IncError(metrics.ErrCANOverflow)
			metrics.IncTxOverflow("can")
			return ErrTxOverflow
		},
	})
	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Transport) LocalNodeID() *uint16 { return t.localNodeID }

// SetTransferIDTimeout updates the timeout applied to receivers created for
// future sessions. Receivers already constructed keep the timeout they were
// given; use TransferReceiver.SetTransferIDTimeout directly to retune one
// already in flight (as Tracer does for its per-source auto-tuned timeout).
func (t *Transport) SetTransferIDTimeout(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transferIDTimeout = d
}

func (t *Transport) ProtocolParameters() roottransport.ProtocolParameters {
	return roottransport.ProtocolParameters{
		TransferIDModulo:      TransferIDModulo,
		MaxSingleFramePayload: uint32(t.mtuBytes),
		MTU:                   uint32(t.mtuBytes),
	}
}

func (t *Transport) OutputSession(spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) (roottransport.OutputSession, error) {
	if t.localNodeID == nil && spec.DataSpecifier.IsService {
		return nil, roottransport.ErrOperationNotDefinedForAnonymous
	}
	return &outputSession{transport: t, spec: spec, meta: meta}, nil
}

func (t *Transport) InputSession(spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) (roottransport.InputSession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := sessionKey{spec: spec}
	if _, exists := t.receivers[key]; exists {
		return nil, fmt.Errorf("can: %w: session already open for %+v", roottransport.ErrUnsupportedSessionConfiguration, spec)
	}
	st := &sessionState{
		spec:      spec,
		meta:      meta,
		ch:        make(chan roottransport.TransferFrom, 64),
		receivers: make(map[uint16]*TransferReceiver),
	}
	t.receivers[key] = st
	return &inputSession{transport: t, key: key, state: st}, nil
}

func (t *Transport) BeginCapture(cb capture.Callback) (func(), error) {
	t.mu.Lock()
	t.captures = append(t.captures, cb)
	idx := len(t.captures) - 1
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if idx < len(t.captures) {
			t.captures[idx] = nil
		}
	}, nil
}

func (t *Transport) Spoof(ctx context.Context, tr roottransport.AlienTransfer) error {
	if t.localNodeID == nil {
		return roottransport.ErrOperationNotDefinedForAnonymous
	}
	chunks, err := SerializeCAN(tr.Fragments, t.mtuBytes)
	if err != nil {
		return err
	}
	id := Identifier{Priority: uint8(tr.Priority), SubjectID: tr.DataSpecifier.ID, SourceNodeID: tr.SourceNodeID}
	if tr.DataSpecifier.IsService {
		id.IsServiceFrame = true
		id.IsRequest = tr.DataSpecifier.IsRequest
		id.ServiceID = tr.DataSpecifier.ID
		id.DestinationNodeID = tr.DestinationNode
	}
	raw, err := id.Compile()
	if err != nil {
		return err
	}
	return t.sendFrames(ctx, raw, chunks, uint8(tr.TransferID))
}

func (t *Transport) sendFrames(ctx context.Context, identifier uint32, chunks [][]byte, transferID uint8) error {
	toggle := true
	for i, c := range chunks {
		fr := Frame{
			Payload:         c,
			StartOfTransfer: i == 0,
			EndOfTransfer:   i == len(chunks)-1,
			Toggle:          toggle,
			TransferID:      transferID,
		}
		wire := fr.Compile()
		if err := t.txQueue.Push(outgoingFrame{identifier: identifier, data: wire}); err != nil {
			return err
		}
		toggle = !toggle
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.cancel()
	t.txQueue.Close()
	t.wg.Wait()
	return t.media.Close()
}

// readLoop is the transport's single background reader, one read thread
// per port. It applies a simple exponential backoff on repeated read
// errors so a wedged device doesn't spin the CPU.
func (t *Transport) readLoop() {
	defer t.wg.Done()
	backoff := 20 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		identifier, data, err := t.media.Receive()
		if err != nil {
			metrics.IncError(metrics.ErrCANRead)
			logging.L().Warn("can_read_error", "error", err)
			select {
			case <-time.After(backoff):
			case <-t.ctx.Done():
				return
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 20 * time.Millisecond
		metrics.IncFramesRx("can")
		t.dispatch(identifier, data)
	}
}

func (t *Transport) dispatch(identifier uint32, data []byte) {
	now := time.Now()
	ts := roottransport.Timestamp{System: now, Monotonic: now.Sub(monotonicEpoch)}
	id, err := Parse(identifier)
	if err != nil {
		metrics.IncReassemblyError("can", "bad_identifier")
		return
	}
	frame, err := ParseFrame(identifier, data)
	if err != nil {
		metrics.IncReassemblyError("can", "bad_frame")
		return
	}

	t.mu.RLock()
	for _, cb := range t.captures {
		if cb != nil {
			cb(capture.Event{Timestamp: capture.Timestamp(ts), TransportName: "can", Raw: struct {
				Identifier uint32
				Data       []byte
			}{identifier, data}})
		}
	}
	var match *sessionState
	for _, st := range t.receivers {
		if sessionMatches(st.spec, id) {
			match = st
			break
		}
	}
	t.mu.RUnlock()
	if match == nil {
		return
	}

	var srcPtr *uint16
	if id.SourceNodeID != nil {
		srcPtr = id.SourceNodeID
	}
	var key uint16
	if srcPtr != nil {
		key = *srcPtr
	}
	t.mu.Lock()
	recv, ok := match.receivers[key]
	if !ok {
		recv = NewTransferReceiver(srcPtr, match.meta.ExtentBytes, t.transferIDTimeout)
		match.receivers[key] = recv
	}
	t.mu.Unlock()

	priority := roottransport.Priority(id.Priority)
	res := recv.Process(ts, priority, frame)
	if res.Err != ErrNone {
		metrics.IncReassemblyError("can", res.Err.String())
		return
	}
	if res.Transfer != nil {
		metrics.IncTransfersRx("can")
		select {
		case match.ch <- *res.Transfer:
		default:
			metrics.IncTxOverflow("can")
		}
	}
}

var _ roottransport.Transport = (*Transport)(nil)

func sessionMatches(spec roottransport.SessionSpecifier, id Identifier) bool {
	if spec.DataSpecifier.IsService != id.IsServiceFrame {
		return false
	}
	if id.IsServiceFrame {
		if spec.DataSpecifier.IsRequest != id.IsRequest {
			return false
		}
		if spec.DataSpecifier.ID != id.ServiceID {
			return false
		}
	} else if spec.DataSpecifier.ID != id.SubjectID {
		return false
	}
	if spec.RemoteNodeID != nil {
		if id.SourceNodeID == nil || *spec.RemoteNodeID != *id.SourceNodeID {
			return false
		}
	}
	return true
}
