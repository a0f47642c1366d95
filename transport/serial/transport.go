package serial

import (
	"context"
	"errors"
	"sync"
	"time"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/capture"
	"github.com/opencyphal-go/transport/internal/queue"
	"github.com/opencyphal-go/transport/internal/logging"
	"github.com/opencyphal-go/transport/internal/metrics"
	"github.com/opencyphal-go/transport/transport/hot"
)

// ErrTxOverflow is returned by OutputSession.Send when the transport's
// transmit queue is full.
var ErrTxOverflow = errors.New("serial: transmit queue overflow")

// DefaultTransferIDTimeout bounds how long an in-progress multi-frame serial
// transfer waits for its remaining frames.
const DefaultTransferIDTimeout = time.Second

// readChunkSize is the buffer size used by the background reader goroutine.
const readChunkSize = 256

type sessionKey struct {
	spec roottransport.SessionSpecifier
}

type sessionState struct {
	spec      roottransport.SessionSpecifier
	meta      roottransport.PayloadMetadata
	ch        chan roottransport.TransferFrom
	receivers map[uint16]*hot.Reassembler
}

// Transport implements transport.Transport over a serial Media using
// COBS-delimited frames and the generic high-overhead-transport reassembler.
type Transport struct {
	media       Media
	localNodeID *uint16
	mtuBytes    int

	mu        sync.RWMutex
	receivers map[sessionKey]*sessionState
	captures  []capture.Callback
	txQueue   *queue.AsyncTx[[]byte]
	parser    *StreamParser

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewTransport constructs a serial transport over media. localNodeID is nil
// for an anonymous node.
func NewTransport(media Media, localNodeID *uint16, mtuBytes int) *Transport {
	if mtuBytes <= 0 {
		mtuBytes = 1 << 12
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		media:       media,
		localNodeID: localNodeID,
		mtuBytes:    mtuBytes,
		receivers:   make(map[sessionKey]*sessionState),
		ctx:         ctx,
		cancel:      cancel,
	}
	t.parser = NewStreamParser(t.onBlock)
	t.txQueue = queue.New[[]byte](ctx, 256, func(wire []byte) error {
		_, err := media.Write(wire)
		return err
	}, queue.Hooks[[]byte]{
		OnError: func([]byte, error) { metrics.IncError(metrics.ErrSerialWrite) },
		OnAfter: func([]byte) { metrics.IncFramesTx("serial") },
		OnDrop: func([]byte) error {
			metrics.IncError(metrics.ErrSerialOverflow)
			metrics.IncTxOverflow("serial")
			return ErrTxOverflow
		},
	})
	t.wg.Add(1)
	go t.readLoop()
	return t
}

func (t *Transport) LocalNodeID() *uint16 { return t.localNodeID }

func (t *Transport) ProtocolParameters() roottransport.ProtocolParameters {
	return roottransport.ProtocolParameters{
		TransferIDModulo:      1<<64 - 1,
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
		return nil, errors.New("serial: session already open for this specifier")
	}
	st := &sessionState{
		spec:      spec,
		meta:      meta,
		ch:        make(chan roottransport.TransferFrom, 64),
		receivers: make(map[uint16]*hot.Reassembler),
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
	return t.sendTransfer(ctx, tr.DataSpecifier, tr.DestinationNode, tr.Priority, tr.TransferID, tr.Fragments)
}

func (t *Transport) sendTransfer(ctx context.Context, ds roottransport.DataSpecifier, dest *uint16, priority roottransport.Priority, transferID uint64, fragments [][]byte) error {
	chunks, err := hot.Serialize(fragments, t.mtuBytes)
	if err != nil {
		return err
	}
	for i, chunk := range chunks {
		fr := Frame{
			Priority:          priority,
			SourceNodeID:      t.localNodeID,
			DestinationNodeID: dest,
			DataSpecifier:     ds,
			TransferID:        transferID,
			Index:             uint32(i),
			EndOfTransfer:     i == len(chunks)-1,
			Payload:           chunk,
		}
		wire := fr.Compile()
		if err := t.txQueue.Push(wire); err != nil {
			return err
		}
	}
	metrics.IncTransfersTx("serial")
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

func (t *Transport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, readChunkSize)
	backoff := 20 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		n, err := t.media.Read(buf)
		if err != nil {
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serial_read_error", "error", err)
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
		if n > 0 {
			t.parser.Feed(buf[:n], time.Now())
		}
	}
}

func (t *Transport) onBlock(block ParsedBlock) {
	t.mu.RLock()
	for _, cb := range t.captures {
		if cb != nil {
			cb(capture.Event{Timestamp: capture.Timestamp(block.Timestamp), TransportName: "serial", Raw: block})
		}
	}
	t.mu.RUnlock()

	if block.Frame == nil {
		metrics.IncReassemblyError("serial", "unparseable_block")
		return
	}
	metrics.IncFramesRx("serial")
	f := *block.Frame

	t.mu.RLock()
	var match *sessionState
	for _, st := range t.receivers {
		if serialSessionMatches(st.spec, f) {
			match = st
			break
		}
	}
	t.mu.RUnlock()
	if match == nil {
		return
	}

	var key uint16
	if f.SourceNodeID != nil {
		key = *f.SourceNodeID
	}
	t.mu.Lock()
	recv, ok := match.receivers[key]
	if !ok {
		recv = hot.NewReassembler(f.SourceNodeID, DefaultTransferIDTimeout, match.meta.ExtentBytes)
		match.receivers[key] = recv
	}
	t.mu.Unlock()

	res := recv.Process(hot.Frame{
		Timestamp:     block.Timestamp,
		Priority:      f.Priority,
		TransferID:    f.TransferID,
		Index:         f.Index,
		EndOfTransfer: f.EndOfTransfer,
		Payload:       f.Payload,
	})
	if res.Err != hot.ErrNone {
		metrics.IncReassemblyError("serial", res.Err.String())
		return
	}
	if res.Transfer != nil {
		metrics.IncTransfersRx("serial")
		select {
		case match.ch <- *res.Transfer:
		default:
			metrics.IncTxOverflow("serial")
		}
	}
}

func serialSessionMatches(spec roottransport.SessionSpecifier, f Frame) bool {
	if spec.DataSpecifier != f.DataSpecifier {
		return false
	}
	if spec.RemoteNodeID != nil {
		if f.SourceNodeID == nil || *spec.RemoteNodeID != *f.SourceNodeID {
			return false
		}
	}
	return true
}

var _ roottransport.Transport = (*Transport)(nil)
