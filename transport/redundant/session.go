package redundant

import (
	"context"
	"errors"
	"sync"

	roottransport "github.com/opencyphal-go/transport"
	"github.com/opencyphal-go/transport/internal/metrics"
)

// ErrNoInferiors is returned by a redundant session's Send when the group
// has no attached inferiors to fan out over.
var ErrNoInferiors = errors.New("redundant: no inferiors attached")

type redundantOutputSession struct {
	mu        sync.Mutex
	transport *Transport
	spec      roottransport.SessionSpecifier
	meta      roottransport.PayloadMetadata
	inferiors map[roottransport.Transport]roottransport.OutputSession
	closed    bool
}

func newRedundantOutputSession(t *Transport, spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) *redundantOutputSession {
	return &redundantOutputSession{
		transport: t,
		spec:      spec,
		meta:      meta,
		inferiors: make(map[roottransport.Transport]roottransport.OutputSession),
	}
}

func (s *redundantOutputSession) addInferior(inf roottransport.Transport, out roottransport.OutputSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inferiors[inf] = out
}

func (s *redundantOutputSession) removeInferior(inf roottransport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.inferiors[inf]; ok {
		_ = out.Close()
		delete(s.inferiors, inf)
	}
}

func (s *redundantOutputSession) Specifier() roottransport.SessionSpecifier { return s.spec }

func (s *redundantOutputSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sessions := make([]roottransport.OutputSession, 0, len(s.inferiors))
	for _, out := range s.inferiors {
		sessions = append(sessions, out)
	}
	s.inferiors = make(map[roottransport.Transport]roottransport.OutputSession)
	s.mu.Unlock()

	s.transport.retireOutput(rowKey{spec: s.spec})
	var firstErr error
	for _, out := range sessions {
		if err := out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Send fans tr out to every attached inferior and waits for each of them to
// return. It succeeds if at least one inferior accepts the transfer; a single
// down link should not block the whole group from delivering it over the
// others. With no inferior attached it returns ErrNoInferiors at once.
func (s *redundantOutputSession) Send(ctx context.Context, tr roottransport.Transfer) error {
	s.mu.Lock()
	sessions := make([]roottransport.OutputSession, 0, len(s.inferiors))
	for _, out := range s.inferiors {
		sessions = append(sessions, out)
	}
	s.mu.Unlock()

	if len(sessions) == 0 {
		return ErrNoInferiors
	}

	type result struct {
		err error
	}
	results := make(chan result, len(sessions))
	for i, out := range sessions {
		go func(i int, out roottransport.OutputSession) {
			err := out.Send(ctx, tr)
			if err != nil {
				metrics.IncRedundantInferiorFailure(inferiorLabel(i))
			}
			results <- result{err: err}
		}(i, out)
	}

	var lastErr error
	succeeded := false
	for range sessions {
		r := <-results
		if r.err == nil {
			succeeded = true
		} else {
			lastErr = r.err
		}
	}
	if !succeeded {
		return lastErr
	}
	return nil
}

var _ roottransport.OutputSession = (*redundantOutputSession)(nil)

type riEntry struct {
	session roottransport.InputSession
	ifaceID int
	cancel  context.CancelFunc
}

type redundantInputSession struct {
	mu        sync.Mutex
	transport *Transport
	spec      roottransport.SessionSpecifier
	meta      roottransport.PayloadMetadata
	ctx       context.Context
	cancel    context.CancelFunc
	ch        chan roottransport.TransferFrom
	dedup     Deduplicator
	strategy  string
	entries   map[roottransport.Transport]*riEntry
	wg        sync.WaitGroup
	closed    bool
}

func newRedundantInputSession(t *Transport, spec roottransport.SessionSpecifier, meta roottransport.PayloadMetadata) *redundantInputSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &redundantInputSession{
		transport: t,
		spec:      spec,
		meta:      meta,
		ctx:       ctx,
		cancel:    cancel,
		ch:        make(chan roottransport.TransferFrom),
		entries:   make(map[roottransport.Transport]*riEntry),
	}
}

func (s *redundantInputSession) addInferior(inf roottransport.Transport, ifaceID int, in roottransport.InputSession, modulo uint64) {
	s.mu.Lock()
	if s.dedup == nil {
		if modulo < MonotonicTransferIDModuloThreshold {
			s.dedup = NewCyclicDeduplicator()
			s.strategy = "cyclic"
		} else {
			s.dedup = NewMonotonicDeduplicator()
			s.strategy = "monotonic"
		}
	}
	childCtx, childCancel := context.WithCancel(s.ctx)
	entry := &riEntry{session: in, ifaceID: ifaceID, cancel: childCancel}
	s.entries[inf] = entry
	s.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(childCtx, entry)
}

func (s *redundantInputSession) readLoop(ctx context.Context, entry *riEntry) {
	defer s.wg.Done()
	for {
		tr, err := entry.session.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		// Fetched without holding s.mu: Transport.TransferIDTimeout only ever
		// takes the transport lock, never the session lock, so taking it
		// first here avoids a lock-order inversion against AttachInferior
		// (which takes the transport lock then the session lock).
		timeout := s.transport.TransferIDTimeout()

		s.mu.Lock()
		dedup, strategy := s.dedup, s.strategy
		accept := dedup == nil || dedup.ShouldAccept(entry.ifaceID, timeout, tr.Timestamp, tr.SourceNodeID, tr.TransferID)
		s.mu.Unlock()
		if !accept {
			metrics.IncRedundantDuplicateDropped(strategy)
			continue
		}

		select {
		case s.ch <- tr:
		case <-ctx.Done():
			return
		}
	}
}

func (s *redundantInputSession) removeInferior(inf roottransport.Transport) {
	s.mu.Lock()
	entry, ok := s.entries[inf]
	if ok {
		delete(s.entries, inf)
	}
	s.mu.Unlock()
	if ok {
		entry.cancel()
		_ = entry.session.Close()
	}
}

func (s *redundantInputSession) Specifier() roottransport.SessionSpecifier { return s.spec }

func (s *redundantInputSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.transport.retireInput(rowKey{spec: s.spec})
	return s.closeLocked()
}

// closeLocked tears the row down without touching the transport's row
// registry; used both by Close and by InputSession's rollback path when an
// inferior session fails to open mid-construction.
func (s *redundantInputSession) closeLocked() error {
	s.cancel()
	s.mu.Lock()
	entries := make([]*riEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.entries = make(map[roottransport.Transport]*riEntry)
	s.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if err := e.session.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.wg.Wait()
	return firstErr
}

func (s *redundantInputSession) Receive(ctx context.Context) (roottransport.TransferFrom, error) {
	select {
	case tr := <-s.ch:
		return tr, nil
	case <-ctx.Done():
		return roottransport.TransferFrom{}, ctx.Err()
	case <-s.ctx.Done():
		return roottransport.TransferFrom{}, s.ctx.Err()
	}
}

var _ roottransport.InputSession = (*redundantInputSession)(nil)
