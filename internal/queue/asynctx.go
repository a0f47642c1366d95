// Package queue provides a reusable asynchronous, single-goroutine fan-in
// transmitter: producers enqueue items non-blockingly, a single worker
// goroutine drains them through a caller-supplied send function. Every
// concrete transport's OutputSession is built on one of these so that a
// slow or wedged media backend never blocks the application goroutine that
// called Send.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue: closed")

// Hooks let each backend keep its own metrics/logging without duplicating
// the goroutine and buffering plumbing.
type Hooks[T any] struct {
	// OnError is called when send returns a non-nil error (item not sent).
	OnError func(T, error)
	// OnAfter is called only after a successful send.
	OnAfter func(T)
	// OnDrop is called when the buffer is full; its returned error is
	// returned from Push. If nil, the overflow is silent.
	OnDrop func(T) error
}

// AsyncTx funnels writes of T through one goroutine, providing non-blocking
// enqueue semantics (Push never blocks on a stalled backend).
type AsyncTx[T any] struct {
	mu     sync.Mutex
	ch     chan T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(T) error
	hooks  Hooks[T]
	closed atomic.Bool
}

// New constructs an AsyncTx with a buffered channel of size buf.
func New[T any](parent context.Context, buf int, send func(T) error, hooks Hooks[T]) *AsyncTx[T] {
	ctx, cancel := context.WithCancel(parent)
	a := &AsyncTx[T]{
		ch:     make(chan T, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncTx[T]) loop() {
	defer a.wg.Done()
	for {
		select {
		case item, ok := <-a.ch:
			if !ok {
				return
			}
			if err := a.send(item); err != nil {
				if a.hooks.OnError != nil {
					a.hooks.OnError(item, err)
				}
				continue
			}
			if a.hooks.OnAfter != nil {
				a.hooks.OnAfter(item)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

// Push queues an item for asynchronous transmission, or invokes OnDrop (and
// returns its error) if the buffer is full.
func (a *AsyncTx[T]) Push(item T) error {
	if a.closed.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return ErrClosed
	}
	select {
	case a.ch <- item:
		return nil
	default:
		if a.hooks.OnDrop != nil {
			return a.hooks.OnDrop(item)
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit.
func (a *AsyncTx[T]) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.cancel()
	a.mu.Lock()
	close(a.ch)
	a.mu.Unlock()
	a.wg.Wait()
}
