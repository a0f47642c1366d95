package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAsyncTx_SendsInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int
	a := New[int](context.Background(), 8, func(n int) error {
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	}, Hooks[int]{})
	defer a.Close()

	for i := 0; i < 5; i++ {
		if err := a.Push(i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for all sends, got %d/5", n)
		}
		time.Sleep(time.Millisecond)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestAsyncTx_DropWhenFull(t *testing.T) {
	block := make(chan struct{})
	a := New[int](context.Background(), 1, func(int) error {
		<-block
		return nil
	}, Hooks[int]{
		OnDrop: func(int) error { return errOverflow },
	})
	defer func() {
		close(block)
		a.Close()
	}()

	_ = a.Push(1) // consumed by the blocked worker
	_ = a.Push(2) // fills the 1-slot buffer
	if err := a.Push(3); !errors.Is(err, errOverflow) {
		t.Fatalf("Push on full queue = %v, want errOverflow", err)
	}
}

func TestAsyncTx_CloseIsIdempotentAndDrainsNothingNew(t *testing.T) {
	a := New[int](context.Background(), 4, func(int) error { return nil }, Hooks[int]{})
	a.Close()
	a.Close() // must not panic or block
	if err := a.Push(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Push after Close = %v, want ErrClosed", err)
	}
}

var errOverflow = errors.New("overflow")
