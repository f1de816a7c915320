// Package binlock provides a binary lock with strict FIFO hand-off.
//
// Unlike sync.Mutex, a Lock never lets a newcomer overtake a blocked caller:
// Signal transfers ownership directly to the head of the wait queue. Ownership
// is not tied to a goroutine, so one goroutine may Wait and another Signal.
package binlock

import (
	"container/list"
	"context"
	"sync"
)

// Lock is a binary lock with a FIFO wait queue.
// The zero value for a Lock is a free lock with no waiters.
type Lock struct {
	mu sync.Mutex

	// held stays true while ownership moves from the releaser to the head
	// waiter. A non-empty queue implies held.
	held    bool
	waiters list.List // of chan struct{}
}

// Wait acquires l, blocking behind every caller that arrived earlier.
func (l *Lock) Wait() {
	_ = l.WaitContext(context.Background())
}

// WaitContext acquires l like Wait. If ctx is done before ownership is handed
// over, the caller leaves the queue and ctx.Err() is returned.
func (l *Lock) WaitContext(ctx context.Context) error {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.mu.Unlock()
		return nil
	}

	ready := make(chan struct{})
	elem := l.waiters.PushBack(ready)
	l.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-ready:
			// Handed over after cancellation: pass ownership on.
			l.signalLocked()
		default:
			l.waiters.Remove(elem)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// TryWait acquires l only if it is free. It never jumps the queue.
func (l *Lock) TryWait() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return false
	}
	l.held = true
	return true
}

// Signal releases l. If callers are queued, the earliest one becomes the
// owner and l stays held. It is a run-time error if l is free.
func (l *Lock) Signal() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		panic("binlock: signal of free lock")
	}
	l.signalLocked()
}

func (l *Lock) signalLocked() {
	if front := l.waiters.Front(); front != nil {
		l.waiters.Remove(front)
		close(front.Value.(chan struct{}))
		return
	}
	l.held = false
}

// Held reports whether l is currently owned.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Waiters returns the number of callers blocked in Wait.
func (l *Lock) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}
