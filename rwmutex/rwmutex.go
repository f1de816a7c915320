// Package rwmutex implements a starvation-free reader/writer lock.
//
// Readers and writers are admitted in arrival order through a single entry
// gate, so a steady stream of readers cannot starve a writer and a busy
// writer cannot starve readers.
package rwmutex

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"

	"gitlab.com/slon/fairrw/binlock"
)

// A RWMutex is a reader/writer mutual exclusion lock.
// The lock can be held by an arbitrary number of readers or a single writer.
// The zero value for a RWMutex is an unlocked mutex.
//
// Every Lock and RLock call first passes the entry gate, which hands out
// admission in FIFO order. A writer keeps the gate until it owns the critical
// section, so readers that arrive after a waiting writer queue up behind it.
// Readers release the gate as soon as they are registered, which lets later
// readers join an active reader group without waiting for it to drain.
//
// As with sync.RWMutex, a locked RWMutex is not associated with a particular
// goroutine, and recursive read locking is not allowed: a queued writer
// excludes new readers.
type RWMutex struct {
	entry binlock.Lock // admission, FIFO across readers and writers
	rmu   binlock.Lock // guards rcount
	cs    binlock.Lock // occupancy of the critical section

	rcount int

	readers atomic.Int64
	writing atomic.Bool

	clock    clockwork.Clock
	observer Observer
}

// New creates *RWMutex.
func New(opts ...Option) *RWMutex {
	rw := &RWMutex{}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// RLock locks rw for reading.
//
// It should not be used for recursive read locking; a blocked Lock
// call excludes new readers from acquiring the lock.
func (rw *RWMutex) RLock() {
	_ = rw.RLockContext(context.Background())
}

// RLockContext locks rw for reading like RLock. If ctx is done first, the
// call gives back everything it acquired and returns ctx.Err().
func (rw *RWMutex) RLockContext(ctx context.Context) error {
	start := rw.now()

	if err := rw.entry.WaitContext(ctx); err != nil {
		return err
	}
	if err := rw.rmu.WaitContext(ctx); err != nil {
		rw.entry.Signal()
		return err
	}

	rw.rcount++
	rw.readers.Store(int64(rw.rcount))
	first := rw.rcount == 1
	if first {
		// Only a writer can be holding cs here. Keeping entry while we wait
		// stops later arrivals from piling up behind this reader.
		if err := rw.cs.WaitContext(ctx); err != nil {
			rw.rcount--
			rw.readers.Store(int64(rw.rcount))
			rw.rmu.Signal()
			rw.entry.Signal()
			return err
		}
	}
	readers := rw.rcount

	rw.rmu.Signal()
	rw.entry.Signal()

	rw.obs().ReadAcquired(rw.since(start), readers, first)
	return nil
}

// RUnlock undoes a single RLock call;
// it does not affect other simultaneous readers.
// It is a run-time error if rw is not locked for reading
// on entry to RUnlock.
func (rw *RWMutex) RUnlock() {
	rw.rmu.Wait()
	if rw.rcount == 0 {
		rw.rmu.Signal()
		panic("rwmutex: RUnlock of unlocked RWMutex")
	}
	rw.rcount--
	readers := rw.rcount
	rw.readers.Store(int64(readers))
	rw.rmu.Signal()

	last := readers == 0
	if last {
		rw.cs.Signal()
	}
	rw.obs().ReadReleased(readers, last)
}

// Lock locks rw for writing.
// If the lock is already locked for reading or writing,
// Lock blocks until the lock is available.
func (rw *RWMutex) Lock() {
	_ = rw.LockContext(context.Background())
}

// LockContext locks rw for writing like Lock. If ctx is done first, the call
// gives back everything it acquired and returns ctx.Err().
func (rw *RWMutex) LockContext(ctx context.Context) error {
	start := rw.now()

	if err := rw.entry.WaitContext(ctx); err != nil {
		return err
	}
	if err := rw.cs.WaitContext(ctx); err != nil {
		rw.entry.Signal()
		return err
	}
	rw.writing.Store(true)
	// entry is released only after cs is ours, so no reader can become
	// "first reader" and take cs ahead of us.
	rw.entry.Signal()

	rw.obs().WriteAcquired(rw.since(start))
	return nil
}

// Unlock unlocks rw for writing. It is a run-time error if rw is
// not locked for writing on entry to Unlock.
func (rw *RWMutex) Unlock() {
	if !rw.writing.CompareAndSwap(true, false) {
		panic("rwmutex: Unlock of unlocked RWMutex")
	}
	rw.cs.Signal()
	rw.obs().WriteReleased()
}

// Read runs fn with rw locked for reading. The read lock is released on
// every exit path of fn, including a panic.
func (rw *RWMutex) Read(ctx context.Context, fn func() error) error {
	if err := rw.RLockContext(ctx); err != nil {
		return err
	}
	defer rw.RUnlock()
	return fn()
}

// Write runs fn with rw locked for writing. The write lock is released on
// every exit path of fn, including a panic.
func (rw *RWMutex) Write(ctx context.Context, fn func() error) error {
	if err := rw.LockContext(ctx); err != nil {
		return err
	}
	defer rw.Unlock()
	return fn()
}

// Readers returns the number of registered readers.
func (rw *RWMutex) Readers() int {
	return int(rw.readers.Load())
}

// RLocker returns a Locker interface that implements
// the Lock and Unlock methods by calling rw.RLock and rw.RUnlock.
func (rw *RWMutex) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

type rlocker RWMutex

func (r *rlocker) Lock()   { (*RWMutex)(r).RLock() }
func (r *rlocker) Unlock() { (*RWMutex)(r).RUnlock() }
