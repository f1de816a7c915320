package rwmutex

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Observer is notified about lock transitions. Callbacks are invoked after
// the entry gate and the reader-count gate are released, possibly from many
// goroutines at once.
type Observer interface {
	// ReadAcquired is called when a reader enters. first is set for the
	// reader that took the critical section on behalf of its group.
	ReadAcquired(wait time.Duration, readers int, first bool)
	// ReadReleased is called when a reader leaves. last is set for the
	// reader that released the critical section.
	ReadReleased(readers int, last bool)
	WriteAcquired(wait time.Duration)
	WriteReleased()
}

// Option configures a RWMutex.
type Option func(*RWMutex)

// WithClock sets the clock used to measure wait times. The default is the
// real clock.
func WithClock(clock clockwork.Clock) Option {
	return func(rw *RWMutex) {
		rw.clock = clock
	}
}

// WithObserver sets the observer of lock transitions.
func WithObserver(o Observer) Option {
	return func(rw *RWMutex) {
		rw.observer = o
	}
}

type nopObserver struct{}

func (nopObserver) ReadAcquired(time.Duration, int, bool) {}
func (nopObserver) ReadReleased(int, bool)                {}
func (nopObserver) WriteAcquired(time.Duration)           {}
func (nopObserver) WriteReleased()                        {}

func (rw *RWMutex) obs() Observer {
	if rw.observer == nil {
		return nopObserver{}
	}
	return rw.observer
}

// now and since skip the clock entirely when nobody observes the lock.
func (rw *RWMutex) now() time.Time {
	if rw.observer == nil {
		return time.Time{}
	}
	if rw.clock == nil {
		return time.Now()
	}
	return rw.clock.Now()
}

func (rw *RWMutex) since(start time.Time) time.Duration {
	if rw.observer == nil {
		return 0
	}
	if rw.clock == nil {
		return time.Since(start)
	}
	return rw.clock.Since(start)
}
