package rwstats

import (
	"time"

	"gitlab.com/slon/fairrw/rwmutex"
)

type multi []rwmutex.Observer

// Multi returns an observer that forwards every callback to each of
// observers in order. Nil observers are skipped.
func Multi(observers ...rwmutex.Observer) rwmutex.Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m multi) ReadAcquired(wait time.Duration, readers int, first bool) {
	for _, o := range m {
		o.ReadAcquired(wait, readers, first)
	}
}

func (m multi) ReadReleased(readers int, last bool) {
	for _, o := range m {
		o.ReadReleased(readers, last)
	}
}

func (m multi) WriteAcquired(wait time.Duration) {
	for _, o := range m {
		o.WriteAcquired(wait)
	}
}

func (m multi) WriteReleased() {
	for _, o := range m {
		o.WriteReleased()
	}
}
