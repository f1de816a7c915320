package workload

import (
	"sync"

	"gitlab.com/slon/fairrw/binlock"
	"gitlab.com/slon/fairrw/rwmutex"
)

// Locker is the reader/writer lock under test.
type Locker interface {
	RLock()
	RUnlock()
	Lock()
	Unlock()
}

const (
	// StrategyFair is the starvation-free rwmutex.RWMutex.
	StrategyFair = "fair"
	// StrategyStdlib is sync.RWMutex.
	StrategyStdlib = "stdlib"
	// StrategyReaderPreferring lets readers join an active group
	// unconditionally, so writers may starve.
	StrategyReaderPreferring = "reader-preferring"
)

// Strategies lists the supported strategy names.
func Strategies() []string {
	return []string{StrategyFair, StrategyStdlib, StrategyReaderPreferring}
}

func knownStrategy(name string) bool {
	for _, s := range Strategies() {
		if s == name {
			return true
		}
	}
	return false
}

func newLocker(name string, opts ...rwmutex.Option) Locker {
	switch name {
	case StrategyStdlib:
		return &sync.RWMutex{}
	case StrategyReaderPreferring:
		return &readerPreferring{}
	default:
		return rwmutex.New(opts...)
	}
}

// readerPreferring is the first readers-writers solution: the same counter
// and occupancy gate as rwmutex.RWMutex, but without the entry gate.
type readerPreferring struct {
	rmu    binlock.Lock
	cs     binlock.Lock
	rcount int
}

func (rw *readerPreferring) RLock() {
	rw.rmu.Wait()
	rw.rcount++
	if rw.rcount == 1 {
		rw.cs.Wait()
	}
	rw.rmu.Signal()
}

func (rw *readerPreferring) RUnlock() {
	rw.rmu.Wait()
	rw.rcount--
	if rw.rcount == 0 {
		rw.cs.Signal()
	}
	rw.rmu.Signal()
}

func (rw *readerPreferring) Lock() {
	rw.cs.Wait()
}

func (rw *readerPreferring) Unlock() {
	rw.cs.Signal()
}
