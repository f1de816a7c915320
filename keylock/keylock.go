// Package keylock provides per-key starvation-free reader/writer locks.
package keylock

import (
	"context"
	"slices"
	"sync"

	"gitlab.com/slon/fairrw/rwmutex"
)

type entry struct {
	rw   *rwmutex.RWMutex
	refs int
}

// KeyLock lazily creates one rwmutex.RWMutex per key and drops it once
// nobody holds or waits for it.
type KeyLock struct {
	opts []rwmutex.Option

	mu    sync.Mutex
	locks map[string]*entry
}

// New creates KeyLock. opts are applied to every per-key lock.
func New(opts ...rwmutex.Option) *KeyLock {
	return &KeyLock{
		opts:  opts,
		locks: make(map[string]*entry),
	}
}

// LockKeys locks every key in keys for writing.
//
// Keys are taken in sorted order, so concurrent multi-key calls never
// deadlock. If ctx is done first, keys already taken are released and
// ctx.Err() is returned.
func (l *KeyLock) LockKeys(ctx context.Context, keys []string) (unlock func(), err error) {
	return l.lockKeys(ctx, keys, false)
}

// RLockKeys locks every key in keys for reading. See LockKeys.
func (l *KeyLock) RLockKeys(ctx context.Context, keys []string) (unlock func(), err error) {
	return l.lockKeys(ctx, keys, true)
}

// Len returns the number of keys that are currently held or awaited.
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *KeyLock) lockKeys(ctx context.Context, keys []string, read bool) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	curLocks := make([]string, 0, len(keys))
	for _, key := range keys {
		rw := l.acquire(key)

		var err error
		if read {
			err = rw.RLockContext(ctx)
		} else {
			err = rw.LockContext(ctx)
		}
		if err != nil {
			l.release(key)
			l.releaseLocks(curLocks, read)
			return nil, err
		}
		curLocks = append(curLocks, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.releaseLocks(curLocks, read)
		})
	}, nil
}

// releaseLocks unlocks keys in reverse acquisition order.
func (l *KeyLock) releaseLocks(keys []string, read bool) {
	for i := len(keys) - 1; i >= 0; i-- {
		rw := l.get(keys[i])
		if read {
			rw.RUnlock()
		} else {
			rw.Unlock()
		}
		l.release(keys[i])
	}
}

func (l *KeyLock) acquire(key string) *rwmutex.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[key]
	if !ok {
		e = &entry{rw: rwmutex.New(l.opts...)}
		l.locks[key] = e
	}
	e.refs++
	return e.rw
}

func (l *KeyLock) get(key string) *rwmutex.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locks[key].rw
}

func (l *KeyLock) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.locks[key]
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}
