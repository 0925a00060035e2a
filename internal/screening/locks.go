package screening

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// keyedLock serializes work per session identifier.
type keyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedLock() *keyedLock {
	return &keyedLock{locks: make(map[string]*lockEntry)}
}

func (k *keyedLock) entry(key string) *lockEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		k.locks[key] = e
	}
	e.refs++
	return e
}

func (k *keyedLock) release(key string, e *lockEntry) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock blocks until key is free or ctx ends.
func (k *keyedLock) Lock(ctx context.Context, key string) (func(), error) {
	e := k.entry(key)
	if err := e.sem.Acquire(ctx, 1); err != nil {
		k.release(key, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.release(key, e)
		})
	}, nil
}

// TryLock takes key only when nobody holds it.
func (k *keyedLock) TryLock(key string) (func(), bool) {
	e := k.entry(key)
	if !e.sem.TryAcquire(1) {
		k.release(key, e)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			k.release(key, e)
		})
	}, true
}

// Len returns the number of keys currently tracked.
func (k *keyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
