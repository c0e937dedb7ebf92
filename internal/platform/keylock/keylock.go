// Package keylock serializes work per identifier. Two callbacks for the same
// protocol identifier must be strictly ordered; callbacks for different
// identifiers must proceed without contention.
package keylock

import "sync"

// KeyLock hands out one mutex per key. Mutexes are reference counted and
// removed when the last holder releases, so the map does not grow with the
// number of identifiers ever seen.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Lock acquires the mutex for key and returns the matching unlock func.
func (k *KeyLock) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
