package gateway

import "sync"

// keyLock serializes writers per key within this process. Entries are
// reference counted and removed when the last holder unlocks.
type keyLock struct {
	mux   sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[string]*refMutex)}
}

// lock acquires the mutex for key and returns the matching unlock function
func (k *keyLock) lock(key string) func() {
	k.mux.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mux.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mux.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mux.Unlock()
	}
}

// size returns the number of keys currently held or waited for
func (k *keyLock) size() int {
	k.mux.Lock()
	defer k.mux.Unlock()
	return len(k.locks)
}
