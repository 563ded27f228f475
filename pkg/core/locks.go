package core

import "sync"

// LockMap provides per-memory-id mutual exclusion for sweep mutations.
//
// Sweeps are single-writer batch passes; scoring and scheduling reads may run
// concurrently, so a mutation only needs exclusive access to the one record
// it touches. No global lock is held across a sweep.
type LockMap struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewLockMap creates an empty LockMap.
func NewLockMap() *LockMap {
	return &LockMap{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for the given memory id and returns the matching
// unlock function:
//
//	unlock := locks.Lock(mem.ID)
//	defer unlock()
//
// Entries are reference-counted and removed when the last holder releases,
// so the map does not grow with the total number of memories ever touched.
func (l *LockMap) Lock(id string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[id]
	if !ok {
		e = &lockEntry{}
		l.locks[id] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
