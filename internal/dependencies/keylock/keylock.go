// Package keylock provides per-key mutual exclusion for record-level locking.
package keylock

import (
	"slices"
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker hands out mutexes keyed by string. Entries are dropped once no
// goroutine holds or waits on them.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Locker
func New() *Locker {
	return &Locker{entries: make(map[string]*entry)}
}

func (l *Locker) acquire(key string) *entry {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()
	return e
}

func (l *Locker) release(key string, e *entry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// Lock blocks until the key is held and returns the matching unlock func.
// The unlock func may be called more than once; only the first call releases.
func (l *Locker) Lock(key string) func() {
	e := l.acquire(key)
	e.mu.Lock()
	return sync.OnceFunc(func() {
		e.mu.Unlock()
		l.release(key, e)
	})
}

// LockAll locks every distinct key in sorted order, so callers locking
// overlapping key sets cannot deadlock. The returned func releases them all.
func (l *Locker) LockAll(keys ...string) func() {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, k := range sorted {
		unlocks = append(unlocks, l.Lock(k))
	}
	return sync.OnceFunc(func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	})
}

// Len returns the number of keys currently held or awaited
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
