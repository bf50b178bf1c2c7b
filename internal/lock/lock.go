// Package lock provides a per-key mutex table used to serialize writers on
// one path. Entries are created lazily and reclaimed when the last holder
// releases them, so the table stays bounded over the life of a long-running
// process.
package lock

import "sync"

// Table maps keys to exclusive sections. The zero value is not usable;
// create with NewTable. Safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Lock acquires the exclusive section for key and returns its release func.
func (t *Table) Lock(key string) func() {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			t.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(t.entries, key)
			}
			t.mu.Unlock()
		})
	}
}

// LockPair acquires two keys in sorted order so that concurrent pair
// acquisitions cannot deadlock. Equal keys are locked once.
func (t *Table) LockPair(a, b string) func() {
	if a == b {
		return t.Lock(a)
	}
	if b < a {
		a, b = b, a
	}
	ua := t.Lock(a)
	ub := t.Lock(b)
	return func() {
		ub()
		ua()
	}
}

// Len returns the number of live entries. Exposed for tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
