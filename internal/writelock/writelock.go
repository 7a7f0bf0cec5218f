// Package writelock provides fail-fast exclusive locks keyed by file path.
package writelock

import (
	"errors"
	"sync"
)

// ErrLocked is returned when the path is already held by another holder.
var ErrLocked = errors.New("path is locked")

// Table is an in-process lock table. The zero value is ready to use.
type Table struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// TryLock acquires the lock for path without blocking. The returned function
// releases it and is safe to call more than once.
func (t *Table) TryLock(path string) (unlock func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held == nil {
		t.held = make(map[string]struct{})
	}
	if _, ok := t.held[path]; ok {
		return nil, ErrLocked
	}
	t.held[path] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.held, path)
			t.mu.Unlock()
		})
	}, nil
}

// Held reports whether path is currently locked.
func (t *Table) Held(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[path]
	return ok
}

// Len returns the number of held locks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}
