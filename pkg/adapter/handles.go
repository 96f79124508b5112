package adapter

import (
	"sync"
)

// Handle is one open-file slot. The value is whatever the filesystem's
// open/create/opendir returned; it stays pinned here until the matching
// release removes it, so handle state never depends on garbage collection.
type Handle struct {
	Value interface{}
	Path  string
	Flags int

	// mu serializes seek-based fallback I/O on this handle.
	mu sync.Mutex
}

// Table maps opaque integer handles to open values. Handles are allocated
// monotonically and released exactly once.
type Table struct {
	mu    sync.Mutex
	slots map[uint64]*Handle
	next  uint64
}

// NewTable builds an empty handle table.
func NewTable() *Table {
	return &Table{
		slots: make(map[uint64]*Handle),
		next:  1,
	}
}

// Put stores an open value and returns its handle.
func (t *Table) Put(path string, flags int, value interface{}) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	fh := t.next
	t.next++
	t.slots[fh] = &Handle{Value: value, Path: path, Flags: flags}
	return fh
}

// Get looks up an open handle.
func (t *Table) Get(fh uint64) (*Handle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.slots[fh]
	return h, ok
}

// Release removes a handle and returns its value. The second return is
// false when the handle is unknown or was already released; a slot is
// handed out exactly once.
func (t *Table) Release(fh uint64) (interface{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.slots[fh]
	if !ok {
		return nil, false
	}
	delete(t.slots, fh)
	return h.Value, true
}

// Len reports how many handles are open.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
