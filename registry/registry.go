// Package registry provides the two pieces of bookkeeping spec.md §9's
// design notes call for: a dense handle→object table standing in for the
// reference-counted/cyclic pointers the original C uses for session and
// tag ownership, and a small closed-set "operation" interface standing in
// for its function-pointer vtable of per-protocol tag behaviour.
//
// Grounded on the arena+index pattern spec.md §9 prescribes directly (no
// teacher file implements this — C's ownership problem doesn't exist in
// Go — but the id-keyed, mutex-guarded map shape follows
// yatesdr-warlogix/plcman/manager.go's ManagedPLC bookkeeping, the
// closest teacher analogue of "many long-lived handles looked up by
// callers from multiple goroutines"), and the family-dispatch factory in
// operation.go is grounded on yatesdr-warlogix/driver/registry.go's
// Create(cfg) switch-on-family pattern.
package registry

import "sync"

// Handle identifies an entry in a Table. Handles are non-negative slot
// indices: the first Insert into an empty Table returns 0, so a zero
// Handle can name a live entry; negative values never do.
type Handle int32

// Table is a dense, reusable-after-remove handle→object arena: the
// alternative spec.md §9 calls for in place of sharing pointers to
// sessions/tags across goroutines or chaining them into reference-counted
// cycles. Callers carry a Handle and look the object up at use time.
type Table[T any] struct {
	mu    sync.RWMutex
	items []T
	free  []int32
}

// New creates an empty Table.
func New[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores v and returns its Handle, reusing a freed slot when one
// is available rather than growing unboundedly.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		t.items[idx] = v
		return Handle(idx)
	}
	t.items = append(t.items, v)
	return Handle(len(t.items) - 1)
}

// Get looks up h, returning the zero value and false if h does not name
// a live entry.
func (t *Table[T]) Get(h Handle) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	if h < 0 || int(h) >= len(t.items) {
		return zero, false
	}
	for _, f := range t.free {
		if f == int32(h) {
			return zero, false
		}
	}
	return t.items[h], true
}

// Replace overwrites the value stored at h in place, for callers that
// mutate a struct's top-level fields by re-storing it (e.g. updating a
// tag's cached state) rather than through a pointer receiver.
func (t *Table[T]) Replace(h Handle, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h < 0 || int(h) >= len(t.items) {
		return
	}
	t.items[h] = v
}

// Remove releases h back to the free list, zeroing its slot so a T
// holding references (e.g. a *Session) doesn't keep them reachable.
func (t *Table[T]) Remove(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if h < 0 || int(h) >= len(t.items) {
		return
	}
	t.items[h] = zero
	t.free = append(t.free, int32(h))
}

// Len reports the number of live entries (insertions minus removes, not
// the arena's current backing capacity).
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items) - len(t.free)
}

// Each calls fn for every live entry in unspecified order. fn must not
// call back into the same Table (Insert/Remove would deadlock on the
// read lock Each holds for its duration).
func (t *Table[T]) Each(fn func(Handle, T)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	freed := make(map[int32]bool, len(t.free))
	for _, f := range t.free {
		freed[f] = true
	}
	for i, v := range t.items {
		if !freed[int32(i)] {
			fn(Handle(i), v)
		}
	}
}
