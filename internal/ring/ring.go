// Package ring provides a fixed-capacity buffer of recent values with
// oldest-first eviction. One writer may push while any number of readers
// take snapshots.
package ring

import "sync"

// Buffer holds the most recent values pushed into it, up to a fixed
// capacity. Entries are never mutated after insertion.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	count int
}

// New creates a buffer with the given capacity. Capacity must be at
// least one; smaller values are raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends a value, evicting the oldest entry when full. It always
// succeeds.
func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	b.items[(b.head+b.count)%len(b.items)] = v
	if b.count < len(b.items) {
		b.count++
	} else {
		b.head = (b.head + 1) % len(b.items)
	}
	b.mu.Unlock()
}

// Snapshot returns a copy of the buffered values, most recent first. The
// returned slice is owned by the caller.
func (b *Buffer[T]) Snapshot() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.count)
	for i := 0; i < b.count; i++ {
		out[i] = b.items[(b.head+b.count-1-i)%len(b.items)]
	}
	return out
}

// Len reports the number of buffered values.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Cap reports the fixed capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}
