// Package buffer provides a fixed-capacity, insertion-ordered event buffer
// with oldest-first eviction. Every collector in this service owns one.
package buffer

import "sync"

// Ring is a bounded FIFO buffer. Once the capacity is reached, each append
// evicts the oldest item. The zero value is not usable; use New.
//
// All methods are safe for concurrent use. The append and the capacity check
// happen under one lock, so concurrent appends can never overshoot capacity.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // index of the oldest item
	size     int
	capacity int
}

// New creates a ring buffer with the given capacity. Capacity must be
// positive; non-positive values are clamped to 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Append adds an item at the tail, evicting the oldest item if the buffer
// is full.
func (r *Ring[T]) Append(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.size) % r.capacity
	r.items[tail] = item

	if r.size < r.capacity {
		r.size++
		return
	}
	// Buffer full; the slot we just wrote was the head. Advance it.
	r.head = (r.head + 1) % r.capacity
}

// Len returns the number of items currently stored.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Snapshot returns a copy of the buffered items ordered most-recent-first,
// after applying the optional filter, truncated to limit if limit > 0.
// Callers receive copies, never live references into the buffer.
func (r *Ring[T]) Snapshot(filter func(T) bool, limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.size)
	for i := r.size - 1; i >= 0; i-- {
		item := r.items[(r.head+i)%r.capacity]
		if filter != nil && !filter(item) {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// All returns every buffered item in insertion order (oldest first).
func (r *Ring[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%r.capacity])
	}
	return out
}

// Clear empties the buffer. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
