// Package ring provides a fixed-capacity FIFO that overwrites its oldest entry when full.
package ring

// Ring holds at most capacity most-recent values. Not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// New returns a ring with the given capacity. Capacity below 1 is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the ring is full.
// It reports whether a value was evicted.
func (r *Ring[T]) Push(v T) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = v
		r.size++
		return false
	}
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// Snapshot returns the stored values oldest first in a new slice.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	n := copy(out, r.buf[r.head:min(r.head+r.size, len(r.buf))])
	copy(out[n:], r.buf[:r.size-n])
	return out
}
