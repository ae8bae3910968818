// Package feed retains the most recent records per contract in fixed-size
// ring buffers so in-process consumers can read market state without
// touching the database.
package feed

// Ring is a fixed-capacity buffer that overwrites its oldest entry when
// full. Not safe for concurrent use; Feed holds the lock.
type Ring[T any] struct {
	buf  []T
	head int
	size int
}

// NewRing creates a ring holding at most capacity entries.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Len returns the number of entries currently held.
func (r *Ring[T]) Len() int { return r.size }

// Latest returns the most recently pushed entry.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	idx := (r.head - 1 + len(r.buf)) % len(r.buf)
	return r.buf[idx], true
}

// Snapshot copies the held entries, oldest first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.size)
	start := (r.head - r.size + len(r.buf)) % len(r.buf)
	for i := 0; i < r.size; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}
