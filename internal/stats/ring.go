package stats

import "sync"

// Ring is a fixed-capacity FIFO buffer that keeps the most recent samples.
// Adding never allocates; once full, each Add overwrites the oldest sample.
// A Ring is safe for concurrent use.
type Ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	next  int // index the next Add writes to
	count int // number of retained samples, never more than len(buf)
}

// NewRing creates a Ring retaining up to capacity samples.
// A capacity of zero (or less) retains nothing.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Add stores v, replacing the oldest sample when the ring is full.
func (r *Ring[T]) Add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// Snapshot returns the retained samples, oldest first. The returned slice is
// not affected by later calls to Add.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	tmp := make([]T, len(r.buf))
	copy(tmp, r.buf)
	next, count := r.next, r.count
	r.mu.Unlock()

	out := make([]T, 0, count)
	if count < len(tmp) {
		// Not wrapped yet, samples live in [0, count)
		return append(out, tmp[:count]...)
	}
	out = append(out, tmp[next:]...)
	return append(out, tmp[:next]...)
}

// Len returns the number of retained samples.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of retained samples.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}
