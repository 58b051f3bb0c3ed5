// Package ringbuf provides a fixed-capacity FIFO ring of price samples.
// When full, Push overwrites the oldest sample. The ring is not safe for
// concurrent use; callers serialize access per instrument.
package ringbuf

import (
	"fxsignal/internal/model"
)

// Ring holds the most recent samples of one instrument, oldest first.
type Ring struct {
	buf  []model.PriceSample
	head int // index of the oldest sample
	n    int

	evicted uint64
}

// New creates a ring holding at most capacity samples. Minimum capacity is 2.
func New(capacity int) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	return &Ring{buf: make([]model.PriceSample, capacity)}
}

// Push appends a sample, evicting the oldest one when the ring is full.
// Returns true if a sample was evicted.
func (r *Ring) Push(s model.PriceSample) bool {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = s
		r.n++
		return false
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	r.evicted++
	return true
}

// Last returns the newest sample.
func (r *Ring) Last() (model.PriceSample, bool) {
	if r.n == 0 {
		return model.PriceSample{}, false
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)], true
}

// At returns the i-th sample counting from the oldest.
func (r *Ring) At(i int) model.PriceSample {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.head+i)%len(r.buf)]
}

// Samples returns a copy of the ring's contents, oldest first.
func (r *Ring) Samples() []model.PriceSample {
	out := make([]model.PriceSample, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Len returns the current number of samples.
func (r *Ring) Len() int {
	return r.n
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Evicted returns the total number of samples dropped to make room.
func (r *Ring) Evicted() uint64 {
	return r.evicted
}
