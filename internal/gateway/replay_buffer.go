package gateway

import "sync"

type replayEntry struct {
	Seq        int64
	Instrument string
	Data       []byte // envelope JSON
}

// ReplayBuffer keeps the most recent broadcast envelopes so reconnecting
// clients can backfill a gap. Oldest entries are overwritten once full.
// Safe for concurrent use.
type ReplayBuffer struct {
	mu      sync.RWMutex
	entries []replayEntry
	head    int // index of the oldest entry
	size    int
}

// NewReplayBuffer creates a buffer holding up to capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayCapacity
	}
	return &ReplayBuffer{entries: make([]replayEntry, capacity)}
}

// Push appends an envelope. Seqs must be pushed in increasing order.
func (rb *ReplayBuffer) Push(seq int64, instrument string, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	e := replayEntry{Seq: seq, Instrument: instrument, Data: cp}
	if rb.size < len(rb.entries) {
		rb.entries[(rb.head+rb.size)%len(rb.entries)] = e
		rb.size++
		return
	}
	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.entries)
}

// Since returns the buffered entries with Seq > seq, oldest first.
func (rb *ReplayBuffer) Since(seq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	var out []replayEntry
	for i := 0; i < rb.size; i++ {
		e := rb.entries[(rb.head+i)%len(rb.entries)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// Oldest returns the smallest buffered seq, or 0 when empty. A client
// whose last seq is below Oldest()-1 has lost messages for good.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.size == 0 {
		return 0
	}
	return rb.entries[rb.head].Seq
}

// Len returns the number of buffered entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}
