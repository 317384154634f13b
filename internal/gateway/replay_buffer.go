package gateway

import (
	"sync"

	"smc-engine/internal/ringbuf"
)

// replayEntry holds a single broadcast envelope for replay.
type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes of one channel so clients can
// backfill a gap in channel_seq. Capacity is rounded up to a power of two.
//
// Safe for concurrent use.
type ReplayBuffer struct {
	mu     sync.RWMutex
	series *ringbuf.Series[replayEntry]
}

// NewReplayBuffer creates a replay buffer holding at least capacity entries.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 512
	}
	return &ReplayBuffer{series: ringbuf.NewSeries[replayEntry](capacity)}
}

// Push appends an envelope, evicting the oldest once full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.series.Push(replayEntry{Seq: seq, Data: cp})
	rb.mu.Unlock()
}

// Range returns retained entries with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []replayEntry
	for i := rb.series.First(); i < rb.series.Len(); i++ {
		e, _ := rb.series.At(i)
		if e.Seq >= fromSeq && e.Seq <= toSeq {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.series.Len() - rb.series.First()
}
