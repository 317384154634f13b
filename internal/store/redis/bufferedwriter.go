package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"smc-engine/internal/model"
)

// updateSink is the part of Writer the buffered writer needs.
type updateSink interface {
	WriteUpdateBatch(ctx context.Context, updates []model.BlockUpdate) error
}

// BufferedWriter puts a breaker in front of the update writer. While writes
// fail, confirmed updates are kept in memory (newest wins per detector) and
// go out with the next successful batch. Live previews are never buffered:
// they are stale by the time Redis is back.
type BufferedWriter struct {
	sink updateSink
	cb   *Breaker

	mu      sync.Mutex
	pending map[string]model.BlockUpdate // "tf|exchange:token" → newest confirmed update
	order   []string

	// OnBuffer is called with the number of pending updates after buffering.
	OnBuffer func(pending int)
	// OnFlush is called after buffered updates were written.
	OnFlush func(count int)
}

// NewBufferedWriter wraps w with breaker cb.
func NewBufferedWriter(w *Writer, cb *Breaker) *BufferedWriter {
	return newBufferedWriter(w, cb)
}

func newBufferedWriter(sink updateSink, cb *Breaker) *BufferedWriter {
	return &BufferedWriter{
		sink:    sink,
		cb:      cb,
		pending: make(map[string]model.BlockUpdate),
	}
}

func pendingKey(upd *model.BlockUpdate) string {
	return model.Itoa(upd.TF) + "|" + upd.Key()
}

// Write sends updates, together with anything buffered earlier, through the
// breaker. Returns nil when the updates were buffered because the breaker is
// open; returns the write error otherwise.
func (bw *BufferedWriter) Write(ctx context.Context, updates []model.BlockUpdate) error {
	batch, flushed := bw.merge(updates)
	if len(batch) == 0 {
		return nil
	}

	err := bw.cb.Do(func() error {
		return bw.sink.WriteUpdateBatch(ctx, batch)
	})
	if err == nil {
		if flushed > 0 {
			log.Printf("[buffered-writer] flushed %d buffered updates", flushed)
			if bw.OnFlush != nil {
				bw.OnFlush(flushed)
			}
		}
		return nil
	}

	bw.buffer(batch)
	if errors.Is(err, ErrCircuitOpen) {
		return nil
	}
	return err
}

// merge drains the buffer and folds updates into it. A pending update is
// replaced by a newer one for the same detector so the latest key never goes
// backwards.
func (bw *BufferedWriter) merge(updates []model.BlockUpdate) ([]model.BlockUpdate, int) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.pending) == 0 {
		return updates, 0
	}

	flushed := len(bw.pending)
	var live []model.BlockUpdate
	for i := range updates {
		upd := updates[i]
		if upd.Live {
			live = append(live, upd)
			continue
		}
		key := pendingKey(&upd)
		if _, ok := bw.pending[key]; !ok {
			bw.order = append(bw.order, key)
		}
		bw.pending[key] = upd
	}

	batch := make([]model.BlockUpdate, 0, len(bw.order)+len(live))
	for _, key := range bw.order {
		batch = append(batch, bw.pending[key])
	}
	batch = append(batch, live...)

	bw.pending = make(map[string]model.BlockUpdate)
	bw.order = nil
	return batch, flushed
}

func (bw *BufferedWriter) buffer(updates []model.BlockUpdate) {
	bw.mu.Lock()
	for i := range updates {
		upd := updates[i]
		if upd.Live {
			continue
		}
		key := pendingKey(&upd)
		if _, ok := bw.pending[key]; !ok {
			bw.order = append(bw.order, key)
		}
		bw.pending[key] = upd
	}
	n := len(bw.pending)
	bw.mu.Unlock()

	if bw.OnBuffer != nil {
		bw.OnBuffer(n)
	}
}

// PendingCount returns the number of buffered updates waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.pending)
}
