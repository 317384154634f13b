package smcengine

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"smc-engine/internal/smc"
)

// snapshotLoop periodically saves engine state to Redis and SQLite.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.cfg.SnapshotInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.checkpoint(ctx)
		}
	}
}

// checkpoint captures the engine on the process loop and saves it.
func (svc *Service) checkpoint(ctx context.Context) {
	var (
		snap *smc.EngineSnapshot
		err  error
	)
	if derr := svc.do(ctx, func(e *smc.Engine) {
		snap, err = smc.SnapshotEngine(e, streamIDAt(svc.now()))
	}); derr != nil {
		return
	}
	if err != nil {
		log.Printf("[smcengine] snapshot error: %v", err)
		return
	}
	svc.saveSnapshot(ctx, snap)
	log.Printf("[smcengine] checkpoint saved (%d detectors)", len(snap.Tokens))
}

// saveSnapshot writes snap to every configured store.
func (svc *Service) saveSnapshot(ctx context.Context, snap *smc.EngineSnapshot) {
	if svc.redisReader != nil {
		err := svc.redisReader.WriteSnapshot(ctx, svc.cfg.SnapshotKey, snap)
		if err != nil {
			log.Printf("[smcengine] redis snapshot write error: %v", err)
		}
		svc.prom.ObserveSnapshot("redis", err)
	}
	if svc.sqlWriter != nil {
		err := svc.sqlWriter.SaveSnapshot(snap)
		if err != nil {
			log.Printf("[smcengine] sqlite snapshot write error: %v", err)
		}
		svc.prom.ObserveSnapshot("sqlite", err)
	}
}

// streamIDAt returns the Redis stream ID marking time t.
func streamIDAt(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10) + "-0"
}

// replayStartID moves a stream ID back by margin so bars queued but not yet
// processed when the snapshot was taken are replayed. Already-applied bars
// are dropped by timestamp. Unparseable IDs replay from the start.
func replayStartID(streamID string, margin time.Duration) string {
	ms, _, _ := strings.Cut(streamID, "-")
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return "0"
	}
	v -= margin.Milliseconds()
	if v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v, 10) + "-0"
}
