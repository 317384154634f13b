package smc

import (
	"log"

	"smc-engine/internal/model"
)

// BarSource is the interface needed for backfill reads.
type BarSource interface {
	ReadAllBars(tf int, afterTS int64) ([]model.Bar, error)
}

// Restorer orchestrates engine state restoration on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start.
type Restorer struct {
	configs []TFConfig
	opts    []EngineOption
}

// NewRestorer creates a new Restorer for the given detector configs.
func NewRestorer(configs []TFConfig, opts ...EngineOption) *Restorer {
	return &Restorer{configs: configs, opts: opts}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// If snapshot is nil or unusable, returns a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("[restorer] no snapshot found, cold starting detector engine")
		return NewEngine(r.configs, r.opts...)
	}

	log.Printf("[restorer] restoring from snapshot (version=%d, streamID=%s, tokens=%d)",
		snap.Version, snap.StreamID, len(snap.Tokens))

	if snap.Version != SnapshotVersion {
		log.Printf("[restorer] WARNING: snapshot version %d != %d, cold starting", snap.Version, SnapshotVersion)
		return NewEngine(r.configs, r.opts...)
	}

	engine, err := RestoreEngine(r.configs, snap, r.opts...)
	if err != nil {
		log.Printf("[restorer] WARNING: snapshot restore failed: %v, falling back to cold start", err)
		return NewEngine(r.configs, r.opts...)
	}

	log.Printf("[restorer] restored detector engine from snapshot (%d detectors)", engine.DetectorCount())
	return engine, nil
}

// ReplayBars feeds closed bars into the engine to catch up from the snapshot
// to current state. Returns the number of bars replayed.
func (r *Restorer) ReplayBars(engine *Engine, bars []model.Bar) int {
	count := 0
	for _, bar := range bars {
		if bar.Forming {
			continue
		}
		engine.Process(bar)
		count++
	}
	log.Printf("[restorer] replayed %d bars to catch up", count)
	return count
}

// BackfillFromSQLite reads historical bars from SQLite and feeds the most
// recent limit bars per token into the engine. Call it after engine
// creation/restore and before starting the live stream consumer.
//
// afterTS (unix nanos) skips bars a restored snapshot already covers.
// If onUpdate is non-nil, it is called with every resulting update so the
// caller can publish history.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader BarSource, afterTS int64, limit int, onUpdate func(*model.BlockUpdate)) int {
	if reader == nil || limit <= 0 {
		return 0
	}

	total := 0
	for _, cfg := range engine.Configs() {
		bars, err := reader.ReadAllBars(cfg.TF, afterTS)
		if err != nil {
			log.Printf("[restorer] WARNING: failed to read TF=%d bars from SQLite: %v", cfg.TF, err)
			continue
		}

		fed := 0
		for _, bar := range lastPerKey(bars, limit) {
			bar.Forming = false
			upd := engine.Process(bar)
			if onUpdate != nil && upd != nil {
				onUpdate(upd)
			}
			fed++
		}
		total += fed
		if fed > 0 {
			log.Printf("[restorer] backfilled %d bars from SQLite for TF=%d", fed, cfg.TF)
		}
	}

	if total > 0 {
		log.Printf("[restorer] backfilled %d total bars from SQLite", total)
	}
	return total
}

// lastPerKey keeps the newest limit bars of every token, preserving the
// input order.
func lastPerKey(bars []model.Bar, limit int) []model.Bar {
	counts := make(map[string]int)
	for i := range bars {
		counts[bars[i].Key()]++
	}
	out := make([]model.Bar, 0, len(bars))
	for _, bar := range bars {
		k := bar.Key()
		if counts[k] > limit {
			counts[k]--
			continue
		}
		out = append(out, bar)
	}
	return out
}
