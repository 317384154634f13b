// Package replay reads historical bars and emits them in time order at a
// configurable speed, for backtests and warm-up runs.
package replay

import (
	"context"
	"log"
	"sort"
	"time"

	"smc-engine/internal/model"
)

// maxGap caps the simulated wait between two bars.
const maxGap = 5 * time.Second

// BarSource reads closed bars of one TF after afterTS (unix nanos).
// The SQLite reader satisfies it.
type BarSource interface {
	ReadAllBars(tf int, afterTS int64) ([]model.Bar, error)
}

// StaticSource serves bars held in memory, e.g. loaded from a CSV file.
type StaticSource []model.Bar

// ReadAllBars returns the bars of tf strictly after afterTS, in input order.
func (s StaticSource) ReadAllBars(tf int, afterTS int64) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range s {
		if b.TF == tf && b.TS.UnixNano() > afterTS {
			out = append(out, b)
		}
	}
	return out, nil
}

// Replayer emits historical bars from a BarSource.
type Replayer struct {
	source BarSource
}

// New creates a Replayer backed by source.
func New(source BarSource) *Replayer {
	return &Replayer{source: source}
}

// Run replays all bars of the given TFs after fromTS (unix nanos, 0 = all)
// into outCh, ordered by timestamp. speed scales the real gaps between bars:
// 1 = real time, 10 = ten times faster, 0 = as fast as possible. Bars with
// equal timestamps keep source order. Returns the number of bars emitted.
func (r *Replayer) Run(ctx context.Context, tfs []int, fromTS int64, speed float64, outCh chan<- model.Bar) (int, error) {
	var all []model.Bar
	for _, tf := range tfs {
		bars, err := r.source.ReadAllBars(tf, fromTS)
		if err != nil {
			return 0, err
		}
		all = append(all, bars...)
	}

	if len(all) == 0 {
		log.Println("[replay] no bars found")
		return 0, nil
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].TS.Before(all[j].TS) })
	log.Printf("[replay] loaded %d bars across %d TFs, speed=%.1fx", len(all), len(tfs), speed)

	var prevTS time.Time
	emitted := 0
	for _, b := range all {
		if speed > 0 && !prevTS.IsZero() {
			if gap := b.TS.Sub(prevTS); gap > 0 {
				wait := time.Duration(float64(gap) / speed)
				if wait > maxGap {
					wait = maxGap
				}
				select {
				case <-ctx.Done():
					return emitted, ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		prevTS = b.TS

		b.Forming = false
		select {
		case outCh <- b:
			emitted++
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d bars", emitted)
			return emitted, ctx.Err()
		}
	}

	log.Printf("[replay] completed: %d bars replayed", emitted)
	return emitted, nil
}
