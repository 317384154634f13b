// Package tfbuilder provides an incremental timeframe resampler.
// It consumes closed bars of a base timeframe and maintains one forming bar
// per higher timeframe, updated in O(1) per input bar. When a bar lands in a
// new bucket, the previous bucket's bar is closed and emitted.
package tfbuilder

import (
	"sort"
	"time"

	"smc-engine/internal/model"
)

// tfState holds the forming bar for one (token, TF) pair.
type tfState struct {
	bucket int64 // bucket start = ts - ts%tf (Unix seconds)
	bar    model.Bar
}

// Builder resamples base bars into multiple timeframes.
// Designed for single-goroutine usage.
type Builder struct {
	tfs []int // target TF durations in seconds

	// states[tfIdx][tokenKey] → *tfState
	states []map[string]*tfState

	// EmitForming emits a forming snapshot after every merge so callers can
	// preview the bucket in progress.
	EmitForming bool

	// OnStale is called for an input bar whose bucket precedes the forming
	// bucket of some TF. That TF ignores it.
	OnStale func(bar model.Bar, tf int)
}

// New creates a builder for the given timeframes (in seconds).
func New(tfs []int) *Builder {
	states := make([]map[string]*tfState, len(tfs))
	for i := range states {
		states[i] = make(map[string]*tfState, 64)
	}
	return &Builder{tfs: tfs, states: states}
}

// TFs returns the target timeframes.
func (b *Builder) TFs() []int {
	return b.tfs
}

// Process merges one closed base bar into every target TF it divides.
// A target equal to the base TF passes the bar through unchanged; targets
// that are not a multiple of the base TF are skipped. Forming input bars
// are ignored.
func (b *Builder) Process(in model.Bar, emit func(model.Bar)) {
	if in.Forming || in.TF <= 0 {
		return
	}
	ts := in.TS.Unix()
	key := in.Key()

	for i, tf := range b.tfs {
		if tf == in.TF {
			emit(in)
			continue
		}
		if tf < in.TF || tf%in.TF != 0 {
			continue
		}

		tf64 := int64(tf)
		bucket := ts - ts%tf64
		st, exists := b.states[i][key]

		if exists && bucket < st.bucket {
			if b.OnStale != nil {
				b.OnStale(in, tf)
			}
			continue
		}

		if exists && bucket > st.bucket {
			// New bucket: close the forming bar
			st.bar.Forming = false
			emit(st.bar)
			exists = false
		}

		if !exists {
			st = &tfState{
				bucket: bucket,
				bar: model.Bar{
					Token:    in.Token,
					Exchange: in.Exchange,
					TF:       tf,
					TS:       time.Unix(bucket, 0).UTC(),
					Open:     in.Open,
					High:     in.High,
					Low:      in.Low,
					Close:    in.Close,
					Volume:   in.Volume,
					Forming:  true,
				},
			}
			b.states[i][key] = st
		} else {
			fb := &st.bar
			if in.High > fb.High {
				fb.High = in.High
			}
			if in.Low < fb.Low {
				fb.Low = in.Low
			}
			fb.Close = in.Close
			fb.Volume += in.Volume
		}

		if b.EmitForming {
			emit(st.bar)
		}
	}
}

// Flush closes and emits every forming bar, by TF then token key, and
// resets the builder.
func (b *Builder) Flush(emit func(model.Bar)) {
	for i := range b.tfs {
		keys := make([]string, 0, len(b.states[i]))
		for key := range b.states[i] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			bar := b.states[i][key].bar
			bar.Forming = false
			emit(bar)
		}
		b.states[i] = make(map[string]*tfState, 64)
	}
}
