package smc

import (
	"encoding/json"
	"fmt"
	"log"

	"smc-engine/internal/indicator"
	"smc-engine/internal/model"
)

// DetectorSnapshot holds the serialized state of one detector.
type DetectorSnapshot struct {
	Config      Config                  `json:"config"`
	FirstIndex  int                     `json:"first_index"` // absolute index of Bars[0]
	Bars        []model.Bar             `json:"bars"`
	Vols        []float64               `json:"vols"`
	PrevDir     Direction               `json:"prev_dir"`
	CurrDir     Direction               `json:"curr_dir"`
	SwingHigh   Pivot                   `json:"swing_high"`
	SwingLow    Pivot                   `json:"swing_low"`
	Blocks      []model.OrderBlock      `json:"blocks"`
	HasInputs   bool                    `json:"has_inputs"`
	Initialized bool                    `json:"initialized"`
	Gauge       indicator.GaugeSnapshot `json:"gauge"`
}

// Snapshot captures the detector state. Fails if the gauge cannot be
// serialized.
func (d *Detector) Snapshot() (DetectorSnapshot, error) {
	sg, ok := d.gauge.(indicator.Snapshottable)
	if !ok {
		return DetectorSnapshot{}, fmt.Errorf("gauge %s does not implement Snapshottable", d.gauge.Name())
	}
	return DetectorSnapshot{
		Config:      d.cfg,
		FirstIndex:  d.bars.First(),
		Bars:        d.bars.Values(),
		Vols:        d.vols.Values(),
		PrevDir:     d.prevDir,
		CurrDir:     d.currDir,
		SwingHigh:   d.swingHigh,
		SwingLow:    d.swingLow,
		Blocks:      d.ledger.All(),
		HasInputs:   d.hasInputs,
		Initialized: d.initialized,
		Gauge:       sg.Snapshot(),
	}, nil
}

// RestoreDetector rebuilds a detector for cfg from snap. The window and gauge
// must match; block count and history cap may differ and take
// effect immediately.
func RestoreDetector(cfg Config, snap DetectorSnapshot, opts ...Option) (*Detector, error) {
	d, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if snap.Config.Period != d.cfg.Period || snap.Gauge.Config() != d.cfg.Gauge {
		return nil, fmt.Errorf("%w: snapshot period=%d gauge=%s/%d, config period=%d gauge=%s/%d",
			ErrSnapshotMismatch,
			snap.Config.Period, snap.Gauge.Type, snap.Gauge.Period,
			d.cfg.Period, d.cfg.Gauge.Type, d.cfg.Gauge.Period)
	}
	if len(snap.Bars) != len(snap.Vols) {
		return nil, fmt.Errorf("%w: %d bars but %d gauge values", ErrSnapshotMismatch, len(snap.Bars), len(snap.Vols))
	}

	sg, ok := d.gauge.(indicator.Snapshottable)
	if !ok {
		return nil, fmt.Errorf("gauge %s does not implement Snapshottable", d.gauge.Name())
	}
	if err := sg.RestoreFromSnapshot(snap.Gauge); err != nil {
		return nil, err
	}

	d.bars.Restore(snap.FirstIndex, snap.Bars)
	d.vols.Restore(snap.FirstIndex, snap.Vols)
	d.prevDir = snap.PrevDir
	d.currDir = snap.CurrDir
	d.swingHigh = snap.SwingHigh
	d.swingLow = snap.SwingLow
	for _, ob := range snap.Blocks {
		d.ledger.Append(ob)
	}
	d.ledger.Prune()
	d.hasInputs = snap.HasInputs
	d.initialized = snap.Initialized
	return d, nil
}

// TokenSnapshot holds the detector snapshot for a single token within a TF.
type TokenSnapshot struct {
	Token    string           `json:"token"`
	Exchange string           `json:"exchange"`
	TF       int              `json:"tf"`
	Detector DetectorSnapshot `json:"detector"`
}

// EngineSnapshot holds the full state of the detector engine.
type EngineSnapshot struct {
	StreamID string          `json:"stream_id"` // Redis Stream ID at checkpoint time
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"` // schema version for forward compat
}

// SnapshotVersion is the current EngineSnapshot schema version.
const SnapshotVersion = 1

// MarshalEngineSnapshot encodes a snapshot for Redis or SQLite.
func MarshalEngineSnapshot(snap *EngineSnapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalEngineSnapshot decodes a snapshot written by MarshalEngineSnapshot.
func UnmarshalEngineSnapshot(data []byte) (*EngineSnapshot, error) {
	var snap EngineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode engine snapshot: %w", err)
	}
	return &snap, nil
}

// SnapshotEngine captures the full state of an Engine.
func SnapshotEngine(e *Engine, streamID string) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{
		StreamID: streamID,
		Version:  SnapshotVersion,
	}

	for tfIdx, cfg := range e.configs {
		for key, det := range e.state[tfIdx] {
			ds, err := det.Snapshot()
			if err != nil {
				return nil, fmt.Errorf("TF=%d %s: %w", cfg.TF, key, err)
			}
			exchange, token := model.SplitKey(key)
			snap.Tokens = append(snap.Tokens, TokenSnapshot{
				Token:    token,
				Exchange: exchange,
				TF:       cfg.TF,
				Detector: ds,
			})
		}
	}

	return snap, nil
}

// RestoreEngine rebuilds an Engine from a snapshot.
// It is tolerant of config changes: tokens whose TF is no longer configured
// are skipped, and detectors whose window or gauge changed cold-start.
func RestoreEngine(configs []TFConfig, snap *EngineSnapshot, opts ...EngineOption) (*Engine, error) {
	e, err := NewEngine(configs, opts...)
	if err != nil {
		return nil, err
	}

	restored, cold := 0, 0
	for _, ts := range snap.Tokens {
		tfIdx, ok := e.tfIndex[ts.TF]
		if !ok {
			continue // TF no longer configured
		}

		det, err := RestoreDetector(e.configs[tfIdx].Config, ts.Detector, e.detectorOptions(ts.TF)...)
		if err != nil {
			// Non-fatal: log and leave cold; the detector is created lazily
			log.Printf("[restorer] TF=%d token=%s: cold-starting detector: %v", ts.TF, ts.Token, err)
			cold++
			continue
		}
		e.state[tfIdx][model.JoinKey(ts.Exchange, ts.Token)] = det
		restored++
	}

	if cold > 0 {
		log.Printf("[restorer] restored %d, cold-started %d detectors", restored, cold)
	}
	return e, nil
}
