package smc

import (
	"log/slog"

	"smc-engine/internal/indicator"
	"smc-engine/internal/model"
	"smc-engine/internal/ringbuf"
)

// Detector tracks swing structure and order blocks for one bar series.
// Designed for single-goroutine usage: the owner serializes HandleBar calls.
type Detector struct {
	cfg   Config
	gauge indicator.Gauge

	bars *ringbuf.Series[model.Bar]
	vols *ringbuf.Series[float64] // gauge value after each bar, aligned with bars

	prevDir   Direction
	currDir   Direction
	swingHigh Pivot
	swingLow  Pivot

	ledger *Ledger

	hasInputs   bool
	initialized bool

	obs Observer
	log *slog.Logger
}

// Option customizes a Detector.
type Option func(*Detector)

// WithLogger sets the logger used for debug output. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(d *Detector) { d.obs = o }
}

// WithGauge replaces the configured gauge with g. Snapshots require g to
// implement indicator.Snapshottable.
func WithGauge(g indicator.Gauge) Option {
	return func(d *Detector) { d.gauge = g }
}

// New creates a detector. Invalid configs are rejected, never clamped.
func New(cfg Config, opts ...Option) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:    cfg,
		bars:   ringbuf.NewSeries[model.Bar](cfg.HistoryCap),
		vols:   ringbuf.NewSeries[float64](cfg.HistoryCap),
		ledger: NewLedger(cfg.BlockCount),
		obs:    NopObserver{},
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.gauge == nil {
		g, err := indicator.NewGauge(cfg.Gauge)
		if err != nil {
			return nil, err
		}
		d.gauge = g
	}
	return d, nil
}

// HandleBar processes one closed bar. Bars must arrive in increasing
// timestamp order; this is not checked.
func (d *Detector) HandleBar(bar *model.Bar) error {
	if bar == nil {
		return ErrNilBar
	}

	d.gauge.Update(bar.High, bar.Low, bar.Close)
	d.bars.Push(*bar)
	d.vols.Push(d.gauge.Value())
	d.prevDir = d.currDir

	// The gate reads readiness as of the previous bar.
	if d.initialized {
		if d.bars.Len() >= d.cfg.Period+1 {
			d.classify()
			d.build(bar)
		}
		for _, ob := range d.ledger.Invalidate(bar.Close) {
			d.log.Debug("order block invalidated", "side", ob.Side, "low", ob.Low, "high", ob.High, "close", bar.Close)
			d.obs.BlockInvalidated(ob)
		}
	}

	if n := d.ledger.Prune(); n > 0 {
		d.obs.BlocksPruned(n)
	}

	d.updateReadiness()

	d.log.Debug("bar handled",
		"ts", bar.TS,
		"gauge", d.gauge.Value(),
		"swing_high_valid", d.swingHigh.Valid,
		"swing_low_valid", d.swingLow.Valid,
		"blocks", d.ledger.Len())
	return nil
}

func (d *Detector) updateReadiness() {
	if d.initialized {
		return
	}
	d.hasInputs = true
	if d.bars.Len() >= d.cfg.Period {
		d.initialized = true
	}
	if d.gauge.Ready() {
		d.initialized = true
	}
}

// Reset returns the detector to UNINITIALIZED and resets its gauge.
func (d *Detector) Reset() {
	d.bars.Reset()
	d.vols.Reset()
	d.prevDir = DirLow
	d.currDir = DirLow
	d.swingHigh = Pivot{}
	d.swingLow = Pivot{}
	d.ledger.Reset()
	d.hasInputs = false
	d.initialized = false
	d.gauge.Reset()
}

// VisibleBlocks returns the newest BlockCount order blocks, oldest first.
func (d *Detector) VisibleBlocks() []model.OrderBlock {
	return d.ledger.Visible()
}

// Blocks returns every retained order block, oldest first.
func (d *Detector) Blocks() []model.OrderBlock {
	return d.ledger.All()
}

// PeekBlocks returns the visible blocks as they would be after a bar closing
// at close runs the invalidation and prune passes. Does NOT mutate state:
// safe for previewing a forming bar.
func (d *Detector) PeekBlocks(close float64) []model.OrderBlock {
	if !d.initialized {
		return d.VisibleBlocks()
	}
	kept := make([]model.OrderBlock, 0, d.ledger.Len())
	for _, ob := range d.ledger.blocks {
		if !ob.BrokenBy(close) {
			kept = append(kept, ob)
		}
	}
	if excess := len(kept) - 2*d.cfg.BlockCount; excess > 0 {
		kept = kept[excess:]
	}
	return visibleSuffix(kept, d.cfg.BlockCount)
}

// State returns the readiness state.
func (d *Detector) State() State {
	switch {
	case d.initialized:
		return StateInitialized
	case d.hasInputs:
		return StateHasInput
	default:
		return StateUninitialized
	}
}

// Initialized reports whether the structure pass is enabled.
func (d *Detector) Initialized() bool { return d.initialized }

// HasInputs reports whether any bar has been accepted since the last reset.
func (d *Detector) HasInputs() bool { return d.hasInputs }

// SwingHigh returns the current swing-high pivot.
func (d *Detector) SwingHigh() Pivot { return d.swingHigh }

// SwingLow returns the current swing-low pivot.
func (d *Detector) SwingLow() Pivot { return d.swingLow }

// Directions returns the previous-bar and current-bar swing directions.
func (d *Detector) Directions() (prev, curr Direction) { return d.prevDir, d.currDir }

// BarCount returns the number of bars handled since the last reset.
func (d *Detector) BarCount() int { return d.bars.Len() }

// LastBar returns the most recent closed bar, if any.
func (d *Detector) LastBar() (model.Bar, bool) {
	if d.bars.Len() == 0 {
		return model.Bar{}, false
	}
	return d.bars.At(d.bars.Len() - 1)
}

// Volatility returns the gauge's current value.
func (d *Detector) Volatility() float64 { return d.gauge.Value() }

// Config returns the detector's effective config.
func (d *Detector) Config() Config { return d.cfg }
