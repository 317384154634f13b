// Package indicator provides the volatility gauges consumed by the order
// block detector.
//
// Every gauge is a true-range estimator fed one bar at a time through
// Update(high, low, close). The detector only reads Value and Ready, so any
// estimator with this contract is substitutable.
package indicator

import (
	"fmt"
	"math"
)

// Gauge types accepted by NewGauge.
const (
	TypeSimple = "SIMPLE" // simple moving average of true range
	TypeWilder = "WILDER" // Wilder smoothing, matches TA-Lib ATR
	TypeExp    = "EXP"    // exponential smoothing
)

// DefaultPeriod is the ATR window used when none is configured.
const DefaultPeriod = 200

// Gauge is a running volatility estimate.
type Gauge interface {
	// Name returns the gauge name (e.g. "ATR_SIMPLE").
	Name() string

	// Update feeds one bar's high, low and close.
	Update(high, low, close float64)

	// Value returns the current estimate. Before Ready it is the mean of the
	// true ranges seen so far (0 before any input).
	Value() float64

	// Ready returns true once the full window has been observed.
	Ready() bool

	// Reset clears all state for reuse.
	Reset()
}

// GaugeConfig selects and sizes a gauge.
type GaugeConfig struct {
	Type   string `json:"type"`
	Period int    `json:"period"`
}

// DefaultGaugeConfig mirrors the reference detector: simple ATR over 200 bars.
func DefaultGaugeConfig() GaugeConfig {
	return GaugeConfig{Type: TypeSimple, Period: DefaultPeriod}
}

// ValidateGaugeConfig checks type and period.
func ValidateGaugeConfig(cfg GaugeConfig) error {
	switch cfg.Type {
	case TypeSimple, TypeWilder, TypeExp:
	default:
		return fmt.Errorf("unknown gauge type %q", cfg.Type)
	}
	if cfg.Period <= 0 {
		return fmt.Errorf("invalid gauge period=%d: must be positive", cfg.Period)
	}
	return nil
}

// NewGauge creates a gauge from its config.
func NewGauge(cfg GaugeConfig) (Gauge, error) {
	if err := ValidateGaugeConfig(cfg); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeWilder:
		return NewWilderATR(cfg.Period), nil
	case TypeExp:
		return NewExpATR(cfg.Period), nil
	default:
		return NewSimpleATR(cfg.Period), nil
	}
}

// trueRange tracks the previous close. The first bar has no previous close
// and yields high - low.
type trueRange struct {
	prevClose float64
	hasPrev   bool
}

func (t *trueRange) next(high, low, close float64) float64 {
	if !t.hasPrev {
		t.prevClose = close
		t.hasPrev = true
		return high - low
	}
	tr := math.Max(high, t.prevClose) - math.Min(low, t.prevClose)
	t.prevClose = close
	return tr
}

func (t *trueRange) reset() {
	t.prevClose = 0
	t.hasPrev = false
}
