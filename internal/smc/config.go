package smc

import (
	"fmt"

	"smc-engine/internal/indicator"
)

// Config sizes a detector.
type Config struct {
	// Period is the sliding window length for swing detection.
	Period int `json:"period"`
	// BlockCount is the number of most recent order blocks exposed by
	// VisibleBlocks. The ledger retains up to twice as many.
	BlockCount int `json:"order_block_count"`
	// Gauge selects the volatility estimator. Zero value means
	// indicator.DefaultGaugeConfig().
	Gauge indicator.GaugeConfig `json:"gauge"`
	// HistoryCap bounds the retained bar history. 0 keeps every bar.
	HistoryCap int `json:"history_cap,omitempty"`
}

// DefaultConfig returns period 5, five visible blocks, simple ATR(200).
func DefaultConfig() Config {
	return Config{
		Period:     5,
		BlockCount: 5,
		Gauge:      indicator.DefaultGaugeConfig(),
	}
}

func (c Config) withDefaults() Config {
	if c.Gauge == (indicator.GaugeConfig{}) {
		c.Gauge = indicator.DefaultGaugeConfig()
	}
	return c
}

// Validate checks the config. It never clamps.
func (c Config) Validate() error {
	if c.Period <= 0 {
		return fmt.Errorf("%w: period=%d", ErrInvalidPeriod, c.Period)
	}
	if c.BlockCount <= 0 {
		return fmt.Errorf("%w: order_block_count=%d", ErrInvalidBlockCount, c.BlockCount)
	}
	if c.HistoryCap < 0 {
		return fmt.Errorf("%w: history_cap=%d", ErrHistoryTooSmall, c.HistoryCap)
	}
	if c.HistoryCap > 0 && c.HistoryCap < c.Period+1 {
		return fmt.Errorf("%w: history_cap=%d period=%d", ErrHistoryTooSmall, c.HistoryCap, c.Period)
	}
	return nil
}
