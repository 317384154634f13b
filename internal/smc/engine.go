package smc

import (
	"context"
	"log"

	"smc-engine/internal/model"
)

// TFConfig sizes the detectors of one timeframe.
type TFConfig struct {
	TF int `json:"tf"` // timeframe in seconds
	Config
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithDetectorOptions applies opts to every detector the engine creates.
func WithDetectorOptions(opts ...Option) EngineOption {
	return func(e *Engine) { e.detOpts = append(e.detOpts, opts...) }
}

// WithObserverFor attaches fn(tf) as the observer of each new detector.
func WithObserverFor(fn func(tf int) Observer) EngineOption {
	return func(e *Engine) { e.observerFor = fn }
}

// Engine runs one Detector per TF per "exchange:token".
// Designed for single-goroutine usage: no locks needed.
type Engine struct {
	configs []TFConfig
	tfIndex map[int]int

	// state[tfIdx][tokenKey] → *Detector
	state []map[string]*Detector

	detOpts     []Option
	observerFor func(tf int) Observer
}

// NewEngine creates an engine for the given per-TF configs.
func NewEngine(configs []TFConfig, opts ...EngineOption) (*Engine, error) {
	configs = normalizeConfigs(configs)
	if err := ValidateConfigs(configs); err != nil {
		return nil, err
	}
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	e.setConfigs(configs, nil)
	return e, nil
}

func (e *Engine) setConfigs(configs []TFConfig, state []map[string]*Detector) {
	if state == nil {
		state = make([]map[string]*Detector, len(configs))
		for i := range state {
			state[i] = make(map[string]*Detector, 64)
		}
	}
	e.configs = configs
	e.state = state
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
	}
}

func (e *Engine) detectorOptions(tf int) []Option {
	opts := append([]Option(nil), e.detOpts...)
	if e.observerFor != nil {
		opts = append(opts, WithObserver(e.observerFor(tf)))
	}
	return opts
}

// Process feeds a closed bar to its detector and returns the resulting
// visible blocks. Returns nil if the TF is not configured or the bar was
// rejected.
func (e *Engine) Process(bar model.Bar) *model.BlockUpdate {
	tfIdx, ok := e.tfIndex[bar.TF]
	if !ok {
		return nil
	}

	key := bar.Key()
	det, exists := e.state[tfIdx][key]
	if !exists {
		// First bar for this token + TF
		var err error
		det, err = New(e.configs[tfIdx].Config, e.detectorOptions(bar.TF)...)
		if err != nil {
			log.Printf("[engine] TF=%d %s: create detector: %v", bar.TF, key, err)
			return nil
		}
		e.state[tfIdx][key] = det
	}

	if err := det.HandleBar(&bar); err != nil {
		log.Printf("[engine] TF=%d %s: %v", bar.TF, key, err)
		return nil
	}

	return &model.BlockUpdate{
		Token:    bar.Token,
		Exchange: bar.Exchange,
		TF:       bar.TF,
		TS:       bar.TS,
		Close:    bar.Close,
		Blocks:   det.VisibleBlocks(),
		Ready:    det.Initialized(),
	}
}

// ProcessPeek previews the visible blocks for a forming bar using
// PeekBlocks. Does NOT mutate detector state: safe for streaming updates
// every second. Returns nil if the token hasn't been seen before.
func (e *Engine) ProcessPeek(bar model.Bar) *model.BlockUpdate {
	tfIdx, ok := e.tfIndex[bar.TF]
	if !ok {
		return nil
	}
	det, exists := e.state[tfIdx][bar.Key()]
	if !exists {
		// Not seeded by a closed bar yet
		return nil
	}
	return &model.BlockUpdate{
		Token:    bar.Token,
		Exchange: bar.Exchange,
		TF:       bar.TF,
		TS:       bar.TS,
		Close:    bar.Close,
		Blocks:   det.PeekBlocks(bar.Close),
		Ready:    det.Initialized(),
		Live:     true,
	}
}

// Run consumes bars and emits block updates. Blocks until ctx done or barCh
// closes.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar, updCh chan<- model.BlockUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			if bar.Forming {
				continue // skip forming bars
			}
			upd := e.Process(bar)
			if upd == nil {
				continue
			}
			select {
			case updCh <- *upd:
			default:
				// drop if channel full
			}
		}
	}
}

// Detector returns the detector for a TF and "exchange:token" key.
func (e *Engine) Detector(tf int, key string) (*Detector, bool) {
	tfIdx, ok := e.tfIndex[tf]
	if !ok {
		return nil, false
	}
	det, ok := e.state[tfIdx][key]
	return det, ok
}

// Configs returns a copy of the active per-TF configs.
func (e *Engine) Configs() []TFConfig {
	return append([]TFConfig(nil), e.configs...)
}

// Keys returns the token keys with a live detector on tf.
func (e *Engine) Keys(tf int) []string {
	tfIdx, ok := e.tfIndex[tf]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(e.state[tfIdx]))
	for k := range e.state[tfIdx] {
		keys = append(keys, k)
	}
	return keys
}

// DetectorCount returns the number of live detectors across all TFs.
func (e *Engine) DetectorCount() int {
	n := 0
	for _, m := range e.state {
		n += len(m)
	}
	return n
}

func normalizeConfigs(configs []TFConfig) []TFConfig {
	out := make([]TFConfig, len(configs))
	for i, cfg := range configs {
		out[i] = TFConfig{TF: cfg.TF, Config: cfg.Config.withDefaults()}
	}
	return out
}
