package smc

import (
	"fmt"
	"log"

	"smc-engine/internal/indicator"
)

// ReloadConfigs swaps in new per-TF configs.
// Detectors of unchanged TFs are kept as is. For changed TFs each detector is
// migrated through a snapshot when its window and gauge still match, and
// cold-started otherwise. Returns the number of preserved detectors and the
// number of TFs or detectors that start cold.
func (e *Engine) ReloadConfigs(newConfigs []TFConfig) (preserved, created int, err error) {
	newConfigs = normalizeConfigs(newConfigs)
	if err := ValidateConfigs(newConfigs); err != nil {
		return 0, 0, err
	}

	oldCfgByTF := make(map[int]Config, len(e.configs))
	oldStateByTF := make(map[int]map[string]*Detector, len(e.configs))
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg.Config
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*Detector, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			newState[i] = make(map[string]*Detector, 64)
			created++
			log.Printf("[reload] TF=%d: new timeframe, cold-starting", newCfg.TF)
			continue
		}

		if oldCfg == newCfg.Config {
			newState[i] = oldTFState
			preserved += len(oldTFState)
			log.Printf("[reload] TF=%d: unchanged, preserved %d detectors", newCfg.TF, len(oldTFState))
			continue
		}

		migrated := make(map[string]*Detector, len(oldTFState))
		for key, det := range oldTFState {
			snap, err := det.Snapshot()
			if err == nil {
				var next *Detector
				next, err = RestoreDetector(newCfg.Config, snap, e.detectorOptions(newCfg.TF)...)
				if err == nil {
					migrated[key] = next
					preserved++
					continue
				}
			}
			// Dropped detectors are recreated on the next bar
			log.Printf("[reload] TF=%d %s: cold-starting: %v", newCfg.TF, key, err)
			created++
		}
		newState[i] = migrated
		log.Printf("[reload] TF=%d: migrated %d of %d detectors", newCfg.TF, len(migrated), len(oldTFState))
	}

	e.setConfigs(newConfigs, newState)

	log.Printf("[reload] config reloaded: %d TFs, %d preserved, %d new", len(newConfigs), preserved, created)
	return preserved, created, nil
}

// ValidateConfigs checks a set of TFConfigs for errors.
func ValidateConfigs(configs []TFConfig) error {
	seen := make(map[int]bool, len(configs))
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		c := cfg.Config.withDefaults()
		if err := c.Validate(); err != nil {
			return fmt.Errorf("TF=%d: %w", cfg.TF, err)
		}
		if err := indicator.ValidateGaugeConfig(c.Gauge); err != nil {
			return fmt.Errorf("TF=%d: %w", cfg.TF, err)
		}
	}
	return nil
}
