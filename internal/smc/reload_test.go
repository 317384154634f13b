package smc

import (
	"testing"

	"smc-engine/internal/indicator"
)

func warmEngine(t *testing.T, configs []TFConfig) *Engine {
	t.Helper()
	e := mustEngine(t, configs)
	for i, p := range staircase(3) {
		for _, cfg := range configs {
			e.Process(engineBar("R", cfg.TF, i, p))
		}
	}
	return e
}

func TestReload_UnchangedPreserved(t *testing.T) {
	configs := []TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 3}}}
	e := warmEngine(t, configs)
	before, _ := e.Detector(60, "NSE:R")

	preserved, created, err := e.ReloadConfigs(configs)
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 || created != 0 {
		t.Fatalf("expected 1 preserved 0 new, got %d/%d", preserved, created)
	}
	after, _ := e.Detector(60, "NSE:R")
	if after != before {
		t.Fatal("unchanged TF should keep the same detector instance")
	}
}

func TestReload_BlockCountMigrates(t *testing.T) {
	e := warmEngine(t, []TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 3}}})
	before, _ := e.Detector(60, "NSE:R")
	bars := before.BarCount()

	preserved, created, err := e.ReloadConfigs([]TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 1}}})
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 || created != 0 {
		t.Fatalf("expected 1 preserved 0 new, got %d/%d", preserved, created)
	}
	after, ok := e.Detector(60, "NSE:R")
	if !ok || after.BarCount() != bars {
		t.Fatal("migrated detector lost its history")
	}
	if len(after.VisibleBlocks()) != 1 || after.Config().BlockCount != 1 {
		t.Fatalf("expected new block count applied, got %d visible", len(after.VisibleBlocks()))
	}
}

func TestReload_WindowChangeColdStarts(t *testing.T) {
	e := warmEngine(t, []TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 3}}})

	newCfg := []TFConfig{
		{TF: 60, Config: Config{Period: 8, BlockCount: 3}},
		{TF: 900, Config: Config{Period: 5, BlockCount: 3, Gauge: indicator.GaugeConfig{Type: indicator.TypeWilder, Period: 14}}},
	}
	preserved, created, err := e.ReloadConfigs(newCfg)
	if err != nil {
		t.Fatal(err)
	}
	// One cold detector on TF=60 plus the new TF=900
	if preserved != 0 || created != 2 {
		t.Fatalf("expected 0 preserved 2 new, got %d/%d", preserved, created)
	}
	if _, ok := e.Detector(60, "NSE:R"); ok {
		t.Fatal("expected TF=60 detector dropped for lazy cold start")
	}
	if upd := e.Process(engineBar("R", 900, 0, 100)); upd == nil {
		t.Fatal("expected TF=900 to be live after reload")
	}
}

func TestReload_InvalidKeepsOld(t *testing.T) {
	configs := []TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 3}}}
	e := warmEngine(t, configs)
	if _, _, err := e.ReloadConfigs([]TFConfig{{TF: 60, Config: Config{Period: -1, BlockCount: 3}}}); err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := e.Detector(60, "NSE:R"); !ok {
		t.Fatal("failed reload must not touch the running engine")
	}
}

func TestValidateConfigs(t *testing.T) {
	if err := ValidateConfigs([]TFConfig{{TF: 60, Config: DefaultConfig()}, {TF: 300, Config: DefaultConfig()}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := []TFConfig{{TF: 60, Config: Config{Period: 5, BlockCount: 5, Gauge: indicator.GaugeConfig{Type: "EXP", Period: 0}}}}
	if err := ValidateConfigs(bad); err == nil {
		t.Fatal("expected error for zero gauge period")
	}
}
