package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"smc-engine/internal/indicator"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %q", cfg.RedisAddr)
	}
	if len(cfg.EnabledTFs) != 2 || cfg.EnabledTFs[0] != 60 || cfg.EnabledTFs[1] != 300 {
		t.Errorf("expected TFs [60 300], got %v", cfg.EnabledTFs)
	}

	dc := cfg.DetectorConfig()
	if dc.Period != 5 || dc.BlockCount != 5 {
		t.Errorf("expected period 5 / 5 blocks, got %+v", dc)
	}
	if dc.Gauge != indicator.DefaultGaugeConfig() {
		t.Errorf("expected default gauge, got %+v", dc.Gauge)
	}
	if cfg.SnapshotInterval().Seconds() != 30 {
		t.Errorf("expected 30s snapshot interval, got %v", cfg.SnapshotInterval())
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ENABLED_TFS", "60,180,900")
	t.Setenv("SWING_PERIOD", "7")
	t.Setenv("ORDER_BLOCK_COUNT", "3")
	t.Setenv("GAUGE_TYPE", "wilder")
	t.Setenv("GAUGE_PERIOD", "14")
	t.Setenv("SUBSCRIBE_TOKENS", "1:26000,NFO:43650,TEST")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	configs := cfg.DetectorConfigs()
	if len(configs) != 3 {
		t.Fatalf("expected 3 TF configs, got %d", len(configs))
	}
	for _, c := range configs {
		if c.Period != 7 || c.BlockCount != 3 {
			t.Errorf("TF %d: unexpected sizes %+v", c.TF, c.Config)
		}
		if c.Gauge.Type != indicator.TypeWilder || c.Gauge.Period != 14 {
			t.Errorf("TF %d: unexpected gauge %+v", c.TF, c.Gauge)
		}
	}
	if configs[2].TF != 900 {
		t.Errorf("expected last TF 900, got %d", configs[2].TF)
	}

	keys := cfg.TokenKeys()
	want := []string{"NSE:26000", "NFO:43650", "TEST"}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("expected keys %v, got %v", want, keys)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"SWING_PERIOD":          "0",
		"ORDER_BLOCK_COUNT":     "-1",
		"GAUGE_TYPE":            "HULL",
		"HISTORY_CAP":           "3",
		"SNAPSHOT_INTERVAL_SEC": "0",
		"ENABLED_TFS":           "60,60",

		"PEL_RECLAIM_INTERVAL_SEC": "0",
		"PEEK_RING_SIZE":           "-4",
		"BREAKER_MAX_FAILURES":     "0",
		"BREAKER_COOLDOWN_SEC":     "0",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}

func TestLoad_BadNumber(t *testing.T) {
	t.Setenv("GAUGE_PERIOD", "abc")
	if _, err := Load(); err == nil {
		t.Fatal("expected envconfig parse error")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	const key = "CONSUMER_NAME"
	if _, set := os.LookupEnv(key); set {
		t.Skipf("%s already set in the environment", key)
	}
	t.Cleanup(func() { os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte(key+"=replica-7\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConsumerName != "replica-7" {
		t.Errorf("expected consumer name from env file, got %q", cfg.ConsumerName)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for a missing explicit env file")
	}
}
