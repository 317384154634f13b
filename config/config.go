// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"smc-engine/internal/indicator"
	"smc-engine/internal/smc"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the smcengine settings. Every field maps to one environment
// variable; a .env file, if present, is loaded first and never overrides
// variables already set.
type Config struct {
	// Infrastructure
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/bars.db"`
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":9095"`

	// Subscription
	EnabledTFs      []int    `envconfig:"ENABLED_TFS" default:"60,300"`
	SubscribeTokens []string `envconfig:"SUBSCRIBE_TOKENS"` // "exchange:token"; numeric exchange types allowed

	// Detector
	SwingPeriod     int    `envconfig:"SWING_PERIOD" default:"5"`
	OrderBlockCount int    `envconfig:"ORDER_BLOCK_COUNT" default:"5"`
	GaugeType       string `envconfig:"GAUGE_TYPE" default:"SIMPLE"`
	GaugePeriod     int    `envconfig:"GAUGE_PERIOD" default:"200"`
	HistoryCap      int    `envconfig:"HISTORY_CAP" default:"0"`

	// Checkpoints and recovery
	SnapshotIntervalSec int    `envconfig:"SNAPSHOT_INTERVAL_SEC" default:"30"`
	SnapshotKey         string `envconfig:"SNAPSHOT_KEY" default:"smc:snapshot:engine"`
	BackfillBars        int    `envconfig:"BACKFILL_BARS" default:"500"`

	// Redis consumer
	ConsumerGroup  string `envconfig:"CONSUMER_GROUP" default:"smcengine"`
	ConsumerName   string `envconfig:"CONSUMER_NAME" default:"worker-1"`
	ConfigChannel  string `envconfig:"CONFIG_CHANNEL" default:"config:smc"`
	PELIntervalSec int    `envconfig:"PEL_RECLAIM_INTERVAL_SEC" default:"30"`
	PELMinIdleMs   int64  `envconfig:"PEL_MIN_IDLE_MS" default:"60000"`
	PeekRingSize   int    `envconfig:"PEEK_RING_SIZE" default:"4096"`

	// Redis circuit breaker
	BreakerFailures    int `envconfig:"BREAKER_MAX_FAILURES" default:"5"`
	BreakerCoolDownSec int `envconfig:"BREAKER_COOLDOWN_SEC" default:"10"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads envFiles (or ".env" when none are given, ignoring a missing
// file), then the environment, and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	cfg.GaugeType = strings.ToUpper(strings.TrimSpace(cfg.GaugeType))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks everything Load cannot express with tags.
func (c *Config) Validate() error {
	if len(c.EnabledTFs) == 0 {
		return fmt.Errorf("ENABLED_TFS is empty")
	}
	if c.SnapshotIntervalSec <= 0 {
		return fmt.Errorf("invalid SNAPSHOT_INTERVAL_SEC=%d: must be positive", c.SnapshotIntervalSec)
	}
	if c.PELIntervalSec <= 0 {
		return fmt.Errorf("invalid PEL_RECLAIM_INTERVAL_SEC=%d: must be positive", c.PELIntervalSec)
	}
	if c.PeekRingSize <= 0 {
		return fmt.Errorf("invalid PEEK_RING_SIZE=%d: must be positive", c.PeekRingSize)
	}
	if c.BreakerFailures <= 0 {
		return fmt.Errorf("invalid BREAKER_MAX_FAILURES=%d: must be positive", c.BreakerFailures)
	}
	if c.BreakerCoolDownSec <= 0 {
		return fmt.Errorf("invalid BREAKER_COOLDOWN_SEC=%d: must be positive", c.BreakerCoolDownSec)
	}
	if c.BackfillBars < 0 {
		return fmt.Errorf("invalid BACKFILL_BARS=%d", c.BackfillBars)
	}
	if err := smc.ValidateConfigs(c.DetectorConfigs()); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}
	return nil
}

// DetectorConfig returns the per-detector settings shared by every TF.
func (c *Config) DetectorConfig() smc.Config {
	return smc.Config{
		Period:     c.SwingPeriod,
		BlockCount: c.OrderBlockCount,
		Gauge: indicator.GaugeConfig{
			Type:   c.GaugeType,
			Period: c.GaugePeriod,
		},
		HistoryCap: c.HistoryCap,
	}
}

// DetectorConfigs builds one TFConfig per enabled TF.
func (c *Config) DetectorConfigs() []smc.TFConfig {
	configs := make([]smc.TFConfig, len(c.EnabledTFs))
	for i, tf := range c.EnabledTFs {
		configs[i] = smc.TFConfig{TF: tf, Config: c.DetectorConfig()}
	}
	return configs
}

// TokenKeys returns SUBSCRIBE_TOKENS as "exchange:token" keys. Numeric
// exchange types are mapped to names (1=NSE, 2=NFO, 3=BSE); entries without
// an exchange are kept as bare tokens.
func (c *Config) TokenKeys() []string {
	keys := make([]string, 0, len(c.SubscribeTokens))
	for _, entry := range c.SubscribeTokens {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		exchange, token, found := strings.Cut(entry, ":")
		if !found {
			keys = append(keys, entry)
			continue
		}
		switch exchange {
		case "1":
			exchange = "NSE"
		case "2":
			exchange = "NFO"
		case "3":
			exchange = "BSE"
		}
		keys = append(keys, exchange+":"+token)
	}
	return keys
}

// SnapshotInterval returns SNAPSHOT_INTERVAL_SEC as a duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSec) * time.Second
}

// PELInterval returns PEL_RECLAIM_INTERVAL_SEC as a duration.
func (c *Config) PELInterval() time.Duration {
	return time.Duration(c.PELIntervalSec) * time.Second
}

// PELMinIdle returns PEL_MIN_IDLE_MS as a duration.
func (c *Config) PELMinIdle() time.Duration {
	return time.Duration(c.PELMinIdleMs) * time.Millisecond
}

// BreakerCoolDown returns BREAKER_COOLDOWN_SEC as a duration.
func (c *Config) BreakerCoolDown() time.Duration {
	return time.Duration(c.BreakerCoolDownSec) * time.Second
}
