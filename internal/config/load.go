package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Load merges Default() + the YAML file at path + PCS_* environment
// overrides, then validates. An empty path skips the file stage.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides applies PCS_* environment variables on top of the
// loaded configuration. Unparseable values are ignored in favor of the
// existing value.
func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("PCS_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("PCS_LOG_FILE"); val != "" {
		cfg.Log.File = val
	}

	if val := os.Getenv("PCS_API_ADDR"); val != "" {
		cfg.API.Addr = val
	}
	if val := os.Getenv("PCS_API_JWT_SECRET"); val != "" {
		cfg.API.JWTSecret = val
	}

	if val := os.Getenv("PCS_INFLUX_URL"); val != "" {
		cfg.Feeds.Influx.URL = val
	}
	if val := os.Getenv("PCS_INFLUX_TOKEN"); val != "" {
		cfg.Feeds.Influx.Token = val
	}
	if val := os.Getenv("PCS_INFLUX_ORG"); val != "" {
		cfg.Feeds.Influx.Org = val
	}
	if val := os.Getenv("PCS_INFLUX_BUCKET"); val != "" {
		cfg.Feeds.Influx.Bucket = val
	}

	overrideDuration("PCS_TIMING_DEFAULT_LOCK_TIMEOUT", &cfg.Timing.DefaultLockTimeout)
	overrideDuration("PCS_TIMING_YIELD_INTERVAL", &cfg.Timing.YieldInterval)
	overrideDuration("PCS_TIMING_REACQUIRE_TIMEOUT", &cfg.Timing.ReacquireTimeout)
	overrideDuration("PCS_TIMING_OUTAGE_AFTER", &cfg.Timing.OutageAfter)
	overrideDuration("PCS_TIMING_RECONFIGURE_EVERY", &cfg.Timing.ReconfigureEvery)
	overrideDuration("PCS_TIMING_POLL_INTERVAL", &cfg.Timing.PollInterval)

	if val := os.Getenv("PCS_TIMING_BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.Timing.BatchSize = size
		}
	}
}

func overrideDuration(key string, dst *Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = Duration(d)
		}
	}
}
