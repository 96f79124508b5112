package config

import (
	"strings"
	"time"

	"github.com/fusekit/fusekit/internal/metrics"
)

// NewDefault returns a configuration with every default applied. The
// metrics server stays off until enabled explicitly.
//
// Boolean defaults that are true live here rather than in ApplyDefaults,
// which cannot tell an explicit false from an unset field.
func NewDefault() *Config {
	cfg := &Config{}
	cfg.Store.Cache.Enabled = true
	cfg.Store.Retry.Jitter = true
	cfg.Store.Breaker.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values with defaults and normalizes the
// logging level fields to uppercase. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySessionDefaults(&cfg.Session)
	applyMetricsDefaults(&cfg.Metrics)
	applyStoreDefaults(&cfg.Store)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
	for name, level := range cfg.Components {
		cfg.Components[name] = strings.ToUpper(level)
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.MaxActive == 0 {
		cfg.MaxActive = 10
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = 3
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *metrics.Config) {
	d := metrics.NewConfig()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.Path == "" {
		cfg.Path = d.Path
	}
	if cfg.Namespace == "" {
		cfg.Namespace = d.Namespace
	}
	if cfg.UpdateInterval == 0 {
		cfg.UpdateInterval = d.UpdateInterval
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 256 << 20
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 4096
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = time.Minute
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 100 * time.Millisecond
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = 2.0
	}

	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 5
	}
	if cfg.Breaker.MaxRequests == 0 {
		cfg.Breaker.MaxRequests = 1
	}
	if cfg.Breaker.Interval == 0 {
		cfg.Breaker.Interval = 60 * time.Second
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = 60 * time.Second
	}
}
