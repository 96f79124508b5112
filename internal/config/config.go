// Package config loads the fusekit configuration from a YAML file and
// FUSEKIT_* environment variables, applies defaults, and validates the
// result.
//
// Precedence, highest first: environment variables, configuration file,
// built-in defaults. A missing configuration file is not an error; the
// defaults alone form a valid configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/fusekit/fusekit/internal/metrics"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// FUSEKIT_LOGGING_LEVEL=DEBUG or FUSEKIT_STORE_BUCKET=data.
const EnvPrefix = "FUSEKIT"

// Config is the complete configuration tree.
type Config struct {
	Logging LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Session SessionConfig  `mapstructure:"session" yaml:"session"`
	Metrics metrics.Config `mapstructure:"metrics" yaml:"metrics"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum level to emit: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format is the line format: text or json.
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`

	// Components overrides the level per component, e.g. {"bridge": "DEBUG"}.
	Components map[string]string `mapstructure:"components" yaml:"components,omitempty"`
}

// SessionConfig carries run-loop defaults. Command-line flags override
// these at mount time.
type SessionConfig struct {
	// Bridge picks the kernel backend. Empty selects the platform
	// default; the FUSEKIT_BRIDGE variable read by the bridge registry
	// still wins over this field.
	Bridge string `mapstructure:"bridge" yaml:"bridge" validate:"omitempty,oneof=gofuse cgofuse mem"`

	// SingleThread serves requests on one goroutine instead of the
	// worker pool.
	SingleThread bool `mapstructure:"single_thread" yaml:"single_thread"`

	// MaxActive caps the worker pool. Zero means unbounded.
	MaxActive int `mapstructure:"max_active" yaml:"max_active" validate:"gte=0"`

	// MaxIdle bounds how many extra workers may sit idle before the
	// pool shrinks.
	MaxIdle int `mapstructure:"max_idle" yaml:"max_idle" validate:"gte=0"`

	// Options is a comma-separated mount option list in -o syntax,
	// merged before any options given on the command line.
	Options string `mapstructure:"options" yaml:"options,omitempty"`

	// ShutdownTimeout bounds how long teardown waits for in-flight
	// operations to drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// StoreConfig configures the S3 object store. The store is considered
// enabled when Bucket is non-empty.
//
// Credentials resolve in order: Anonymous, static keys, the named
// Profile, then the ambient AWS credential chain.
type StoreConfig struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty" validate:"omitempty,url"`
	Profile   string `mapstructure:"profile" yaml:"profile,omitempty"`
	Anonymous bool   `mapstructure:"anonymous" yaml:"anonymous,omitempty"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style,omitempty"`

	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	SessionToken    string `mapstructure:"session_token" yaml:"session_token,omitempty"`

	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Breaker BreakerConfig `mapstructure:"circuit_breaker" yaml:"circuit_breaker"`
}

// CacheConfig configures the object read cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxSize    int64         `mapstructure:"max_size" yaml:"max_size" validate:"gte=0"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
}

// RetryConfig configures backoff for object store calls.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay" validate:"gt=0"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"gte=1"`
	Jitter       bool          `mapstructure:"jitter" yaml:"jitter"`
}

// BreakerConfig configures the circuit breaker guarding the object
// store.
type BreakerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold uint32 `mapstructure:"failure_threshold" yaml:"failure_threshold" validate:"gte=1"`

	// MaxRequests is how many probes the half-open state admits.
	MaxRequests uint32 `mapstructure:"max_requests" yaml:"max_requests" validate:"gte=1"`

	// Interval is the closed-state counting window.
	Interval time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

// StoreEnabled reports whether an object store is configured.
func (c *Config) StoreEnabled() bool {
	return c.Store.Bucket != ""
}

// Load reads the configuration from path, layers FUSEKIT_* environment
// variables on top, fills defaults, and validates. An empty path falls
// back to the default location; a missing file at either is fine.
func Load(path string) (*Config, error) {
	v := viper.New()
	setupViper(v, path)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so environment overrides apply even without a
	// configuration file.
	d := NewDefault()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("session.bridge", d.Session.Bridge)
	v.SetDefault("session.single_thread", d.Session.SingleThread)
	v.SetDefault("session.max_active", d.Session.MaxActive)
	v.SetDefault("session.max_idle", d.Session.MaxIdle)
	v.SetDefault("session.options", d.Session.Options)
	v.SetDefault("session.shutdown_timeout", d.Session.ShutdownTimeout)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.port", d.Metrics.Port)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)
	v.SetDefault("metrics.update_interval", d.Metrics.UpdateInterval)
	v.SetDefault("store.bucket", d.Store.Bucket)
	v.SetDefault("store.prefix", d.Store.Prefix)
	v.SetDefault("store.region", d.Store.Region)
	v.SetDefault("store.endpoint", d.Store.Endpoint)
	v.SetDefault("store.profile", d.Store.Profile)
	v.SetDefault("store.anonymous", d.Store.Anonymous)
	v.SetDefault("store.path_style", d.Store.PathStyle)
	v.SetDefault("store.access_key_id", d.Store.AccessKeyID)
	v.SetDefault("store.secret_access_key", d.Store.SecretAccessKey)
	v.SetDefault("store.session_token", d.Store.SessionToken)
	v.SetDefault("store.cache.enabled", d.Store.Cache.Enabled)
	v.SetDefault("store.cache.max_size", d.Store.Cache.MaxSize)
	v.SetDefault("store.cache.max_entries", d.Store.Cache.MaxEntries)
	v.SetDefault("store.cache.ttl", d.Store.Cache.TTL)
	v.SetDefault("store.retry.max_attempts", d.Store.Retry.MaxAttempts)
	v.SetDefault("store.retry.initial_delay", d.Store.Retry.InitialDelay)
	v.SetDefault("store.retry.max_delay", d.Store.Retry.MaxDelay)
	v.SetDefault("store.retry.multiplier", d.Store.Retry.Multiplier)
	v.SetDefault("store.retry.jitter", d.Store.Retry.Jitter)
	v.SetDefault("store.circuit_breaker.enabled", d.Store.Breaker.Enabled)
	v.SetDefault("store.circuit_breaker.failure_threshold", d.Store.Breaker.FailureThreshold)
	v.SetDefault("store.circuit_breaker.max_requests", d.Store.Breaker.MaxRequests)
	v.SetDefault("store.circuit_breaker.interval", d.Store.Breaker.Interval)
	v.SetDefault("store.circuit_breaker.timeout", d.Store.Breaker.Timeout)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(defaultConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// SaveToFile writes the configuration as YAML, creating the parent
// directory if needed.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultPath returns the default configuration file location,
// $XDG_CONFIG_HOME/fusekit/config.yaml or ~/.config/fusekit/config.yaml.
func DefaultPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fusekit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fusekit")
}
