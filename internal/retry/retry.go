// Package retry runs object store calls again after transient
// failures, backing off exponentially between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"time"
)

// Config defines retry behavior. Zero values take the defaults.
type Config struct {
	// MaxAttempts counts the initial attempt. Default 5.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialDelay precedes the first retry. Default 100ms.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the backoff. Default 30s.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier grows the delay after each retry. Default 2.
	Multiplier float64 `yaml:"multiplier"`

	// Jitter randomizes each delay by ±20% to spread out retry storms.
	Jitter bool `yaml:"jitter"`

	// Retryable classifies errors. The default refuses context
	// cancellation, fs.ErrNotExist, and fs.ErrPermission and retries
	// everything else.
	Retryable func(err error) bool `yaml:"-"`

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer executes functions under a retry policy.
type Retryer struct {
	config Config
}

// New builds a Retryer, filling zero config fields with defaults.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}
	if config.Retryable == nil {
		config.Retryable = defaultRetryable
	}
	return &Retryer{config: config}
}

// Do invokes fn until it succeeds, a non-retryable error occurs, the
// attempt budget runs out, or ctx is done. The terminal attempt's error
// is wrapped in the exhaustion message so errors.Is still matches it.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry: canceled: %w", ctx.Err())
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !r.config.Retryable(err) {
			return err
		}

		if attempt < r.config.MaxAttempts {
			delay := r.delay(attempt)
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, err, delay)
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry: canceled after %d attempts: %w", attempt, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("retry: %d attempts exhausted: %w", r.config.MaxAttempts, lastErr)
}

// delay computes the backoff before the next attempt.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		d += d * 0.2 * (rand.Float64()*2 - 1)
	}
	return time.Duration(d)
}

// defaultRetryable treats cancellation and definitive failures as
// final. Missing objects and refused credentials do not improve with
// repetition.
func defaultRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return false
	}
	return true
}
