// Package circuit implements the circuit breaker that guards object
// store calls. After enough consecutive failures the breaker opens and
// rejects calls outright; once the open timeout passes it admits a
// bounded number of probes, closing again on the first success.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

const (
	// StateClosed passes calls through.
	StateClosed State = iota
	// StateOpen rejects calls without invoking them.
	StateOpen
	// StateHalfOpen admits a limited number of probe calls.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit: breaker is open")

	// ErrTooManyRequests is returned when the half-open probe budget is
	// spent.
	ErrTooManyRequests = errors.New("circuit: too many probes while half-open")
)

// Config tunes a breaker. Zero values take the defaults.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// default ReadyToTrip rule. Default 5.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// MaxRequests is how many calls the half-open state admits.
	// Default 1.
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the closed-state window after which counts reset.
	// Default one minute.
	Interval time.Duration `yaml:"interval"`

	// Timeout is how long the breaker stays open before going
	// half-open. Default one minute.
	Timeout time.Duration `yaml:"timeout"`

	// ReadyToTrip overrides the default consecutive-failure trip rule.
	ReadyToTrip func(counts Counts) bool `yaml:"-"`

	// OnStateChange is invoked after each transition.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// IsSuccessful classifies an error as success or failure. The
	// default counts every non-nil error as a failure.
	IsSuccessful func(err error) bool `yaml:"-"`
}

// Counts tallies calls inside the current window.
type Counts struct {
	Requests             uint32 `json:"requests"`
	TotalSuccesses       uint32 `json:"total_successes"`
	TotalFailures        uint32 `json:"total_failures"`
	ConsecutiveSuccesses uint32 `json:"consecutive_successes"`
	ConsecutiveFailures  uint32 `json:"consecutive_failures"`
}

func (c *Counts) onRequest() { c.Requests++ }

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

func (c *Counts) clear() { *c = Counts{} }

// Breaker is a circuit breaker. The zero value is not usable; build
// one with NewBreaker.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewBreaker builds a closed breaker named for log and callback
// purposes.
func NewBreaker(name string, config Config) *Breaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.ReadyToTrip == nil {
		threshold := config.FailureThreshold
		config.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		}
	}
	if config.IsSuccessful == nil {
		config.IsSuccessful = func(err error) bool { return err == nil }
	}

	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		expiry: time.Now().Add(config.Interval),
	}
}

// Do runs fn if the breaker admits the call and records the outcome.
// Rejected calls return ErrOpen or ErrTooManyRequests without invoking
// fn.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	b.afterRequest(err)
	return err
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying any pending expiry
// transition first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Counts returns a copy of the current window's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts.clear()
	b.setState(StateClosed, time.Now())
}

// Healthy returns nil while the breaker is not open, else ErrOpen
// wrapped with the breaker name. Used as a health probe.
func (b *Breaker) Healthy() error {
	if b.State() == StateOpen {
		return ErrOpen
	}
	return nil
}

func (b *Breaker) beforeRequest() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch state := b.currentState(now); state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.config.MaxRequests {
			return ErrTooManyRequests
		}
	}
	b.counts.onRequest()
	return nil
}

func (b *Breaker) afterRequest(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)
	if b.config.IsSuccessful(err) {
		b.onSuccess(state, now)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) onSuccess(state State, now time.Time) {
	b.counts.onSuccess()
	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	b.counts.onFailure()
	switch state {
	case StateClosed:
		if b.config.ReadyToTrip(b.counts) {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// currentState applies expiry transitions: a closed window rolls its
// counters, an expired open state goes half-open. Callers hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts.clear()
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts.clear()

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.Timeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}
