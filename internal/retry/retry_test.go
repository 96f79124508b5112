package retry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"
)

var errTransient = errors.New("transient")

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	if r.config.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", r.config.MaxAttempts)
	}
	if r.config.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v, want 100ms", r.config.InitialDelay)
	}
	if r.config.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", r.config.MaxDelay)
	}
	if r.config.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", r.config.Multiplier)
	}
	if r.config.Retryable == nil {
		t.Error("Retryable classifier not defaulted")
	}
}

func TestDo_FirstTrySuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_Exhaustion(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if err == nil {
		t.Fatal("Do() should fail after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("exhaustion error %v should wrap the last failure", err)
	}
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{"not exist", fmt.Errorf("get: %w", fs.ErrNotExist)},
		{"permission", fmt.Errorf("get: %w", fs.ErrPermission)},
		{"canceled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := New(fastConfig()).Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("err = %v, want %v unwrapped", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("calls = %d, want 1", calls)
			}
		})
	}
}

func TestDo_CustomClassifier(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Retryable = func(err error) bool { return false }

	calls := 0
	err := New(cfg).Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})
	if !errors.Is(err, errTransient) || calls != 1 {
		t.Errorf("err = %v calls = %d, want single unwrapped failure", err, calls)
	}
}

func TestDo_ContextCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(fastConfig()).Do(ctx, func(context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Minute,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
	}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- New(cfg).Do(ctx, func(context.Context) error { return errTransient })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	t.Parallel()

	var attempts []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		if !errors.Is(err, errTransient) {
			t.Errorf("OnRetry err = %v", err)
		}
		if delay <= 0 {
			t.Errorf("OnRetry delay = %v", delay)
		}
	}

	_ = New(cfg).Do(context.Background(), func(context.Context) error { return errTransient })

	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestDelay_GrowthAndCap(t *testing.T) {
	t.Parallel()

	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	})

	want := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		50 * time.Millisecond,
		50 * time.Millisecond,
	}
	for i, w := range want {
		if got := r.delay(i + 1); got != w {
			t.Errorf("delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDelay_JitterBounds(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.InitialDelay = 100 * time.Millisecond
	r := New(cfg)

	for i := 0; i < 50; i++ {
		d := r.delay(1)
		if d < 80*time.Millisecond || d > 120*time.Millisecond {
			t.Fatalf("jittered delay %v outside ±20%% of 100ms", d)
		}
	}
}
