package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobPoolRunsAll(t *testing.T) {
	jp, err := NewJobPool()
	require.NoError(t, err)

	var ran int64
	for i := 0; i < 5; i++ {
		require.NoError(t, jp.Schedule(func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}))
	}
	jp.Close()

	notified := 0
	jp.Join(func(err error) {
		require.NoError(t, err)
		notified++
	})
	assert.Equal(t, 5, notified)
	assert.Equal(t, int64(5), atomic.LoadInt64(&ran))
}

func TestBusyJobsRespectActiveCap(t *testing.T) {
	jp, err := NewJobPool(WithMaxActive(2), WithMaxIdle(0))
	require.NoError(t, err)

	var mu sync.Mutex
	maxLive := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, jp.Schedule(func(ctx context.Context) error {
			Busy(ctx, func() { time.Sleep(5 * time.Millisecond) })
			mu.Lock()
			if s := jp.Pool().Stats(); s.Live > maxLive {
				maxLive = s.Live
			}
			mu.Unlock()
			return nil
		}))
	}
	jp.Close()

	notified := 0
	jp.Join(func(err error) {
		require.NoError(t, err)
		notified++
	})
	assert.Equal(t, 5, notified)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxLive, 2)
}

func TestIdleShrinkAfterBurst(t *testing.T) {
	jp, err := NewJobPool(WithMaxIdle(0))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, jp.Schedule(func(ctx context.Context) error {
			defer wg.Done()
			Busy(ctx, func() { time.Sleep(2 * time.Millisecond) })
			return nil
		}))
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		idle := 0
		for _, ws := range jp.Pool().List() {
			if !ws.Busy && !ws.Marked {
				idle++
			}
		}
		return idle <= 1
	}, 2*time.Second, 5*time.Millisecond)

	jp.Close()
	jp.Join(nil)
}

func TestScheduleAfterClose(t *testing.T) {
	jp, err := NewJobPool()
	require.NoError(t, err)
	jp.Close()
	assert.ErrorIs(t, jp.Schedule(func(ctx context.Context) error { return nil }), ErrClosed)
	jp.Join(nil)
}

func TestJobErrorDoesNotKillWorker(t *testing.T) {
	jp, err := NewJobPool(WithMaxActive(1))
	require.NoError(t, err)

	boom := errors.New("bad job")
	require.NoError(t, jp.Schedule(func(ctx context.Context) error { return boom }))
	require.NoError(t, jp.Schedule(func(ctx context.Context) error { return nil }))
	jp.Close()

	var errs []error
	jp.Join(func(err error) { errs = append(errs, err) })
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], boom)
	assert.NoError(t, errs[1])
}

func TestJobPanicReported(t *testing.T) {
	jp, err := NewJobPool()
	require.NoError(t, err)

	require.NoError(t, jp.Schedule(func(ctx context.Context) error { panic("job kaboom") }))
	jp.Close()

	var got error
	jp.Join(func(err error) { got = err })
	require.Error(t, got)
	assert.Contains(t, got.Error(), "panic")
}
