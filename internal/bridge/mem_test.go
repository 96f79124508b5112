package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

func memMount(t *testing.T, caps ops.Set) (*Mem, *MemConn) {
	t.Helper()
	b := NewMem()
	conn, err := b.Mount(context.Background(), "/memfs", caps, nil)
	require.NoError(t, err)
	mc, ok := conn.(*MemConn)
	require.True(t, ok)
	t.Cleanup(func() { mc.Close() })
	return b, mc
}

// serve answers queued calls with fn until the connection closes.
func serve(mc *MemConn, fn func(*Call) int) {
	go func() {
		for {
			call, err := mc.Next(context.Background())
			if err != nil {
				return
			}
			call.Reply(fn(call))
		}
	}()
}

func TestMem_Mount(t *testing.T) {
	t.Parallel()

	b, mc := memMount(t, ops.NewSet(ops.Getattr, ops.Read))

	assert.Equal(t, "mem", b.Name())
	assert.Equal(t, "/memfs", mc.Mountpoint())
	assert.True(t, mc.Caps().Has(ops.Getattr))
	assert.False(t, mc.Caps().Has(ops.Write))
	assert.Same(t, mc, b.Conn())
	assert.Equal(t, "fusekit", mc.opts.FSName, "nil opts take the defaults")
}

func TestMem_MountTwice(t *testing.T) {
	t.Parallel()

	b, mc := memMount(t, ops.NewSet(ops.Getattr))

	_, err := b.Mount(context.Background(), "/other", ops.NewSet(ops.Getattr), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already mounted")

	require.NoError(t, mc.Close())
	conn, err := b.Mount(context.Background(), "/other", ops.NewSet(ops.Getattr), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestMem_DoRoundtrip(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Getattr))
	serve(mc, func(call *Call) int {
		if call.Req.Path != "/hello" {
			return -int(errno.ENOENT)
		}
		call.Req.Stat.Mode = ops.S_IFREG | 0644
		call.Req.Stat.Size = 5
		return 0
	})

	req := ops.NewRequest(ops.Getattr, "/hello")
	req.Stat = new(ops.Stat)
	require.Zero(t, mc.Do(nil, req))
	assert.Equal(t, ops.S_IFREG|uint32(0644), req.Stat.Mode)
	assert.EqualValues(t, 5, req.Stat.Size)

	missing := ops.NewRequest(ops.Getattr, "/missing")
	missing.Stat = new(ops.Stat)
	assert.Equal(t, -int(errno.ENOENT), mc.Do(nil, missing))
}

func TestMem_MeaningfulStatus(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Read))
	serve(mc, func(call *Call) int {
		return copy(call.Req.Data, "hello")
	})

	req := ops.NewRequest(ops.Read, "/file")
	req.Data = make([]byte, 16)
	s := mc.Do(nil, req)
	require.Equal(t, 5, s)
	assert.Equal(t, "hello", string(req.Data[:s]))
}

func TestMem_CallerContext(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Access))
	got := make(chan *ops.Context, 1)
	serve(mc, func(call *Call) int {
		got <- call.Ctx
		return 0
	})

	octx := ops.NewContext(context.Background(), 1000, 1000, 4242)
	require.Zero(t, mc.Do(octx, ops.NewRequest(ops.Access, "/")))
	ctx := <-got
	assert.EqualValues(t, 1000, ctx.UID)
	assert.EqualValues(t, 4242, ctx.PID)

	// A nil caller context runs as the process.
	require.Zero(t, mc.Do(nil, ops.NewRequest(ops.Access, "/")))
	assert.NotNil(t, <-got)
}

func TestMem_CloseReleasesParked(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Getattr))

	res := make(chan int, 1)
	go func() { res <- mc.Do(nil, ops.NewRequest(ops.Getattr, "/parked")) }()
	require.Eventually(t, func() bool { return len(mc.calls) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, mc.Close())

	select {
	case s := <-res:
		assert.Equal(t, -int(errno.EIO), s)
	case <-time.After(time.Second):
		t.Fatal("parked call was not released by Close")
	}

	assert.Equal(t, -int(errno.EIO), mc.Do(nil, ops.NewRequest(ops.Getattr, "/late")))
}

func TestMem_NextDrainsAfterClose(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Getattr))
	for i := 0; i < 3; i++ {
		go mc.Do(nil, ops.NewRequest(ops.Getattr, "/queued"))
	}
	require.Eventually(t, func() bool { return len(mc.calls) == 3 }, time.Second, time.Millisecond)

	require.NoError(t, mc.Close())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		call, err := mc.Next(ctx)
		require.NoError(t, err, "queued calls drain before ErrClosed")
		call.Reply(0)
	}
	_, err := mc.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMem_NextHonorsContext(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Getattr))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mc.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMem_CloseIdempotent(t *testing.T) {
	t.Parallel()

	_, mc := memMount(t, ops.NewSet(ops.Getattr))
	require.NoError(t, mc.Close())
	require.NoError(t, mc.Close())
}
