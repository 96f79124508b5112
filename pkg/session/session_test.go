package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/internal/bridge"
	"github.com/fusekit/fusekit/internal/config"
	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/dispatch"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
	"github.com/fusekit/fusekit/pkg/pool"
)

// echoFS is the minimal filesystem these tests mount: a root with one
// file, plus recorded lifecycle callbacks.
type echoFS struct {
	mu        sync.Mutex
	inited    bool
	destroyed bool
	conn      *ops.ConnInfo
	sawWorker bool
}

func (e *echoFS) Init(_ *ops.Context, conn *ops.ConnInfo, _ *ops.InitConfig) interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inited = true
	e.conn = conn
	return "fs-token"
}

func (e *echoFS) Destroy(*ops.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
}

func (e *echoFS) Getattr(octx *ops.Context, path string, st *ops.Stat) error {
	_, worker := pool.FromContext(octx.Context())
	e.mu.Lock()
	e.sawWorker = worker
	e.mu.Unlock()

	switch path {
	case "/":
		st.Mode = ops.S_IFDIR | 0o755
		return nil
	case "/hello":
		st.Mode = ops.S_IFREG | 0o644
		st.Size = 5
		return nil
	default:
		return errno.ENOENT
	}
}

func (e *echoFS) snapshot() (inited, destroyed, sawWorker bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inited, e.destroyed, e.sawWorker
}

// startSession mounts fsys on a mem backend and runs it in the
// background. Callers end the session with Exit and drain done.
func startSession(t *testing.T, fsys interface{}, opts ...Option) (*Session, *bridge.MemConn, chan error) {
	t.Helper()
	mem := bridge.NewMem()
	s, err := New(fsys, append(opts, WithBackend(mem))...)
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background(), t.TempDir()))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	mc := mem.Conn()
	require.NotNil(t, mc)
	t.Cleanup(s.Exit)
	return s, mc, done
}

func getattr(mc *bridge.MemConn, path string) (int, *ops.Stat) {
	req := ops.NewRequest(ops.Getattr, path)
	req.Stat = new(ops.Stat)
	return mc.Do(nil, req), req.Stat
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("x"), 0o644)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.ErrorIs(t, err, adapter.ErrNilFS)

	_, err = New(struct{}{})
	assert.ErrorIs(t, err, adapter.ErrNoOps)

	_, err = New(&echoFS{}, WithBridge("no-such-backend"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	_, err = New(&echoFS{}, WithGeneration(dispatch.Generation(5)))
	assert.ErrorIs(t, err, ErrBadGeneration)

	_, err = New(&echoFS{}, WithOptions("max_write="))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a value")
}

func TestLifecycle_States(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	mem := bridge.NewMem()
	s, err := New(fsys, WithBackend(mem))
	require.NoError(t, err)
	assert.Equal(t, Unmounted, s.State())

	var stErr *StateError
	require.ErrorAs(t, s.Run(context.Background()), &stErr)
	assert.Equal(t, "run", stErr.Op)
	assert.Equal(t, Unmounted, stErr.State)

	mp := t.TempDir()
	require.NoError(t, s.Mount(context.Background(), mp))
	assert.Equal(t, Mounted, s.State())
	assert.Equal(t, mp, s.Mountpoint())

	require.ErrorAs(t, s.Mount(context.Background(), t.TempDir()), &stErr)
	assert.Equal(t, "mount", stErr.Op)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.State() == Running },
		time.Second, time.Millisecond)

	s.Exit()
	require.NoError(t, <-done)
	assert.Equal(t, TornDown, s.State())

	require.ErrorAs(t, s.Mount(context.Background(), t.TempDir()), &stErr)
	assert.Equal(t, TornDown, stErr.State)
}

func TestSession_ServesRequests(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	s, mc, done := startSession(t, fsys)

	status, st := getattr(mc, "/hello")
	require.Zero(t, status)
	assert.Equal(t, ops.S_IFREG|uint32(0o644), st.Mode)
	assert.EqualValues(t, 5, st.Size)

	status, _ = getattr(mc, "/missing")
	assert.Equal(t, -int(errno.ENOENT), status)

	// The pooled loop rides the worker along on the request context.
	_, _, sawWorker := fsys.snapshot()
	assert.True(t, sawWorker)

	s.Exit()
	require.NoError(t, <-done)
}

func TestSession_SingleThread(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	s, mc, done := startSession(t, fsys, WithSingleThread(true))

	status, _ := getattr(mc, "/hello")
	require.Zero(t, status)

	_, _, sawWorker := fsys.snapshot()
	assert.False(t, sawWorker, "single-threaded serving runs without a pool")

	s.Exit()
	require.NoError(t, <-done)
}

func TestSession_OlderGeneration(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	s, mc, done := startSession(t, fsys, WithGeneration(dispatch.Fuse2))

	status, st := getattr(mc, "/hello")
	require.Zero(t, status)
	assert.EqualValues(t, 5, st.Size)

	s.Exit()
	require.NoError(t, <-done)
}

func TestSession_InitAndDestroy(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	s, _, done := startSession(t, fsys)

	inited, destroyed, _ := fsys.snapshot()
	require.True(t, inited, "init is delivered during Mount")
	require.False(t, destroyed)
	require.NotNil(t, fsys.conn)
	assert.EqualValues(t, 7, fsys.conn.ProtoMajor)
	assert.EqualValues(t, 128<<10, fsys.conn.MaxWrite)

	s.Exit()
	require.NoError(t, <-done)

	_, destroyed, _ = fsys.snapshot()
	assert.True(t, destroyed, "destroy is delivered at teardown")
}

func TestMount_Validation(t *testing.T) {
	t.Parallel()

	s, err := New(&echoFS{}, WithBackend(bridge.NewMem()))
	require.NoError(t, err)
	ctx := context.Background()

	err = s.Mount(ctx, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, writeFile(file))
	err = s.Mount(ctx, file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")

	// Failed mounts leave the session usable.
	assert.Equal(t, Unmounted, s.State())
	require.NoError(t, s.Mount(ctx, t.TempDir()))
	require.NoError(t, s.Close())
}

func TestSession_CloseWithoutRun(t *testing.T) {
	t.Parallel()

	fsys := &echoFS{}
	mem := bridge.NewMem()
	s, err := New(fsys, WithBackend(mem))
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background(), t.TempDir()))

	require.NoError(t, s.Close())
	assert.Equal(t, TornDown, s.State())

	_, destroyed, _ := fsys.snapshot()
	assert.True(t, destroyed)

	status, _ := getattr(mem.Conn(), "/hello")
	assert.Equal(t, -int(errno.EIO), status, "connection is closed")
}

func TestSession_ExitBeforeRun(t *testing.T) {
	t.Parallel()

	s, err := New(&echoFS{}, WithBackend(bridge.NewMem()))
	require.NoError(t, err)

	s.Exit() // before mount: no-op
	require.NoError(t, s.Mount(context.Background(), t.TempDir()))

	s.Exit()
	s.Exit() // idempotent

	// Run still enters, drains the closing connection, and tears down.
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, TornDown, s.State())
}

func TestRun_ContextCancel(t *testing.T) {
	t.Parallel()

	mem := bridge.NewMem()
	s, err := New(&echoFS{}, WithBackend(mem))
	require.NoError(t, err)
	require.NoError(t, s.Mount(context.Background(), t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.State() == Running },
		time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, TornDown, s.State())

	status, _ := getattr(mem.Conn(), "/hello")
	assert.Equal(t, -int(errno.EIO), status, "teardown closed the connection")
}

func TestWithConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Logging.Level = "ERROR"
	cfg.Metrics.Enabled = false
	cfg.Session.SingleThread = true
	config.ApplyDefaults(cfg)

	fsys := &echoFS{}
	s, mc, done := startSession(t, fsys, WithConfig(cfg))

	status, _ := getattr(mc, "/hello")
	require.Zero(t, status)

	_, _, sawWorker := fsys.snapshot()
	assert.False(t, sawWorker, "config forced single-threaded serving")

	s.Exit()
	require.NoError(t, <-done)
}
