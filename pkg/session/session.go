// Package session owns the life of one mounted filesystem: it assembles
// the dispatch chain around an implementation, mounts it through a bridge
// backend, drives the request loop single- or multi-threaded, and tears
// everything down exactly once.
//
// The usual shape of a filesystem binary is a single call:
//
//	func main() { os.Exit(session.Main(os.Args, myFS)) }
//
// Embedders wanting finer control build with New, then Mount, Run, and
// Exit individually.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fusekit/fusekit/internal/bridge"
	"github.com/fusekit/fusekit/internal/metrics"
	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/dispatch"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
	"github.com/fusekit/fusekit/pkg/pool"
)

// EnvSingleThread forces the single-threaded run loop when set to any
// non-empty value.
const EnvSingleThread = "FUSEKIT_SINGLETHREAD"

// ErrBadGeneration reports a generation option naming neither supported
// callback generation.
var ErrBadGeneration = errors.New("session: unknown callback generation")

// State is the lifecycle position of a session.
type State int

const (
	Unmounted State = iota
	Mounted
	Running
	Exiting
	TornDown
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Mounted:
		return "mounted"
	case Running:
		return "running"
	case Exiting:
		return "exiting"
	case TornDown:
		return "torn down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateError reports a lifecycle operation attempted from the wrong
// state.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("session: cannot %s while %s", e.Op, e.State)
}

// HealthChecker is probed off the filesystem for the metrics /health
// endpoint, letting implementations surface the health of their own
// dependencies.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// UsageReporter is probed off the filesystem to feed the usage gauges.
type UsageReporter interface {
	Usage() (bytes, nodes int64)
}

// Session drives one mounted filesystem through its lifecycle.
type Session struct {
	fs  interface{}
	ad  *adapter.Adapter
	reg *dispatch.Registry
	log *logging.Logger

	backend   bridge.Backend
	collector *metrics.Collector
	mountOpts *bridge.MountOptions

	single          bool
	maxActive       int
	maxIdle         int
	idleSet         bool
	shutdownTimeout time.Duration

	mu         sync.Mutex
	state      State
	conn       bridge.Conn
	mountpoint string

	exitOnce sync.Once
	downOnce sync.Once
	done     chan struct{}
}

// New assembles a session around fs: the adapter binds the filesystem's
// methods, the standard wrapper chain folds around them into a dispatch
// registry, and the bridge backend is resolved. Nothing is mounted yet.
//
// The chain, outermost first: safety, metrics (when configured), context,
// debug (when enabled), interrupt, and the generation shim (when fs
// implements the older generation). Context sits outside debug so debug
// lines carry the stamped request id.
func New(fs interface{}, opts ...Option) (*Session, error) {
	o := options{generation: dispatch.Fuse3}
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}
	if o.generation != dispatch.Fuse2 && o.generation != dispatch.Fuse3 {
		return nil, fmt.Errorf("%w: %d", ErrBadGeneration, int(o.generation))
	}

	log := o.log
	if log == nil {
		log = logging.Discard()
	}

	ad, err := adapter.New(fs, adapter.WithLogger(log))
	if err != nil {
		return nil, err
	}

	backend := o.backend
	if backend == nil {
		backend, err = bridge.New(o.bridgeName)
		if err != nil {
			return nil, err
		}
	}

	mountOpts := o.mountOpts
	if mountOpts == nil {
		mountOpts = bridge.NewMountOptions()
	}
	if o.debug {
		mountOpts.Debug = true
	}

	wrappers := []dispatch.Wrapper{dispatch.NewSafety(log, o.defErrno)}
	if o.collector != nil {
		wrappers = append(wrappers, o.collector.Wrapper())
	}
	wrappers = append(wrappers, dispatch.NewContextWrapper(nil))
	if o.debug {
		wrappers = append(wrappers, dispatch.NewDebug(log))
	}
	wrappers = append(wrappers, dispatch.NewInterrupt())
	// The backends all build newer-generation requests.
	if shim := dispatch.Shim(o.generation, dispatch.Fuse3, ad.HandleAttrs(), log); shim != nil {
		wrappers = append(wrappers, shim)
	}

	reg, err := dispatch.New(ad, wrappers,
		dispatch.WithLogger(log), dispatch.WithDefaultErrno(o.defErrno))
	if err != nil {
		return nil, err
	}

	s := &Session{
		fs:              fs,
		ad:              ad,
		reg:             reg,
		log:             log.WithComponent("session"),
		backend:         backend,
		collector:       o.collector,
		mountOpts:       mountOpts,
		single:          o.single || os.Getenv(EnvSingleThread) != "",
		maxActive:       o.maxActive,
		maxIdle:         o.maxIdle,
		idleSet:         o.idleSet,
		shutdownTimeout: o.shutdown,
		done:            make(chan struct{}),
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	if s.collector != nil {
		s.collector.SetLogger(log)
		s.collector.SetHealth(s.health)
		if ur, ok := fs.(UsageReporter); ok {
			s.collector.AddSampler(func() { s.collector.ObserveUsage(ur.Usage()) })
		}
	}
	return s, nil
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mountpoint reports where the session is mounted, or "" before Mount.
func (s *Session) Mountpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mountpoint
}

// OpenHandles reports how many file handles the filesystem currently has
// open.
func (s *Session) OpenHandles() int { return s.ad.OpenHandles() }

// Mount validates the mountpoint, mounts through the backend, delivers
// init to the filesystem, and starts the metrics server. The session is
// ready for Run afterwards.
func (s *Session) Mount(ctx context.Context, mountpoint string) error {
	if err := s.advance("mount", Unmounted, Mounted); err != nil {
		return err
	}
	fail := func(err error) error {
		s.mu.Lock()
		s.state = Unmounted
		s.mu.Unlock()
		return err
	}

	if err := s.checkMountpoint(mountpoint); err != nil {
		return fail(err)
	}

	conn, err := s.backend.Mount(ctx, mountpoint, s.reg.Caps(), s.mountOpts)
	if err != nil {
		return fail(fmt.Errorf("session: mount %s: %w", mountpoint, err))
	}

	s.mu.Lock()
	s.conn = conn
	s.mountpoint = mountpoint
	s.mu.Unlock()

	req := ops.NewRequest(ops.Init, "")
	req.Conn = s.mountOpts.InitConn()
	req.Config = s.mountOpts.InitConfig()
	s.reg.Invoke(nil, req)

	if s.collector != nil {
		// The server outlives the mount context; Stop owns its end.
		if err := s.collector.Start(context.Background()); err != nil {
			s.log.Warn("metrics server not started", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	s.log.Info("mounted", map[string]interface{}{
		"mountpoint": mountpoint,
		"bridge":     s.backend.Name(),
		"ops":        s.reg.Caps().Len(),
	})
	return nil
}

// Run serves requests until Exit is called or the connection closes. It
// always tears the session down before returning, so a session runs at
// most once. An Exit that raced in between Mount and Run still enters the
// loop, which then drains and returns promptly.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	st := s.state
	if st != Mounted && st != Exiting {
		s.mu.Unlock()
		return &StateError{Op: "run", State: st}
	}
	if st == Mounted {
		s.state = Running
	}
	s.mu.Unlock()
	defer s.teardown()

	if ctx == nil {
		ctx = context.Background()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
			s.Exit()
		case <-s.done:
		}
	}()

	s.log.Info("serving", map[string]interface{}{
		"single_thread": s.single,
	})
	if s.single {
		return s.runSingle(ctx)
	}
	return s.runPooled(ctx)
}

// runSingle is the pull-one, serve-one loop.
func (s *Session) runSingle(ctx context.Context) error {
	for {
		call, err := s.conn.Next(ctx)
		if err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return nil
			}
			return err
		}
		s.serve(nil, call)
	}
}

// runPooled feeds pull-one, serve-one as the pool's worker function, so
// the busy-driven growth rules govern request concurrency.
func (s *Session) runPooled(ctx context.Context) error {
	worker := func(w *pool.Worker) (bool, error) {
		if w.Marked() {
			return false, nil
		}
		call, err := s.conn.Next(ctx)
		if err != nil {
			// Closed connections and ended contexts stop the worker;
			// anything else is a transport failure Join should see.
			if errors.Is(err, bridge.ErrClosed) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) {
				return false, nil
			}
			return false, err
		}
		s.serve(w, call)
		return true, nil
	}

	popts := []pool.Option{pool.WithName("session"), pool.WithLogger(s.log)}
	if s.maxActive > 0 {
		popts = append(popts, pool.WithMaxActive(s.maxActive))
	}
	if s.idleSet {
		popts = append(popts, pool.WithMaxIdle(s.maxIdle))
	}
	p, err := pool.New(worker, popts...)
	if err != nil {
		return err
	}
	if s.collector != nil {
		s.collector.AddSampler(func() { s.collector.ObservePool("session", p.Stats()) })
	}

	var firstErr error
	p.Join(func(w *pool.Worker, werr error) {
		if werr != nil {
			s.log.Error("worker failed", map[string]interface{}{
				"worker": w.ID(),
				"error":  werr.Error(),
			})
			if firstErr == nil {
				firstErr = werr
			}
		}
	})
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	return firstErr
}

// serve dispatches one call and replies. Pool workers ride along on the
// request context so filesystem code can signal blocking spans.
func (s *Session) serve(w *pool.Worker, call *bridge.Call) {
	octx := call.Ctx
	if w != nil && octx != nil {
		octx = octx.WithGoContext(pool.WithWorker(octx.Context(), w))
	}
	call.Reply(s.reg.Invoke(octx, call.Req))
}

// Exit ends the run loop. The unmount happens on a dedicated goroutine so
// Exit never blocks, making it safe from signal handlers and from inside
// operation handlers. Calling it more than once is harmless; before Mount
// it is a no-op.
func (s *Session) Exit() {
	s.mu.Lock()
	conn := s.conn
	mountpoint := s.mountpoint
	if s.state == Mounted || s.state == Running {
		s.state = Exiting
	}
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.exitOnce.Do(func() {
		go s.closeConn(conn, mountpoint)
	})
}

// Close unmounts and tears the session down synchronously, for sessions
// that never reach Run or whose owner wants a blocking shutdown.
func (s *Session) Close() error {
	s.teardown()
	return nil
}

// teardown releases everything exactly once: the connection, the
// filesystem's destroy callback, and the metrics server.
func (s *Session) teardown() {
	s.downOnce.Do(func() {
		s.mu.Lock()
		conn := s.conn
		mountpoint := s.mountpoint
		s.mu.Unlock()

		if conn != nil {
			s.closeConn(conn, mountpoint)
		}

		s.reg.Invoke(nil, ops.NewRequest(ops.Destroy, ""))

		if s.collector != nil {
			ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
			if err := s.collector.Stop(ctx); err != nil {
				s.log.Warn("metrics server stop", map[string]interface{}{
					"error": err.Error(),
				})
			}
			cancel()
		}

		s.mu.Lock()
		s.state = TornDown
		s.mu.Unlock()
		close(s.done)
		s.log.Info("session torn down", map[string]interface{}{
			"mountpoint": mountpoint,
		})
	})
}

// closeConn unmounts, falling back to a forced unmount when the backend's
// own unmount fails. Safe to call repeatedly; Close is idempotent.
func (s *Session) closeConn(conn bridge.Conn, mountpoint string) {
	err := conn.Close()
	if err == nil {
		return
	}
	s.log.Warn("unmount failed, forcing", map[string]interface{}{
		"mountpoint": mountpoint,
		"error":      err.Error(),
	})
	if ferr := lazyUnmount(mountpoint); ferr != nil {
		s.log.Error("forced unmount failed", map[string]interface{}{
			"mountpoint": mountpoint,
			"error":      ferr.Error(),
		})
	}
}

// advance moves from one lifecycle state to the next under the lock.
func (s *Session) advance(op string, from, to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return &StateError{Op: op, State: s.state}
	}
	s.state = to
	return nil
}

// health backs the metrics /health endpoint: the session must be serving
// and, when the filesystem checks its own dependencies, they must be
// healthy too.
func (s *Session) health() error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st != Mounted && st != Running {
		return fmt.Errorf("session %s", st)
	}
	if hc, ok := s.fs.(HealthChecker); ok {
		return hc.HealthCheck(context.Background())
	}
	return nil
}
