package session

import (
	"time"

	"github.com/fusekit/fusekit/internal/bridge"
	"github.com/fusekit/fusekit/internal/config"
	"github.com/fusekit/fusekit/internal/metrics"
	"github.com/fusekit/fusekit/pkg/dispatch"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
)

type options struct {
	// err carries the first failure raised while applying options, so
	// option constructors that parse or build things can report it
	// without changing the Option shape. New checks it before anything
	// else.
	err error

	log        *logging.Logger
	bridgeName string
	backend    bridge.Backend
	collector  *metrics.Collector
	mountOpts  *bridge.MountOptions

	generation dispatch.Generation
	defErrno   errno.Errno
	debug      bool
	single     bool
	maxActive  int
	maxIdle    int
	idleSet    bool
	shutdown   time.Duration
}

// Option configures session construction.
type Option func(*options)

// WithLogger sets the logger shared by the session and its wrapper chain.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithBridge selects the bridge backend by registered name. An empty name
// resolves through the FUSEKIT_BRIDGE environment variable and then the
// platform default.
func WithBridge(name string) Option {
	return func(o *options) { o.bridgeName = name }
}

// WithBackend injects a backend instance directly, bypassing the name
// registry. Embedders and tests use it to keep a handle on the backend,
// typically the mem backend's injection side.
func WithBackend(b bridge.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithOptions applies one -o style mount option argument, a comma
// separated list in the mount(8) grammar. Repeatable; parse failures
// surface from New.
func WithOptions(arg string) Option {
	return func(o *options) {
		if o.mountOpts == nil {
			o.mountOpts = bridge.NewMountOptions()
		}
		if err := o.mountOpts.Parse(arg); err != nil && o.err == nil {
			o.err = err
		}
	}
}

// WithSingleThread forces the pull-one, serve-one loop regardless of the
// FUSEKIT_SINGLETHREAD environment variable.
func WithSingleThread(single bool) Option {
	return func(o *options) { o.single = single }
}

// WithMaxActive caps the run loop's worker pool.
func WithMaxActive(n int) Option {
	return func(o *options) { o.maxActive = n }
}

// WithMaxIdle bounds how many run loop workers may sit idle.
func WithMaxIdle(n int) Option {
	return func(o *options) {
		o.maxIdle = n
		o.idleSet = true
	}
}

// WithDebug turns on per-operation logging and the backend debug option.
func WithDebug(debug bool) Option {
	return func(o *options) { o.debug = debug }
}

// WithGeneration declares which callback generation fs implements. The
// default is the newer generation; declaring the older one inserts the
// translating shim into the chain.
func WithGeneration(g dispatch.Generation) Option {
	return func(o *options) { o.generation = g }
}

// WithDefaultErrno sets the errno reported for unclassified failures.
func WithDefaultErrno(e errno.Errno) Option {
	return func(o *options) { o.defErrno = e }
}

// WithShutdownTimeout bounds how long teardown waits on the metrics
// server.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdown = d
		}
	}
}

// WithConfig applies a loaded configuration: logger, metrics collector,
// bridge selection, threading, pool bounds, mount options, and shutdown
// timeout. Later options override individual pieces.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg == nil {
			return
		}
		log, err := cfg.Logger()
		if err != nil {
			if o.err == nil {
				o.err = err
			}
			return
		}
		mopts, err := cfg.MountOptions()
		if err != nil {
			if o.err == nil {
				o.err = err
			}
			return
		}
		col, err := metrics.NewCollector(&cfg.Metrics)
		if err != nil {
			if o.err == nil {
				o.err = err
			}
			return
		}
		o.log = log
		o.mountOpts = mopts
		o.collector = col
		o.bridgeName = cfg.Session.Bridge
		o.single = cfg.Session.SingleThread
		o.maxActive = cfg.Session.MaxActive
		if cfg.Session.MaxIdle > 0 {
			o.maxIdle = cfg.Session.MaxIdle
			o.idleSet = true
		}
		o.shutdown = cfg.Session.ShutdownTimeout
	}
}
