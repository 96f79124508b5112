// Package metrics collects per-operation counters, latency histograms, and
// occupancy gauges for a mounted filesystem, and serves them over HTTP in
// Prometheus exposition format.
//
// The Collector plugs into the dispatch chain as a wrapper, so every
// operation that reaches the registry is observed with its status, duration,
// and payload size. Pool and accounting occupancy arrive through setters,
// usually driven by the samplers the session registers.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fusekit/fusekit/pkg/dispatch"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
	"github.com/fusekit/fusekit/pkg/pool"
)

// Config controls collection and exposition.
type Config struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Port           int           `yaml:"port" mapstructure:"port"`
	Path           string        `yaml:"path" mapstructure:"path"`
	Namespace      string        `yaml:"namespace" mapstructure:"namespace"`
	UpdateInterval time.Duration `yaml:"update_interval" mapstructure:"update_interval"`
}

// NewConfig returns the enabled defaults.
func NewConfig() *Config {
	return &Config{
		Enabled:        true,
		Port:           9573,
		Path:           "/metrics",
		Namespace:      "fusekit",
		UpdateInterval: 15 * time.Second,
	}
}

// OpSnapshot is the accumulated view of one operation kept alongside the
// Prometheus series for debug endpoints and tests.
type OpSnapshot struct {
	Count      int64         `json:"count"`
	Errors     int64         `json:"errors"`
	Bytes      int64         `json:"bytes"`
	Total      time.Duration `json:"total_duration"`
	Min        time.Duration `json:"min_duration"`
	Max        time.Duration `json:"max_duration"`
	LastActive time.Time     `json:"last_active"`
}

// Collector aggregates operation, pool, and accounting metrics. A disabled
// collector is a cheap no-op on every path so callers never branch.
type Collector struct {
	config   *Config
	registry *prometheus.Registry

	opsTotal   *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
	opBytes    *prometheus.HistogramVec
	errsTotal  *prometheus.CounterVec
	inflight   prometheus.Gauge
	workers    *prometheus.GaugeVec
	usageBytes prometheus.Gauge
	usageNodes prometheus.Gauge

	mu       sync.RWMutex
	ops      map[string]*OpSnapshot
	samplers []func()
	started  time.Time

	log    *logging.Logger
	health func() error
	srv    *server
}

// NewCollector builds a collector on its own Prometheus registry. A nil
// config takes the defaults.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = NewConfig()
	}
	c := &Collector{
		config:  config,
		ops:     make(map[string]*OpSnapshot),
		started: time.Now(),
		log:     logging.Discard(),
	}
	if !config.Enabled {
		return c, nil
	}

	c.registry = prometheus.NewRegistry()
	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace

	c.opsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "operations_total",
			Help:      "Total filesystem operations by result.",
		},
		[]string{"op", "status"},
	)
	c.opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"op"},
	)
	c.opBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "operation_bytes",
			Help:      "Payload size of data-carrying operations.",
			Buckets:   prometheus.ExponentialBuckets(512, 4, 10),
		},
		[]string{"op"},
	)
	c.errsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns,
			Name:      "errors_total",
			Help:      "Operation failures by error class.",
		},
		[]string{"op", "class"},
	)
	c.inflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "operations_inflight",
			Help:      "Operations currently being served.",
		},
	)
	c.workers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "pool_workers",
			Help:      "Worker pool occupancy by state.",
		},
		[]string{"pool", "state"},
	)
	c.usageBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "tree_bytes_used",
			Help:      "Bytes charged against the filesystem accounting.",
		},
	)
	c.usageNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "tree_nodes_used",
			Help:      "Nodes charged against the filesystem accounting.",
		},
	)
}

func (c *Collector) registerMetrics() error {
	for _, m := range []prometheus.Collector{
		c.opsTotal, c.opDuration, c.opBytes, c.errsTotal,
		c.inflight, c.workers, c.usageBytes, c.usageNodes,
	} {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) enabled() bool { return c != nil && c.config.Enabled }

// RecordOp observes one completed operation.
func (c *Collector) RecordOp(name string, d time.Duration, bytes int64, failure errno.Errno) {
	if !c.enabled() {
		return
	}

	status := "success"
	if failure != errno.OK {
		status = "error"
		c.errsTotal.WithLabelValues(name, errClass(failure)).Inc()
	}
	c.opsTotal.WithLabelValues(name, status).Inc()
	c.opDuration.WithLabelValues(name).Observe(d.Seconds())
	if bytes > 0 {
		c.opBytes.WithLabelValues(name).Observe(float64(bytes))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snap := c.ops[name]
	if snap == nil {
		snap = &OpSnapshot{Min: d}
		c.ops[name] = snap
	}
	snap.Count++
	snap.Total += d
	snap.Bytes += bytes
	if failure != errno.OK {
		snap.Errors++
	}
	if d < snap.Min {
		snap.Min = d
	}
	if d > snap.Max {
		snap.Max = d
	}
	snap.LastActive = time.Now()
}

// ObservePool records worker pool occupancy.
func (c *Collector) ObservePool(name string, st pool.Stats) {
	if !c.enabled() {
		return
	}
	c.workers.WithLabelValues(name, "live").Set(float64(st.Live))
	c.workers.WithLabelValues(name, "busy").Set(float64(st.Busy))
	c.workers.WithLabelValues(name, "marked").Set(float64(st.Marked))
}

// ObserveUsage records the accounting totals.
func (c *Collector) ObserveUsage(bytes, nodes int64) {
	if !c.enabled() {
		return
	}
	c.usageBytes.Set(float64(bytes))
	c.usageNodes.Set(float64(nodes))
}

// AddSampler registers fn to run on every update tick while the exposition
// server is up. Samplers typically push pool and accounting occupancy.
func (c *Collector) AddSampler(fn func()) {
	if !c.enabled() || fn == nil {
		return
	}
	c.mu.Lock()
	c.samplers = append(c.samplers, fn)
	c.mu.Unlock()
}

func (c *Collector) sample() {
	c.mu.RLock()
	samplers := c.samplers
	c.mu.RUnlock()
	for _, fn := range samplers {
		fn()
	}
}

// Snapshot copies the accumulated per-operation stats.
func (c *Collector) Snapshot() map[string]OpSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]OpSnapshot, len(c.ops))
	for name, snap := range c.ops {
		out[name] = *snap
	}
	return out
}

// Uptime reports how long the collector has been live.
func (c *Collector) Uptime() time.Duration { return time.Since(c.started) }

// Wrapper returns the dispatch wrapper feeding this collector. It runs
// inside the safety boundary, so it sees handler errors before they are
// flattened to statuses.
func (c *Collector) Wrapper() dispatch.Wrapper { return opWrapper{c} }

type opWrapper struct{ c *Collector }

func (w opWrapper) Name() string { return "metrics" }

func (w opWrapper) Wrap(op ops.Op, next dispatch.Handler) dispatch.Handler {
	if !w.c.enabled() {
		return next
	}
	name := op.String()
	sized := op == ops.Read || op == ops.Write || op == ops.CopyFileRange
	return func(octx *ops.Context, req *ops.Request) (int, error) {
		w.c.inflight.Inc()
		start := time.Now()
		s, err := next(octx, req)
		d := time.Since(start)
		w.c.inflight.Dec()

		failure := errno.OK
		switch {
		case err != nil:
			failure = errno.FromError(err, errno.EIO)
		case s < 0:
			failure = errno.Errno(-s)
		}
		var bytes int64
		if sized && failure == errno.OK && s > 0 {
			bytes = int64(s)
		}
		w.c.RecordOp(name, d, bytes, failure)
		return s, err
	}
}

// errClass folds an errno into the coarse label vocabulary so series
// cardinality stays bounded.
func errClass(e errno.Errno) string {
	switch e {
	case errno.ENOENT:
		return "not_found"
	case errno.EEXIST, errno.ENOTEMPTY:
		return "exists"
	case errno.EACCES, errno.EPERM, errno.EROFS:
		return "permission"
	case errno.ENOTDIR, errno.EISDIR, errno.EINVAL, errno.ENAMETOOLONG:
		return "invalid"
	case errno.ENOSPC, errno.EFBIG:
		return "no_space"
	case errno.ENOSYS:
		return "unsupported"
	case errno.EINTR:
		return "interrupted"
	case errno.EIO:
		return "io"
	default:
		return "other"
	}
}
