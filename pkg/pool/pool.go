// Package pool implements the self-scaling worker pool that drives
// concurrent request processing. Growth is driven by one cooperative
// signal: a worker wraps a blocking span in Busy, and when every live
// worker is simultaneously busy the pool spawns one more, up to the
// active cap. Idle workers beyond the idle bound mark themselves and
// exit at the next iteration boundary.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fusekit/fusekit/pkg/logging"
)

// Construction argument violations.
var (
	ErrMissingWorker = errors.New("pool: missing worker function")
	ErrIdleBound     = errors.New("pool: max idle must not be negative")
	ErrActiveBound   = errors.New("pool: max active must be positive")
)

// WorkerFunc runs one unit of work. Returning false retires the worker;
// an error retires it and is reported through Join.
type WorkerFunc func(w *Worker) (bool, error)

// Worker is one pool goroutine. The pointer is handed to the worker
// function each iteration and identifies the worker in Join callbacks.
type Worker struct {
	p  *Pool
	id int

	// guarded by p.mu
	busy   bool
	marked bool
	err    error
}

// ID returns the worker's pool-unique id.
func (w *Worker) ID() int { return w.id }

// Marked reports whether the worker has been marked to retire. Blocking
// producers can poll it to let a marked worker leave instead of parking.
func (w *Worker) Marked() bool {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.marked
}

// Busy marks the current iteration as blocking and runs fn inline. The
// mark lasts until the iteration ends. If every live worker is busy
// after marking, the pool grows by one, bounded by the active cap.
func (w *Worker) Busy(fn func()) {
	w.p.markBusy(w)
	fn()
}

type completion struct {
	w   *Worker
	err error
}

// Pool manages a set of workers all running the same worker function.
// Exactly one worker is started at construction.
type Pool struct {
	fn   WorkerFunc
	name string
	log  *logging.Logger

	maxIdle     int
	idleLimited bool
	maxActive   int

	mu        sync.Mutex
	cond      *sync.Cond
	live      int
	busyN     int
	markedN   int
	nextID    int
	workers   map[*Worker]struct{}
	completed []completion
}

// Option configures a Pool.
type Option func(*options)

type options struct {
	name      string
	log       *logging.Logger
	maxIdle   int
	idleSet   bool
	maxActive int
	activeSet bool
}

// WithName names the pool for logging.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the pool's logger.
func WithLogger(log *logging.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMaxIdle bounds how many workers may sit idle. Zero means every
// idle worker beyond the one reserved for the next request retires.
func WithMaxIdle(n int) Option {
	return func(o *options) {
		o.maxIdle = n
		o.idleSet = true
	}
}

// WithMaxActive caps the live worker count.
func WithMaxActive(n int) Option {
	return func(o *options) {
		o.maxActive = n
		o.activeSet = true
	}
}

// New builds a pool and starts its first worker. Bound violations are
// configuration errors and fail here, not at runtime.
func New(fn WorkerFunc, opts ...Option) (*Pool, error) {
	if fn == nil {
		return nil, ErrMissingWorker
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.idleSet && o.maxIdle < 0 {
		return nil, ErrIdleBound
	}
	if o.activeSet && o.maxActive <= 0 {
		return nil, ErrActiveBound
	}
	if o.log == nil {
		o.log = logging.Discard()
	}
	if o.name == "" {
		o.name = "pool"
	}
	p := &Pool{
		fn:          fn,
		name:        o.name,
		log:         o.log.WithComponent(o.name),
		maxIdle:     o.maxIdle,
		idleLimited: o.idleSet,
		maxActive:   o.maxActive,
		workers:     make(map[*Worker]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.mu.Lock()
	p.spawnLocked()
	p.mu.Unlock()
	return p, nil
}

// spawnLocked starts one worker. Caller holds p.mu.
func (p *Pool) spawnLocked() {
	p.nextID++
	w := &Worker{p: p, id: p.nextID}
	p.workers[w] = struct{}{}
	p.live++
	p.log.Debugf("worker %d spawned (live=%d)", w.id, p.live)
	go p.run(w)
}

func (p *Pool) run(w *Worker) {
	defer p.retire(w)
	for {
		cont, err := p.iterate(w)
		stop := p.endIteration(w)
		if err != nil {
			w.err = err
			return
		}
		if !cont || stop {
			return
		}
	}
}

// iterate runs the worker function once, converting a panic into a
// worker error so a bad iteration retires its worker instead of killing
// the process.
func (p *Pool) iterate(w *Worker) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: worker %d panic: %v", w.id, r)
		}
	}()
	return p.fn(w)
}

// markBusy flags w's current iteration and grows the pool when the busy
// count has caught up with the live count.
func (p *Pool) markBusy(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.busy {
		return
	}
	w.busy = true
	p.busyN++
	if p.busyN < p.live {
		return
	}
	if p.maxActive > 0 && p.live >= p.maxActive {
		return
	}
	p.spawnLocked()
}

// endIteration clears the busy mark and applies the idle-shrink rule:
// counting this worker out, if more workers than maxIdle would sit idle,
// this one marks itself and reports that the loop should stop.
func (p *Pool) endIteration(w *Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.busy {
		w.busy = false
		p.busyN--
	}
	if p.idleLimited && !w.marked {
		idle := p.live - p.busyN - p.markedN - 1
		if idle > p.maxIdle {
			w.marked = true
			p.markedN++
			p.log.Debugf("worker %d marked idle (live=%d busy=%d)", w.id, p.live, p.busyN)
		}
	}
	return w.marked
}

// shouldRetire applies the idle bound to a worker about to park on an
// empty queue. Counting the worker out, if more than maxIdle others sit
// idle it marks itself and reports that it should exit instead of
// parking.
func (p *Pool) shouldRetire(w *Worker) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.marked {
		return true
	}
	if !p.idleLimited {
		return false
	}
	idle := p.live - p.busyN - p.markedN - 1
	if idle <= p.maxIdle {
		return false
	}
	w.marked = true
	p.markedN++
	p.log.Debugf("worker %d retiring idle (live=%d)", w.id, p.live)
	return true
}

// retire finalizes a worker and queues its completion for Join. The
// completion queue closes when the last worker retires.
func (p *Pool) retire(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w.busy {
		w.busy = false
		p.busyN--
	}
	if w.marked {
		p.markedN--
	}
	delete(p.workers, w)
	p.live--
	p.completed = append(p.completed, completion{w: w, err: w.err})
	p.log.Debugf("worker %d retired (live=%d)", w.id, p.live)
	p.cond.Broadcast()
}

// Join drains worker completions, invoking fn for each retired worker,
// and returns once every worker has retired and been reported. A nil fn
// just waits for the drain.
func (p *Pool) Join(fn func(w *Worker, err error)) {
	p.mu.Lock()
	for {
		for len(p.completed) > 0 {
			c := p.completed[0]
			p.completed = p.completed[1:]
			p.mu.Unlock()
			if fn != nil {
				fn(c.w, c.err)
			}
			p.mu.Lock()
		}
		if p.live == 0 {
			break
		}
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// WorkerState is a point-in-time snapshot of one worker.
type WorkerState struct {
	ID     int
	Busy   bool
	Marked bool
}

// List snapshots the live workers.
func (p *Pool) List() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]WorkerState, 0, len(p.workers))
	for w := range p.workers {
		out = append(out, WorkerState{ID: w.id, Busy: w.busy, Marked: w.marked})
	}
	return out
}

// Stats summarizes pool occupancy.
type Stats struct {
	Live   int
	Busy   int
	Marked int
}

// Stats returns current occupancy counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Live: p.live, Busy: p.busyN, Marked: p.markedN}
}
