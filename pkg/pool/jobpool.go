package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("pool: job pool is closed")

// Job is one scheduled unit of work. The context carries the executing
// worker, so jobs can wrap blocking spans in Busy.
type Job func(ctx context.Context) error

// JobPool layers a job queue over a Pool. Workers loop popping jobs;
// Close lets the queue drain and the workers retire.
type JobPool struct {
	pool *Pool

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	closed   bool
	inflight int
	results  []error
}

// NewJobPool builds a job pool with one initial worker. Pool options
// apply unchanged.
func NewJobPool(opts ...Option) (*JobPool, error) {
	jp := &JobPool{}
	jp.cond = sync.NewCond(&jp.mu)
	// Hold the queue lock across construction: the first worker starts
	// inside New and must not observe a nil jp.pool from pop.
	jp.mu.Lock()
	defer jp.mu.Unlock()
	p, err := New(jp.work, opts...)
	if err != nil {
		return nil, err
	}
	jp.pool = p
	return jp, nil
}

// Pool exposes the underlying worker pool.
func (jp *JobPool) Pool() *Pool { return jp.pool }

// Schedule queues a job for execution.
func (jp *JobPool) Schedule(job Job) error {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	if jp.closed {
		return ErrClosed
	}
	jp.queue = append(jp.queue, job)
	jp.cond.Broadcast()
	return nil
}

// Close stops intake. Queued jobs still run; workers retire once the
// queue is empty. Close is idempotent.
func (jp *JobPool) Close() {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	jp.closed = true
	jp.cond.Broadcast()
}

// Join drains one notification per completed job, then waits for the
// workers to retire. It returns only after Close, a nil fn just waits.
func (jp *JobPool) Join(fn func(err error)) {
	jp.mu.Lock()
	for {
		for len(jp.results) > 0 {
			err := jp.results[0]
			jp.results = jp.results[1:]
			jp.mu.Unlock()
			if fn != nil {
				fn(err)
			}
			jp.mu.Lock()
		}
		if jp.closed && len(jp.queue) == 0 && jp.inflight == 0 {
			break
		}
		jp.cond.Wait()
	}
	jp.mu.Unlock()
	jp.pool.Join(nil)
}

// work is the pool worker function: pop, run, report.
func (jp *JobPool) work(w *Worker) (bool, error) {
	job, ok := jp.pop(w)
	if !ok {
		return false, nil
	}
	err := jp.runJob(w, job)
	jp.done(err)
	return true, nil
}

// pop blocks until a job is available or the pool is closed and empty.
// A worker about to park on an empty queue first offers itself to the
// idle-shrink rule, so a burst drains back down without waiting for new
// traffic.
func (jp *JobPool) pop(w *Worker) (Job, bool) {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	for {
		if len(jp.queue) > 0 {
			job := jp.queue[0]
			jp.queue = jp.queue[1:]
			jp.inflight++
			return job, true
		}
		if jp.closed {
			return nil, false
		}
		if jp.pool.shouldRetire(w) {
			return nil, false
		}
		jp.cond.Wait()
	}
}

// runJob executes a job, converting a panic into a job error so one bad
// job cannot take its worker down.
func (jp *JobPool) runJob(w *Worker, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pool: job panic: %v", r)
		}
	}()
	return job(WithWorker(context.Background(), w))
}

func (jp *JobPool) done(err error) {
	jp.mu.Lock()
	defer jp.mu.Unlock()
	jp.inflight--
	jp.results = append(jp.results, err)
	jp.cond.Broadcast()
}
