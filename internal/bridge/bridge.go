// Package bridge connects a composed dispatch table to a FUSE kernel
// library.
//
// A Backend owns the library specifics: it mounts a filesystem, translates
// the library's callbacks into typed requests, and unmounts when the
// connection closes. Every backend delivers traffic through the same pull
// surface: Conn.Next blocks until a call arrives, the session runs it, and
// Reply releases the waiting library callback with the resulting status.
// Push-style libraries meet this shape through an internal queue where each
// callback parks on its call's reply.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// EnvBridge is the environment variable consulted when no explicit backend
// name is given. DefaultName is declared in the platform files so the
// cgofuse build tag swaps the default along with the compiled backend.
const EnvBridge = "FUSEKIT_BRIDGE"

// ErrClosed is returned by Next once the connection has shut down and its
// queue is drained.
var ErrClosed = errors.New("bridge: connection closed")

// queueDepth bounds how many kernel requests may sit between the library
// callbacks and the run loop before callbacks block on enqueue.
const queueDepth = 64

// Call is one kernel request in flight. The request's out parameters stay
// owned by the originating callback, which is parked until Reply.
type Call struct {
	Ctx *ops.Context
	Req *ops.Request

	reply chan int
}

func newCall(ctx *ops.Context, req *ops.Request) *Call {
	return &Call{Ctx: ctx, Req: req, reply: make(chan int, 1)}
}

// Reply completes the call with the dispatch status and releases the
// library callback. Call it exactly once.
func (c *Call) Reply(status int) { c.reply <- status }

// Conn is one mounted filesystem connection.
type Conn interface {
	// Next blocks until a call arrives. It returns ErrClosed once the
	// connection has shut down, or the context error if ctx ends first.
	Next(ctx context.Context) (*Call, error)
	// Close unmounts, fails calls still parked in the queue, and wakes
	// every blocked Next. It is idempotent.
	Close() error
}

// Backend mounts filesystems on one FUSE library. caps lets the backend
// skip advertising operations the dispatch table never registered.
type Backend interface {
	Name() string
	Mount(ctx context.Context, mountpoint string, caps ops.Set, opts *MountOptions) (Conn, error)
}

var (
	regMu    sync.Mutex
	registry = map[string]func() Backend{}
)

// Register makes a backend constructor selectable by name. Later
// registrations replace earlier ones.
func Register(name string, factory func() Backend) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = factory
}

// New returns a fresh backend by name. An empty name resolves through the
// FUSEKIT_BRIDGE environment variable and then the default.
func New(name string) (Backend, error) {
	if name == "" {
		name = os.Getenv(EnvBridge)
	}
	if name == "" {
		name = DefaultName
	}
	regMu.Lock()
	factory := registry[name]
	regMu.Unlock()
	if factory == nil {
		return nil, fmt.Errorf("bridge: unknown backend %q (have %s)",
			name, strings.Join(Names(), ", "))
	}
	return factory(), nil
}

// Names lists the registered backends in sorted order.
func Names() []string {
	regMu.Lock()
	defer regMu.Unlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// queue adapts push-style library callbacks to the pull loop.
type queue struct {
	calls chan *Call
	done  chan struct{}
	once  sync.Once
}

func newQueue(depth int) *queue {
	return &queue{calls: make(chan *Call, depth), done: make(chan struct{})}
}

// submit enqueues a call and parks until its reply. Calls that race with
// shutdown fail with EIO so the library callback always returns.
func (q *queue) submit(octx *ops.Context, req *ops.Request) int {
	call := newCall(octx, req)
	select {
	case q.calls <- call:
	case <-q.done:
		return -int(errno.EIO)
	}
	select {
	case status := <-call.reply:
		return status
	case <-q.done:
		return -int(errno.EIO)
	}
}

// Next hands out the next queued call. Calls already enqueued win over
// shutdown so a closing connection still drains.
func (q *queue) Next(ctx context.Context) (*Call, error) {
	select {
	case call := <-q.calls:
		return call, nil
	default:
	}
	select {
	case call := <-q.calls:
		return call, nil
	case <-q.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *queue) shutdown() {
	q.once.Do(func() { close(q.done) })
}
