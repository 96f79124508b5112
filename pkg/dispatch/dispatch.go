// Package dispatch builds and drives the per-operation handler chains that
// sit between a kernel bridge and a filesystem implementation.
//
// A Source contributes one inner handler per supported operation. Wrappers
// are folded around each inner handler at construction time, first wrapper
// outermost, producing a fixed dispatch table. Cross-cutting concerns
// (return-contract safety, caller context, debug logging, interrupt checks,
// protocol-generation shims) are all ordinary wrappers.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Handler executes one operation. The integer result only matters for
// meaningful-return operations or as an explicit negative status; errors
// carry failures until the safety boundary converts them.
type Handler func(ctx *ops.Context, req *ops.Request) (int, error)

// Wrapper transforms the handler registered for an operation. Wrap may
// return next unchanged to leave an operation alone.
type Wrapper interface {
	Name() string
	Wrap(op ops.Op, next Handler) Handler
}

// WrapperFunc adapts a plain function to the Wrapper interface.
type WrapperFunc func(op ops.Op, next Handler) Handler

func (f WrapperFunc) Name() string { return "wrapper_func" }

func (f WrapperFunc) Wrap(op ops.Op, next Handler) Handler { return f(op, next) }

// Source supplies inner handlers for the operations a filesystem supports.
type Source interface {
	// Caps returns the supported operation set, computed once.
	Caps() ops.Set
	// Handler returns the inner handler for op; must be non-nil for every
	// member of Caps.
	Handler(op ops.Op) Handler
}

// Configuration errors raised while building a registry. These indicate
// programmer mistakes and are reported at construction, never at request
// time.
var (
	ErrNilSource  = errors.New("dispatch: nil handler source")
	ErrBadWrapper = errors.New("dispatch: invalid wrapper")
	ErrBadHandler = errors.New("dispatch: source returned no handler for advertised operation")
)

// filtered applies an inner wrapper only to operations passing its filter.
type filtered struct {
	inner   Wrapper
	set     ops.Set
	exclude bool
}

func (f *filtered) Name() string { return f.inner.Name() }

func (f *filtered) Wrap(op ops.Op, next Handler) Handler {
	if f.set.Has(op) == f.exclude {
		return next
	}
	return f.inner.Wrap(op, next)
}

// Exclude returns w restricted to operations outside the given list.
func Exclude(w Wrapper, excluded ...ops.Op) Wrapper {
	return &filtered{inner: w, set: ops.NewSet(excluded...), exclude: true}
}

// Only returns w restricted to operations inside the given list.
func Only(w Wrapper, included ...ops.Op) Wrapper {
	return &filtered{inner: w, set: ops.NewSet(included...)}
}

// Registry holds the composed handler per operation.
type Registry struct {
	handlers [ops.Count]Handler
	caps     ops.Set
	log      *logging.Logger
	def      errno.Errno
}

// Option configures registry construction.
type Option func(*Registry)

// WithLogger sets the logger used for the terminal normalization guard.
func WithLogger(log *logging.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithDefaultErrno sets the errno reported for unclassified failures.
func WithDefaultErrno(e errno.Errno) Option {
	return func(r *Registry) {
		if e != errno.OK {
			r.def = e
		}
	}
}

// New composes the dispatch table: for every operation the source supports,
// the wrappers are folded around the source handler in listed order, so the
// first wrapper observes requests before all others. Unsupported operations
// stay unregistered and later report ENOSYS.
func New(src Source, wrappers []Wrapper, opts ...Option) (*Registry, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	for i, w := range wrappers {
		if w == nil {
			return nil, fmt.Errorf("%w: entry %d is nil", ErrBadWrapper, i)
		}
	}

	r := &Registry{
		caps: src.Caps(),
		log:  logging.Discard(),
		def:  errno.EIO,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, op := range r.caps.Ops() {
		h := src.Handler(op)
		if h == nil {
			return nil, fmt.Errorf("%w: %s", ErrBadHandler, op)
		}
		for i := len(wrappers) - 1; i >= 0; i-- {
			h = wrappers[i].Wrap(op, h)
			if h == nil {
				return nil, fmt.Errorf("%w: %s returned nil handler for %s",
					ErrBadWrapper, wrappers[i].Name(), op)
			}
		}
		r.handlers[op] = h
	}
	return r, nil
}

// Caps returns the set of registered operations.
func (r *Registry) Caps() ops.Set { return r.caps }

// Dispatch runs the composed chain for the request's operation.
// Unregistered operations return ENOSYS.
func (r *Registry) Dispatch(ctx *ops.Context, req *ops.Request) (int, error) {
	if req == nil || !req.Op.Valid() {
		return 0, errno.EINVAL
	}
	h := r.handlers[req.Op]
	if h == nil {
		return 0, errno.ENOSYS
	}
	return h(ctx, req)
}

// Invoke is the bridge-facing entry point: it dispatches and guarantees an
// integer status regardless of what the chain does. With the standard
// chain the safety wrapper has already normalized everything; this is the
// terminal net for custom chains.
func (r *Registry) Invoke(ctx *ops.Context, req *ops.Request) (status int) {
	if req == nil || !req.Op.Valid() {
		return -int(errno.EINVAL)
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("operation panicked past the wrapper chain", map[string]interface{}{
				"op":    req.Op.String(),
				"panic": fmt.Sprint(p),
			})
			status = -int(r.def)
		}
	}()

	ret, err := r.Dispatch(ctx, req)
	return normalize(req.Op.ReturnKind(), ret, err, r.def, r.log, req.Op)
}
