package ops

import (
	"context"
	"os"
)

// Context key type for request-scoped values stored on the Go context.
type contextKey string

const (
	// ContextKeyRequestID carries the per-request identifier stamped by
	// the dispatch chain.
	ContextKeyRequestID contextKey = "request_id"
)

// Context carries one invocation's caller identity and cancellation scope.
// It is valid for the duration of the in-flight operation. Out-of-band work
// such as pre-mount tree building uses Background, which carries the current
// process identity instead of implicit global state.
type Context struct {
	ctx context.Context

	UID   uint32 // caller user id
	GID   uint32 // caller group id
	PID   uint32 // caller process id
	Umask uint32

	// Private is the filesystem's init payload, set once during init and
	// carried to every subsequent operation until destroy.
	Private interface{}
}

// NewContext builds an operation context from the bridge-reported caller
// identity. A nil ctx falls back to context.Background.
func NewContext(ctx context.Context, uid, gid, pid uint32) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Context{ctx: ctx, UID: uid, GID: gid, PID: pid}
}

// Background returns a synthetic context carrying the current process
// identity. Used for building filesystem trees before mount and in tests.
func Background() *Context {
	return &Context{
		ctx: context.Background(),
		UID: uint32(os.Getuid()),
		GID: uint32(os.Getgid()),
		PID: uint32(os.Getpid()),
	}
}

// Context returns the Go context scoping this invocation.
func (c *Context) Context() context.Context {
	if c == nil || c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// WithGoContext returns a copy of c carrying ctx.
func (c *Context) WithGoContext(ctx context.Context) *Context {
	out := *c
	out.ctx = ctx
	return &out
}

// WithValue returns a copy of c with a request-scoped value attached.
func (c *Context) WithValue(key, value interface{}) *Context {
	return c.WithGoContext(context.WithValue(c.Context(), key, value))
}

// Value fetches a request-scoped value.
func (c *Context) Value(key interface{}) interface{} {
	return c.Context().Value(key)
}

// RequestID returns the identifier stamped by the dispatch chain, or "".
func (c *Context) RequestID() string {
	if id, ok := c.Value(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// Interrupted reports whether the request has been cancelled. Cooperative:
// long-running operations should poll it and bail out with EINTR.
func (c *Context) Interrupted() bool {
	select {
	case <-c.Context().Done():
		return true
	default:
		return false
	}
}
