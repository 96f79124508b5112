package dispatch

import (
	"github.com/google/uuid"

	"github.com/fusekit/fusekit/pkg/ops"
)

// ContextWrapper guarantees every handler in the chain below it sees a
// usable caller context: requests arriving without one get the configured
// default (a synthetic context carrying the local process identity, used by
// pre-mount builders and tests), and every request is stamped with an id
// the debug wrapper and delegates can correlate on.
type ContextWrapper struct {
	def *ops.Context
}

// NewContextWrapper builds the wrapper. A nil default falls back to
// ops.Background.
func NewContextWrapper(def *ops.Context) *ContextWrapper {
	if def == nil {
		def = ops.Background()
	}
	return &ContextWrapper{def: def}
}

func (c *ContextWrapper) Name() string { return "context" }

// Wrap implements Wrapper.
func (c *ContextWrapper) Wrap(op ops.Op, next Handler) Handler {
	return func(ctx *ops.Context, req *ops.Request) (int, error) {
		if ctx == nil {
			ctx = c.def
		}
		if ctx.RequestID() == "" {
			ctx = ctx.WithValue(ops.ContextKeyRequestID, uuid.NewString())
		}
		return next(ctx, req)
	}
}
