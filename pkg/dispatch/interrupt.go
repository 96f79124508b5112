package dispatch

import (
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Interrupt fails requests whose context was cancelled before the inner
// handler ran. Cancellation during the handler stays cooperative: long
// operations poll ctx.Interrupted themselves. Init and destroy are never
// interrupted.
type Interrupt struct{}

// NewInterrupt builds the wrapper.
func NewInterrupt() *Interrupt { return &Interrupt{} }

func (i *Interrupt) Name() string { return "interrupt" }

// Wrap implements Wrapper.
func (i *Interrupt) Wrap(op ops.Op, next Handler) Handler {
	if op.ReturnKind() == ops.KindVoid {
		return next
	}
	return func(ctx *ops.Context, req *ops.Request) (int, error) {
		if ctx.Interrupted() {
			return 0, errno.EINTR
		}
		return next(ctx, req)
	}
}
