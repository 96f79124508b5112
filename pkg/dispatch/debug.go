package dispatch

import (
	"time"

	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Debug logs every request and its outcome at debug level. It sits inside
// the safety wrapper so it observes the raw result and error before
// normalization.
type Debug struct {
	log *logging.Logger
}

// NewDebug builds the wrapper around the given logger.
func NewDebug(log *logging.Logger) *Debug {
	if log == nil {
		log = logging.Discard()
	}
	return &Debug{log: log.WithComponent("dispatch")}
}

func (d *Debug) Name() string { return "debug" }

// Wrap implements Wrapper.
func (d *Debug) Wrap(op ops.Op, next Handler) Handler {
	kind := op.ReturnKind()
	return func(ctx *ops.Context, req *ops.Request) (int, error) {
		log := d.log
		if id := ctx.RequestID(); id != "" {
			log = log.WithField("request_id", id)
		}
		log.Debugf("-> %s [uid=%d gid=%d pid=%d]", req, ctx.UID, ctx.GID, ctx.PID)

		start := time.Now()
		ret, err := next(ctx, req)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			log.Debugf("<- %s error=%v (%v)", req.Op, err, elapsed)
		case kind == ops.KindMeaningful && ret >= 0:
			log.Debugf("<- %s %s (%v)", req.Op, logging.FormatBytes(int64(ret)), elapsed)
		default:
			log.Debugf("<- %s ret=%d (%v)", req.Op, ret, elapsed)
		}
		return ret, err
	}
}
