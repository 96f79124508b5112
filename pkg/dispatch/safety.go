package dispatch

import (
	"fmt"
	"runtime"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Safety normalizes whatever a handler chain produces into the integer
// contract the bridge layer understands. Installed outermost it guarantees:
//
//   - void operations never report anything; failures are logged and
//     swallowed
//   - status operations return -errno for recognized system errors, the
//     negated default errno for anything else, explicit negative returns
//     unchanged, and 0 otherwise
//   - meaningful operations additionally pass non-negative results through
//     untouched
//
// Panics in the inner chain are captured, logged with a stack, and treated
// as unclassified failures. The dispatch loop never crashes because of a
// filesystem implementation.
type Safety struct {
	log *logging.Logger
	def errno.Errno
}

// NewSafety builds the safety wrapper. A nil logger discards; a zero
// default errno becomes EIO.
func NewSafety(log *logging.Logger, def errno.Errno) *Safety {
	if log == nil {
		log = logging.Discard()
	}
	if def == errno.OK {
		def = errno.EIO
	}
	return &Safety{log: log, def: def}
}

func (s *Safety) Name() string { return "safety" }

// Wrap implements Wrapper.
func (s *Safety) Wrap(op ops.Op, next Handler) Handler {
	kind := op.ReturnKind()
	return func(ctx *ops.Context, req *ops.Request) (int, error) {
		ret, err := call(next, ctx, req)
		return normalize(kind, ret, err, s.def, s.log, op), nil
	}
}

// PanicError carries a recovered panic through the error path.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// call runs next, converting panics into a PanicError.
func call(next Handler, ctx *ops.Context, req *ops.Request) (ret int, err error) {
	defer func() {
		if p := recover(); p != nil {
			buf := make([]byte, 8192)
			n := runtime.Stack(buf, false)
			ret, err = 0, &PanicError{Value: p, Stack: buf[:n]}
		}
	}()
	return next(ctx, req)
}

// normalize applies the three-way return contract.
func normalize(kind ops.ReturnKind, ret int, err error, def errno.Errno, log *logging.Logger, op ops.Op) int {
	if kind == ops.KindVoid {
		if err != nil {
			logFailure(log, op, err)
		}
		return 0
	}

	if err != nil {
		if errno.IsErrno(err) {
			if e := errno.FromError(err, def); e != errno.OK {
				return -int(e)
			}
			return -int(def)
		}
		logFailure(log, op, err)
		return -int(def)
	}

	if kind == ops.KindMeaningful {
		// Byte counts and offsets pass through; explicit negative
		// statuses do too.
		return ret
	}
	if ret <= -1 {
		return ret
	}
	return 0
}

// logFailure records an unclassified failure with as much context as the
// error carries.
func logFailure(log *logging.Logger, op ops.Op, err error) {
	fields := map[string]interface{}{
		"op":    op.String(),
		"error": err.Error(),
	}
	if p, ok := err.(*PanicError); ok {
		fields["stack"] = string(p.Stack)
	}
	log.Error("operation failed", fields)
}
