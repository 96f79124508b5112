package dispatch

import (
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Generation identifies which revision of the callback signature set a
// bridge or a filesystem was written against. The two differ in the
// presence of a file handle on attribute operations, trailing flag
// arguments on directory-fill and extended-attribute calls, and the shape
// of the init configuration object.
type Generation int

const (
	// Fuse2 is the older signature generation.
	Fuse2 Generation = 2
	// Fuse3 is the newer signature generation.
	Fuse3 Generation = 3
)

func (g Generation) String() string {
	switch g {
	case Fuse2:
		return "fuse2"
	case Fuse3:
		return "fuse3"
	default:
		return "unknown"
	}
}

// Shim returns the wrapper adapting a filesystem of generation fsGen to a
// bridge of generation bridgeGen, or nil when none is needed.
// handleAttrs lists the attribute operations the filesystem can serve
// through an open handle even in its older shape.
func Shim(fsGen, bridgeGen Generation, handleAttrs ops.Set, log *logging.Logger) Wrapper {
	switch {
	case fsGen == bridgeGen:
		return nil
	case fsGen == Fuse2 && bridgeGen == Fuse3:
		return NewV2Shim(log, handleAttrs)
	case fsGen == Fuse3 && bridgeGen == Fuse2:
		return NewV3Shim(log)
	default:
		return nil
	}
}

// attrOps are the operations whose newer-generation shape gained a file
// handle argument.
var attrOps = ops.NewSet(ops.Getattr, ops.Truncate, ops.Chmod, ops.Chown, ops.Utimens)

// V2Shim lets a filesystem written against the older signature generation
// run behind a newer-generation bridge. It strips the arguments the older
// shapes never carried: the file handle on attribute calls (except for
// operations the filesystem explicitly serves handle-based), per-entry
// directory-fill flags, the trailing extended-attribute argument, and it
// converts the init configuration object down to the legacy flag block.
//
// The legacy "nopath" flag has no equivalent in the newer generation.
// Requests for it are logged and dropped; open-handle operations still
// receive reconstructed paths. This is a known gap, not a translation.
type V2Shim struct {
	log         *logging.Logger
	handleAttrs ops.Set
}

// NewV2Shim builds the shim. handleAttrs lists attribute operations the
// filesystem routes through handle-based variants when a handle is present.
func NewV2Shim(log *logging.Logger, handleAttrs ops.Set) *V2Shim {
	if log == nil {
		log = logging.Discard()
	}
	return &V2Shim{log: log.WithComponent("compat"), handleAttrs: handleAttrs.Intersect(attrOps)}
}

func (s *V2Shim) Name() string { return "compat_v2" }

// Wrap implements Wrapper.
func (s *V2Shim) Wrap(op ops.Op, next Handler) Handler {
	switch {
	case op == ops.Init:
		return func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.Legacy == nil {
				req.Legacy = &ops.InitLegacyFlags{}
			}
			cfg := req.Config
			req.Config = nil
			ret, err := next(ctx, req)
			req.Config = cfg
			if req.Legacy.Nopath {
				s.log.Warn("filesystem requested nopath; the current bridge generation has no equivalent, flag ignored")
			}
			return ret, err
		}

	case attrOps.Has(op):
		if s.handleAttrs.Has(op) {
			return next
		}
		return func(ctx *ops.Context, req *ops.Request) (int, error) {
			req.Fh = ops.NoHandle
			return next(ctx, req)
		}

	case op == ops.Readdir:
		return func(ctx *ops.Context, req *ops.Request) (int, error) {
			req.ReaddirPlus = false
			if fill := req.Fill; fill != nil {
				req.Fill = func(name string, st *ops.Stat, off int64, _ uint32) bool {
					return fill(name, st, off, 0)
				}
			}
			return next(ctx, req)
		}

	case op == ops.Setxattr || op == ops.Getxattr:
		return func(ctx *ops.Context, req *ops.Request) (int, error) {
			req.Position = 0
			return next(ctx, req)
		}
	}
	return next
}

// V3Shim lets a filesystem written against the newer signature generation
// run behind an older-generation bridge. The older bridge never supplies
// the newer arguments, so the shim only has to synthesize the init
// configuration object the filesystem expects; newer-only hints it sets
// there have nowhere to go and are dropped.
type V3Shim struct {
	log *logging.Logger
}

// NewV3Shim builds the shim.
func NewV3Shim(log *logging.Logger) *V3Shim {
	if log == nil {
		log = logging.Discard()
	}
	return &V3Shim{log: log.WithComponent("compat")}
}

func (s *V3Shim) Name() string { return "compat_v3" }

// Wrap implements Wrapper.
func (s *V3Shim) Wrap(op ops.Op, next Handler) Handler {
	if op != ops.Init {
		return next
	}
	return func(ctx *ops.Context, req *ops.Request) (int, error) {
		if req.Config == nil {
			req.Config = &ops.InitConfig{AttrTimeout: 1, EntryTimeout: 1}
		}
		legacy := req.Legacy
		req.Legacy = nil
		ret, err := next(ctx, req)
		req.Legacy = legacy
		return ret, err
	}
}
