package adapter

import (
	"errors"
	"io"
	"sync"

	"github.com/fusekit/fusekit/pkg/dispatch"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

var (
	// ErrNilFS is returned by New for a nil filesystem value.
	ErrNilFS = errors.New("adapter: nil filesystem")
	// ErrNoOps is returned by New when the filesystem implements none of
	// the operation interfaces.
	ErrNoOps = errors.New("adapter: filesystem implements no operations")
)

// Adapter probes a filesystem value for the operation interfaces it
// implements and exposes the result as a dispatch source. Probing happens
// once in New; per-call dispatch is a table lookup, never reflection.
type Adapter struct {
	fs      interface{}
	log     *logging.Logger
	handles *Table

	handlers    [ops.Count]dispatch.Handler
	caps        ops.Set
	handleAttrs ops.Set

	mu      sync.Mutex
	private interface{}
}

var _ dispatch.Source = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(log *logging.Logger) Option {
	return func(a *Adapter) {
		if log != nil {
			a.log = log
		}
	}
}

// New probes fs and builds its dispatch source. It fails when fs is nil
// or implements no recognized operation interface.
func New(fs interface{}, opts ...Option) (*Adapter, error) {
	if fs == nil {
		return nil, ErrNilFS
	}
	a := &Adapter{
		fs:      fs,
		log:     logging.Discard(),
		handles: NewTable(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithComponent("adapter")
	a.bind()
	// Init and destroy are bookkeeping, not evidence of a filesystem.
	if a.caps.Without(ops.Init).Without(ops.Destroy).Len() == 0 {
		return nil, ErrNoOps
	}
	return a, nil
}

// Caps reports the operations the filesystem can serve.
func (a *Adapter) Caps() ops.Set { return a.caps }

// Handler returns the handler for op, or nil when unsupported.
func (a *Adapter) Handler(op ops.Op) dispatch.Handler { return a.handlers[op] }

// HandleAttrs reports the attribute operations the filesystem serves in
// handle-aware form. Feed this to the generation shim so it knows which
// calls keep their handle.
func (a *Adapter) HandleAttrs() ops.Set { return a.handleAttrs }

// OpenHandles reports how many handles are currently open.
func (a *Adapter) OpenHandles() int { return a.handles.Len() }

func (a *Adapter) set(op ops.Op, h dispatch.Handler) {
	a.handlers[op] = func(ctx *ops.Context, req *ops.Request) (int, error) {
		if ctx != nil && ctx.Private == nil {
			ctx.Private = a.getPrivate()
		}
		return h(ctx, req)
	}
	a.caps = a.caps.With(op)
}

func (a *Adapter) setPrivate(v interface{}) {
	a.mu.Lock()
	a.private = v
	a.mu.Unlock()
}

func (a *Adapter) getPrivate() interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.private
}

// handleValue resolves the request's handle to the value the filesystem
// returned from open. Both returns are nil when the request carries no
// handle or the handle is unknown.
func (a *Adapter) handleValue(req *ops.Request) (interface{}, *Handle) {
	if !req.HasHandle() {
		return nil, nil
	}
	h, ok := a.handles.Get(req.Fh)
	if !ok {
		return nil, nil
	}
	return h.Value, h
}

func isNosys(err error) bool {
	return err != nil && errno.FromError(err, errno.OK) == errno.ENOSYS
}

// runFill invokes fn and absorbs the filler's stop signal, so a
// filesystem that keeps filling past a full buffer still produces the
// partial listing that fit. Any other panic propagates.
func runFill(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if p == ErrFillStopped {
				err = nil
				return
			}
			panic(p)
		}
	}()
	return fn()
}

// bind wires one handler per operation the filesystem's interface set can
// serve, including the fallback compositions (create from mknod+open,
// handle-based I/O for filesystems without Read/Write methods).
func (a *Adapter) bind() {
	fs := a.fs

	a.bindLifecycle(fs)
	a.bindAttr(fs)
	a.bindTree(fs)
	a.bindIO(fs)
	a.bindDir(fs)
	a.bindXattr(fs)
	a.bindMisc(fs)

	// Any filesystem that hands out handles can serve copy_file_range
	// through chunked reads and writes.
	if a.handlers[ops.CopyFileRange] == nil &&
		(a.caps.Has(ops.Open) || a.caps.Has(ops.Create)) {
		a.set(ops.CopyFileRange, a.copyRangeFallback)
	}
}

func (a *Adapter) bindLifecycle(fs interface{}) {
	a.set(ops.Init, func(ctx *ops.Context, req *ops.Request) (int, error) {
		if in, ok := fs.(Initer); ok {
			a.setPrivate(in.Init(ctx, req.Conn, req.Config))
		}
		return 0, nil
	})
	a.set(ops.Destroy, func(ctx *ops.Context, req *ops.Request) (int, error) {
		if d, ok := fs.(Destroyer); ok {
			d.Destroy(ctx)
		}
		if n := a.handles.Len(); n > 0 {
			a.log.Warnf("destroy with %d handles still open", n)
			a.handles = NewTable()
		}
		a.setPrivate(nil)
		return 0, nil
	})
}

func (a *Adapter) bindAttr(fs interface{}) {
	getattrer, _ := fs.(Getattrer)
	pathGetattrer, _ := fs.(PathGetattrer)
	fgetattrer, _ := fs.(Fgetattrer)
	switch {
	case getattrer != nil:
		a.handleAttrs = a.handleAttrs.With(ops.Getattr)
		a.set(ops.Getattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.Stat == nil {
				return 0, errno.EINVAL
			}
			return 0, getattrer.Getattr(ctx, req.Path, req.Stat, req.Fh)
		})
	case pathGetattrer != nil:
		if fgetattrer != nil {
			a.handleAttrs = a.handleAttrs.With(ops.Getattr)
		}
		a.set(ops.Getattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.Stat == nil {
				return 0, errno.EINVAL
			}
			if req.HasHandle() && fgetattrer != nil {
				return 0, fgetattrer.Fgetattr(ctx, req.Path, req.Stat, req.Fh)
			}
			return 0, pathGetattrer.Getattr(ctx, req.Path, req.Stat)
		})
	}

	truncater, _ := fs.(Truncater)
	pathTruncater, _ := fs.(PathTruncater)
	ftruncater, _ := fs.(Ftruncater)
	if truncater != nil || pathTruncater != nil || ftruncater != nil {
		if truncater != nil || ftruncater != nil {
			a.handleAttrs = a.handleAttrs.With(ops.Truncate)
		}
		a.set(ops.Truncate, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if truncater != nil {
				return 0, truncater.Truncate(ctx, req.Path, req.Size, req.Fh)
			}
			if req.HasHandle() {
				if ftruncater != nil {
					return 0, ftruncater.Ftruncate(ctx, req.Path, req.Size, req.Fh)
				}
				if v, _ := a.handleValue(req); v != nil {
					if t, ok := v.(Truncatable); ok {
						return 0, t.Truncate(req.Size)
					}
				}
			}
			if pathTruncater != nil {
				return 0, pathTruncater.Truncate(ctx, req.Path, req.Size)
			}
			return 0, errno.ENOSYS
		})
	}

	if c, ok := fs.(Chmoder); ok {
		a.handleAttrs = a.handleAttrs.With(ops.Chmod)
		a.set(ops.Chmod, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, c.Chmod(ctx, req.Path, req.Mode, req.Fh)
		})
	}
	if c, ok := fs.(Chowner); ok {
		a.handleAttrs = a.handleAttrs.With(ops.Chown)
		a.set(ops.Chown, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, c.Chown(ctx, req.Path, req.UID, req.GID, req.Fh)
		})
	}
	if u, ok := fs.(Utimenser); ok {
		a.handleAttrs = a.handleAttrs.With(ops.Utimens)
		a.set(ops.Utimens, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, u.Utimens(ctx, req.Path, req.Times, req.Fh)
		})
	}
	if acc, ok := fs.(Accesser); ok {
		a.set(ops.Access, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, acc.Access(ctx, req.Path, req.Mode)
		})
	}
	if sf, ok := fs.(Statfser); ok {
		a.set(ops.Statfs, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.Statfs == nil {
				return 0, errno.EINVAL
			}
			return 0, sf.Statfs(ctx, req.Path, req.Statfs)
		})
	}
}

func (a *Adapter) bindTree(fs interface{}) {
	if m, ok := fs.(Mknoder); ok {
		a.set(ops.Mknod, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, m.Mknod(ctx, req.Path, req.Mode, req.Dev)
		})
	}
	if m, ok := fs.(Mkdirer); ok {
		a.set(ops.Mkdir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, m.Mkdir(ctx, req.Path, req.Mode)
		})
	}
	if u, ok := fs.(Unlinker); ok {
		a.set(ops.Unlink, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, u.Unlink(ctx, req.Path)
		})
	}
	if r, ok := fs.(Rmdirer); ok {
		a.set(ops.Rmdir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, r.Rmdir(ctx, req.Path)
		})
	}
	if s, ok := fs.(Symlinker); ok {
		a.set(ops.Symlink, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, s.Symlink(ctx, req.Target, req.Path)
		})
	}
	if r, ok := fs.(Readlinker); ok {
		a.set(ops.Readlink, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.OutTarget == nil {
				return 0, errno.EINVAL
			}
			target, err := r.Readlink(ctx, req.Path)
			if err != nil {
				return 0, err
			}
			*req.OutTarget = target
			return 0, nil
		})
	}
	if r, ok := fs.(Renamer); ok {
		a.set(ops.Rename, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, r.Rename(ctx, req.Path, req.Target)
		})
	}
	if l, ok := fs.(Linker); ok {
		a.set(ops.Link, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, l.Link(ctx, req.Path, req.Target)
		})
	}
}

func (a *Adapter) bindIO(fs interface{}) {
	opener, _ := fs.(Opener)
	creator, _ := fs.(Creator)
	mknoder, _ := fs.(Mknoder)
	reader, _ := fs.(Reader)
	writer, _ := fs.(Writer)

	if opener != nil {
		a.set(ops.Open, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.OutHandle == nil {
				return 0, errno.EINVAL
			}
			v, err := opener.Open(ctx, req.Path, req.Flags)
			if err != nil {
				return 0, err
			}
			*req.OutHandle = a.handles.Put(req.Path, req.Flags, v)
			return 0, nil
		})
	}

	// create falls back to mknod followed by open when the filesystem
	// has no atomic create.
	if creator != nil || (mknoder != nil && opener != nil) {
		a.set(ops.Create, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.OutHandle == nil {
				return 0, errno.EINVAL
			}
			if creator != nil {
				v, err := creator.Create(ctx, req.Path, req.Flags, req.Mode)
				if err != nil {
					return 0, err
				}
				*req.OutHandle = a.handles.Put(req.Path, req.Flags, v)
				return 0, nil
			}
			if err := mknoder.Mknod(ctx, req.Path, req.Mode|ops.S_IFREG, 0); err != nil {
				return 0, err
			}
			v, err := opener.Open(ctx, req.Path, req.Flags)
			if err != nil {
				return 0, err
			}
			*req.OutHandle = a.handles.Put(req.Path, req.Flags, v)
			return 0, nil
		})
	}

	if reader != nil || opener != nil {
		a.set(ops.Read, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, h := a.handleValue(req)
			if reader != nil {
				n, err := reader.Read(ctx, req.Path, req.Data, req.Offset, v)
				if !isNosys(err) {
					return n, err
				}
			}
			return a.readFallback(h, req.Data, req.Offset)
		})
	}

	if writer != nil || opener != nil {
		a.set(ops.Write, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, h := a.handleValue(req)
			if writer != nil {
				n, err := writer.Write(ctx, req.Path, req.Data, req.Offset, v)
				if !isNosys(err) {
					return n, err
				}
			}
			return a.writeFallback(h, req.Data, req.Offset)
		})
	}

	if f, ok := fs.(Flusher); ok {
		a.set(ops.Flush, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			return 0, f.Flush(ctx, req.Path, v)
		})
	}

	releaser, _ := fs.(Releaser)
	if opener != nil || creator != nil || releaser != nil {
		a.set(ops.Release, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, ok := a.handles.Release(req.Fh)
			if !ok {
				return 0, errno.EBADF
			}
			if releaser != nil {
				return 0, releaser.Release(ctx, req.Path, v)
			}
			if c, ok := v.(io.Closer); ok {
				return 0, c.Close()
			}
			return 0, nil
		})
	}

	fsyncer, _ := fs.(Fsyncer)
	if fsyncer != nil || opener != nil {
		a.set(ops.Fsync, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			if fsyncer != nil {
				return 0, fsyncer.Fsync(ctx, req.Path, req.Datasync, v)
			}
			if s, ok := v.(Syncable); ok {
				return 0, s.Sync()
			}
			return 0, errno.ENOSYS
		})
	}
}

func (a *Adapter) bindDir(fs interface{}) {
	opendirer, _ := fs.(Opendirer)
	readdirer, _ := fs.(Readdirer)

	if opendirer != nil {
		a.set(ops.Opendir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.OutHandle == nil {
				return 0, errno.EINVAL
			}
			v, err := opendirer.Opendir(ctx, req.Path)
			if err != nil {
				return 0, err
			}
			*req.OutHandle = a.handles.Put(req.Path, 0, v)
			return 0, nil
		})
	}

	if readdirer != nil || opendirer != nil {
		a.set(ops.Readdir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.Fill == nil {
				return 0, errno.EINVAL
			}
			v, _ := a.handleValue(req)
			filler := NewDirFiller(req.Fill)
			err := runFill(func() error {
				if readdirer != nil {
					err := readdirer.Readdir(ctx, req.Path, filler, req.Offset, v)
					if !isNosys(err) {
						return err
					}
				}
				return a.readdirFallback(v, filler, req.Offset)
			})
			return 0, err
		})
	}

	releasedirer, _ := fs.(Releasedirer)
	if opendirer != nil || releasedirer != nil {
		a.set(ops.Releasedir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, ok := a.handles.Release(req.Fh)
			if !ok {
				return 0, errno.EBADF
			}
			if releasedirer != nil {
				return 0, releasedirer.Releasedir(ctx, req.Path, v)
			}
			if c, ok := v.(io.Closer); ok {
				return 0, c.Close()
			}
			return 0, nil
		})
	}

	if f, ok := fs.(Fsyncdirer); ok {
		a.set(ops.Fsyncdir, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			return 0, f.Fsyncdir(ctx, req.Path, req.Datasync, v)
		})
	}
}

func (a *Adapter) bindXattr(fs interface{}) {
	if s, ok := fs.(Setxattrer); ok {
		a.set(ops.Setxattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, s.Setxattr(ctx, req.Path, req.Name, req.Value, req.Flags)
		})
	}
	if g, ok := fs.(Getxattrer); ok {
		a.set(ops.Getxattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			val, err := g.Getxattr(ctx, req.Path, req.Name)
			if err != nil {
				return 0, err
			}
			if req.Data == nil {
				return len(val), nil
			}
			if len(req.Data) < len(val) {
				return 0, errno.ERANGE
			}
			return copy(req.Data, val), nil
		})
	}
	if l, ok := fs.(Listxattrer); ok {
		a.set(ops.Listxattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			names, err := l.Listxattr(ctx, req.Path)
			if err != nil {
				return 0, err
			}
			size := 0
			for _, name := range names {
				size += len(name) + 1
				if req.FillName != nil && !req.FillName(name) {
					break
				}
			}
			return size, nil
		})
	}
	if r, ok := fs.(Removexattrer); ok {
		a.set(ops.Removexattr, func(ctx *ops.Context, req *ops.Request) (int, error) {
			return 0, r.Removexattr(ctx, req.Path, req.Name)
		})
	}
}

func (a *Adapter) bindMisc(fs interface{}) {
	if l, ok := fs.(Locker); ok {
		a.set(ops.Lock, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			return 0, l.Lock(ctx, req.Path, v, req.Flags, req.Lk)
		})
	}
	if f, ok := fs.(Flocker); ok {
		a.set(ops.Flock, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			return 0, f.Flock(ctx, req.Path, v, req.Flags)
		})
	}
	if f, ok := fs.(Fallocater); ok {
		a.set(ops.Fallocate, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			return 0, f.Fallocate(ctx, req.Path, req.Flags, req.Offset, req.Size, v)
		})
	}
	if l, ok := fs.(Lseeker); ok {
		a.set(ops.Lseek, func(ctx *ops.Context, req *ops.Request) (int, error) {
			v, _ := a.handleValue(req)
			off, err := l.Lseek(ctx, req.Path, req.Offset, req.Whence, v)
			if err != nil {
				return 0, err
			}
			return int(off), nil
		})
	}
	if c, ok := fs.(CopyFileRanger); ok {
		a.set(ops.CopyFileRange, func(ctx *ops.Context, req *ops.Request) (int, error) {
			srcV, _ := a.handleValue(req)
			var dstV interface{}
			if req.TargetFh != ops.NoHandle {
				if h, ok := a.handles.Get(req.TargetFh); ok {
					dstV = h.Value
				}
			}
			n, err := c.CopyFileRange(ctx, req.Path, srcV, req.Offset,
				req.Target, dstV, req.TargetOffset, req.Size, req.Flags)
			if err != nil {
				return 0, err
			}
			return int(n), nil
		})
	}
	if b, ok := fs.(Bmapper); ok {
		a.set(ops.Bmap, func(ctx *ops.Context, req *ops.Request) (int, error) {
			if req.OutIdx == nil {
				return 0, errno.EINVAL
			}
			idx, err := b.Bmap(ctx, req.Path, req.Size, uint64(req.Offset))
			if err != nil {
				return 0, err
			}
			*req.OutIdx = idx
			return 0, nil
		})
	}
}
