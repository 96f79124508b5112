//go:build !cgofuse
// +build !cgofuse

package bridge

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

func init() {
	Register("gofuse", func() Backend { return gofuseBackend{} })
}

// gofuseBackend mounts through hanwen/go-fuse. The library's inode tree is
// used only to keep paths: every node is the same type and rebuilds its
// path from the tree on each callback, so renames the kernel has seen stay
// coherent without any bookkeeping of our own.
type gofuseBackend struct{}

func (gofuseBackend) Name() string { return "gofuse" }

func (gofuseBackend) Mount(_ context.Context, mountpoint string, caps ops.Set, opts *MountOptions) (Conn, error) {
	if opts == nil {
		opts = NewMountOptions()
	}
	conn := &gofuseConn{queue: newQueue(queueDepth), caps: caps, opts: opts}
	fuseOpts := gofuseOptions(opts)
	fuseOpts.EnableLocks = caps.Has(ops.Lock) || caps.Has(ops.Flock)
	server, err := fs.Mount(mountpoint, &gfNode{conn: conn}, fuseOpts)
	if err != nil {
		conn.shutdown()
		return nil, fmt.Errorf("bridge: gofuse mount %s: %w", mountpoint, err)
	}
	conn.server = server
	// If the kernel connection dies on its own (external unmount), drain
	// the pull loop too.
	go func() {
		server.Wait()
		conn.shutdown()
	}()
	return conn, nil
}

func gofuseOptions(opts *MountOptions) *fs.Options {
	out := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:       opts.FSName,
			Name:         opts.Subtype,
			AllowOther:   opts.AllowOther,
			Debug:        opts.Debug,
			MaxWrite:     opts.MaxWrite,
			MaxReadAhead: opts.MaxReadahead,
		},
		NullPermissions: !opts.DefaultPermissions,
	}
	attr, entry := opts.AttrTimeout, opts.EntryTimeout
	out.AttrTimeout = &attr
	out.EntryTimeout = &entry
	if opts.NegativeTimeout > 0 {
		neg := opts.NegativeTimeout
		out.NegativeTimeout = &neg
	}
	if opts.ReadOnly {
		out.Options = append(out.Options, "ro")
	}
	if opts.AllowRoot {
		out.Options = append(out.Options, "allow_root")
	}
	out.Options = append(out.Options, opts.Extra...)
	return out
}

type gofuseConn struct {
	*queue
	caps   ops.Set
	opts   *MountOptions
	server *fuse.Server

	closeOnce sync.Once
	closeErr  error
}

func (c *gofuseConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.server.Unmount()
		c.shutdown()
	})
	return c.closeErr
}

// do dispatches one call, short-circuiting operations the dispatch table
// never registered so the kernel learns ENOSYS without a round trip.
func (c *gofuseConn) do(octx *ops.Context, req *ops.Request) int {
	if !c.caps.Has(req.Op) {
		return -int(errno.ENOSYS)
	}
	return c.submit(octx, req)
}

// opContext converts the library's caller information. Callbacks without
// one (internal prefetches) run as the process.
func (c *gofuseConn) opContext(ctx context.Context) *ops.Context {
	if caller, ok := fuse.FromContext(ctx); ok {
		return ops.NewContext(ctx, caller.Uid, caller.Gid, caller.Pid)
	}
	return ops.NewContext(ctx, uint32(os.Getuid()), uint32(os.Getgid()), uint32(os.Getpid()))
}

func (c *gofuseConn) fileFlags() uint32 {
	var flags uint32
	if c.opts.DirectIO {
		flags |= fuse.FOPEN_DIRECT_IO
	}
	if c.opts.KernelCache {
		flags |= fuse.FOPEN_KEEP_CACHE
	}
	return flags
}

// gfNode is the one node type of the backend.
type gfNode struct {
	fs.Inode
	conn *gofuseConn
}

var (
	_ = (fs.NodeGetattrer)((*gfNode)(nil))
	_ = (fs.NodeSetattrer)((*gfNode)(nil))
	_ = (fs.NodeLookuper)((*gfNode)(nil))
	_ = (fs.NodeReaddirer)((*gfNode)(nil))
	_ = (fs.NodeMkdirer)((*gfNode)(nil))
	_ = (fs.NodeMknoder)((*gfNode)(nil))
	_ = (fs.NodeUnlinker)((*gfNode)(nil))
	_ = (fs.NodeRmdirer)((*gfNode)(nil))
	_ = (fs.NodeRenamer)((*gfNode)(nil))
	_ = (fs.NodeLinker)((*gfNode)(nil))
	_ = (fs.NodeSymlinker)((*gfNode)(nil))
	_ = (fs.NodeReadlinker)((*gfNode)(nil))
	_ = (fs.NodeAccesser)((*gfNode)(nil))
	_ = (fs.NodeOpener)((*gfNode)(nil))
	_ = (fs.NodeCreater)((*gfNode)(nil))
	_ = (fs.NodeStatfser)((*gfNode)(nil))
	_ = (fs.NodeFsyncer)((*gfNode)(nil))
	_ = (fs.NodeGetxattrer)((*gfNode)(nil))
	_ = (fs.NodeSetxattrer)((*gfNode)(nil))
	_ = (fs.NodeListxattrer)((*gfNode)(nil))
	_ = (fs.NodeRemovexattrer)((*gfNode)(nil))
	_ = (fs.NodeCopyFileRanger)((*gfNode)(nil))
)

func (n *gfNode) path() string { return "/" + n.Inode.Path(nil) }

func (n *gfNode) childPath(name string) string {
	p := n.path()
	if p == "/" {
		return "/" + name
	}
	return p + "/" + name
}

func (n *gfNode) newChild(ctx context.Context, st *ops.Stat) *fs.Inode {
	return n.NewInode(ctx, &gfNode{conn: n.conn}, fs.StableAttr{Mode: st.Mode & ops.S_IFMT})
}

// lookupEntry stats path and materializes the child inode plus entry
// attributes, the tail shared by lookup and every entry-creating op.
func (n *gfNode) lookupEntry(ctx context.Context, octx *ops.Context, path string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var st ops.Stat
	req := ops.NewRequest(ops.Getattr, path)
	req.Stat = &st
	if s := n.conn.do(octx, req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	fillAttr(&st, &out.Attr)
	return n.newChild(ctx, &st), 0
}

func (n *gfNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.lookupEntry(ctx, n.conn.opContext(ctx), n.childPath(name), out)
}

func (n *gfNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	var st ops.Stat
	req := ops.NewRequest(ops.Getattr, n.path())
	req.Stat = &st
	req.Fh = handleID(f)
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

// Setattr fans out to the attribute operations the dispatch contract keeps
// separate, then re-stats to fill the reply.
func (n *gfNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	path := n.path()
	octx := n.conn.opContext(ctx)
	fh := handleID(f)

	if in.Valid&fuse.FATTR_MODE != 0 {
		req := ops.NewRequest(ops.Chmod, path)
		req.Fh = fh
		req.Mode = in.Mode
		if s := n.conn.do(octx, req); s != 0 {
			return syscall.Errno(-s)
		}
	}
	if in.Valid&(fuse.FATTR_UID|fuse.FATTR_GID) != 0 {
		req := ops.NewRequest(ops.Chown, path)
		req.Fh = fh
		req.UID, req.GID = ^uint32(0), ^uint32(0)
		if in.Valid&fuse.FATTR_UID != 0 {
			req.UID = in.Owner.Uid
		}
		if in.Valid&fuse.FATTR_GID != 0 {
			req.GID = in.Owner.Gid
		}
		if s := n.conn.do(octx, req); s != 0 {
			return syscall.Errno(-s)
		}
	}
	if in.Valid&fuse.FATTR_SIZE != 0 {
		req := ops.NewRequest(ops.Truncate, path)
		req.Fh = fh
		req.Size = int64(in.Size)
		if s := n.conn.do(octx, req); s != 0 {
			return syscall.Errno(-s)
		}
	}
	if in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_MTIME|fuse.FATTR_ATIME_NOW|fuse.FATTR_MTIME_NOW) != 0 {
		ts, errn := n.setattrTimes(octx, path, in)
		if errn != 0 {
			return errn
		}
		req := ops.NewRequest(ops.Utimens, path)
		req.Fh = fh
		req.Times = ts
		if s := n.conn.do(octx, req); s != 0 {
			return syscall.Errno(-s)
		}
	}
	return n.Getattr(ctx, f, out)
}

// setattrTimes builds the utimens pair. A zero timespec means "now"; when
// only one side is being set the other is carried over from the current
// attributes so it is not reset.
func (n *gfNode) setattrTimes(octx *ops.Context, path string, in *fuse.SetAttrIn) ([2]ops.Timespec, syscall.Errno) {
	var ts [2]ops.Timespec
	haveA := in.Valid&(fuse.FATTR_ATIME|fuse.FATTR_ATIME_NOW) != 0
	haveM := in.Valid&(fuse.FATTR_MTIME|fuse.FATTR_MTIME_NOW) != 0
	if !haveA || !haveM {
		var st ops.Stat
		req := ops.NewRequest(ops.Getattr, path)
		req.Stat = &st
		if s := n.conn.do(octx, req); s != 0 {
			return ts, syscall.Errno(-s)
		}
		ts[0], ts[1] = st.Atim, st.Mtim
	}
	if in.Valid&fuse.FATTR_ATIME != 0 && in.Valid&fuse.FATTR_ATIME_NOW == 0 {
		ts[0] = ops.Timespec{Sec: int64(in.Atime), Nsec: int64(in.Atimensec)}
	} else if in.Valid&fuse.FATTR_ATIME_NOW != 0 {
		ts[0] = ops.Timespec{}
	}
	if in.Valid&fuse.FATTR_MTIME != 0 && in.Valid&fuse.FATTR_MTIME_NOW == 0 {
		ts[1] = ops.Timespec{Sec: int64(in.Mtime), Nsec: int64(in.Mtimensec)}
	} else if in.Valid&fuse.FATTR_MTIME_NOW != 0 {
		ts[1] = ops.Timespec{}
	}
	return ts, 0
}

func (n *gfNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	req := ops.NewRequest(ops.Readdir, n.path())
	req.Fill = func(name string, st *ops.Stat, off int64, flags uint32) bool {
		mode := ops.S_IFREG
		if st != nil {
			mode = st.Mode & ops.S_IFMT
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
		return true
	}
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return fs.NewListDirStream(entries), 0
}

func (n *gfNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	octx := n.conn.opContext(ctx)
	path := n.childPath(name)
	req := ops.NewRequest(ops.Mkdir, path)
	req.Mode = mode
	if s := n.conn.do(octx, req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return n.lookupEntry(ctx, octx, path, out)
}

func (n *gfNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	octx := n.conn.opContext(ctx)
	path := n.childPath(name)
	req := ops.NewRequest(ops.Mknod, path)
	req.Mode = mode
	req.Dev = uint64(dev)
	if s := n.conn.do(octx, req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return n.lookupEntry(ctx, octx, path, out)
}

func (n *gfNode) Unlink(ctx context.Context, name string) syscall.Errno {
	req := ops.NewRequest(ops.Unlink, n.childPath(name))
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	req := ops.NewRequest(ops.Rmdir, n.childPath(name))
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dir := "/" + newParent.EmbeddedInode().Path(nil)
	dst := dir + "/" + newName
	if dir == "/" {
		dst = "/" + newName
	}
	req := ops.NewRequest(ops.Rename, n.childPath(name))
	req.Target = dst
	req.Flags = int(flags)
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	octx := n.conn.opContext(ctx)
	path := n.childPath(name)
	req := ops.NewRequest(ops.Link, "/"+target.EmbeddedInode().Path(nil))
	req.Target = path
	if s := n.conn.do(octx, req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return n.lookupEntry(ctx, octx, path, out)
}

func (n *gfNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	octx := n.conn.opContext(ctx)
	path := n.childPath(name)
	req := ops.NewRequest(ops.Symlink, path)
	req.Target = target
	if s := n.conn.do(octx, req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return n.lookupEntry(ctx, octx, path, out)
}

func (n *gfNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	var target string
	req := ops.NewRequest(ops.Readlink, n.path())
	req.OutTarget = &target
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return nil, syscall.Errno(-s)
	}
	return []byte(target), 0
}

func (n *gfNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	req := ops.NewRequest(ops.Access, n.path())
	req.Mode = mask
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	path := n.path()
	var fh uint64 = ops.NoHandle
	req := ops.NewRequest(ops.Open, path)
	req.Flags = int(flags)
	req.OutHandle = &fh
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return nil, 0, syscall.Errno(-s)
	}
	return &gfHandle{conn: n.conn, id: fh, path: path}, n.conn.fileFlags(), 0
}

func (n *gfNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	octx := n.conn.opContext(ctx)
	path := n.childPath(name)
	var fh uint64 = ops.NoHandle
	req := ops.NewRequest(ops.Create, path)
	req.Flags = int(flags)
	req.Mode = mode
	req.OutHandle = &fh
	if s := n.conn.do(octx, req); s != 0 {
		return nil, nil, 0, syscall.Errno(-s)
	}
	child, errn := n.lookupEntry(ctx, octx, path, out)
	if errn != 0 {
		return nil, nil, 0, errn
	}
	return child, &gfHandle{conn: n.conn, id: fh, path: path}, n.conn.fileFlags(), 0
}

func (n *gfNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st ops.Statvfs
	req := ops.NewRequest(ops.Statfs, n.path())
	req.Statfs = &st
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.NameLen = uint32(st.Namemax)
	return 0
}

func (n *gfNode) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	req := ops.NewRequest(ops.Fsync, n.path())
	req.Fh = handleID(f)
	req.Datasync = flags&1 != 0
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	req := ops.NewRequest(ops.Getxattr, n.path())
	req.Name = attr
	if len(dest) > 0 {
		req.Data = dest
	}
	s := n.conn.do(n.conn.opContext(ctx), req)
	if s < 0 {
		return 0, syscall.Errno(-s)
	}
	return uint32(s), 0
}

func (n *gfNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	req := ops.NewRequest(ops.Setxattr, n.path())
	req.Name = attr
	req.Value = data
	req.Flags = int(flags)
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	req := ops.NewRequest(ops.Listxattr, n.path())
	pos := 0
	overflow := false
	if len(dest) > 0 {
		req.FillName = func(name string) bool {
			if pos+len(name)+1 > len(dest) {
				overflow = true
				return false
			}
			copy(dest[pos:], name)
			dest[pos+len(name)] = 0
			pos += len(name) + 1
			return true
		}
	}
	s := n.conn.do(n.conn.opContext(ctx), req)
	if s < 0 {
		return 0, syscall.Errno(-s)
	}
	if len(dest) == 0 {
		return uint32(s), 0
	}
	if overflow || s > len(dest) {
		return 0, syscall.ERANGE
	}
	return uint32(pos), 0
}

func (n *gfNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	req := ops.NewRequest(ops.Removexattr, n.path())
	req.Name = attr
	if s := n.conn.do(n.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (n *gfNode) CopyFileRange(ctx context.Context, fhIn fs.FileHandle, offIn uint64, out *fs.Inode, fhOut fs.FileHandle, offOut uint64, sz uint64, flags uint64) (uint32, syscall.Errno) {
	req := ops.NewRequest(ops.CopyFileRange, n.path())
	req.Fh = handleID(fhIn)
	req.Offset = int64(offIn)
	req.Target = "/" + out.Path(nil)
	req.TargetFh = handleID(fhOut)
	req.TargetOffset = int64(offOut)
	req.Size = int64(sz)
	req.Flags = int(flags)
	s := n.conn.do(n.conn.opContext(ctx), req)
	if s < 0 {
		return 0, syscall.Errno(-s)
	}
	return uint32(s), 0
}

// gfHandle carries one dispatch handle through the library. The path is
// the one seen at open time; handle-bearing operations resolve by handle
// first, so a rename while open only goes stale for purely path-driven
// filesystems.
type gfHandle struct {
	conn *gofuseConn
	id   uint64
	path string
}

var (
	_ = (fs.FileReader)((*gfHandle)(nil))
	_ = (fs.FileWriter)((*gfHandle)(nil))
	_ = (fs.FileFlusher)((*gfHandle)(nil))
	_ = (fs.FileReleaser)((*gfHandle)(nil))
	_ = (fs.FileFsyncer)((*gfHandle)(nil))
	_ = (fs.FileLseeker)((*gfHandle)(nil))
	_ = (fs.FileAllocater)((*gfHandle)(nil))
	_ = (fs.FileGetlker)((*gfHandle)(nil))
	_ = (fs.FileSetlker)((*gfHandle)(nil))
	_ = (fs.FileSetlkwer)((*gfHandle)(nil))
)

func handleID(f fs.FileHandle) uint64 {
	if h, ok := f.(*gfHandle); ok {
		return h.id
	}
	return ops.NoHandle
}

func (h *gfHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	req := ops.NewRequest(ops.Read, h.path)
	req.Fh = h.id
	req.Data = dest
	req.Offset = off
	s := h.conn.do(h.conn.opContext(ctx), req)
	if s < 0 {
		return nil, syscall.Errno(-s)
	}
	return fuse.ReadResultData(dest[:s]), 0
}

func (h *gfHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	req := ops.NewRequest(ops.Write, h.path)
	req.Fh = h.id
	req.Data = data
	req.Offset = off
	s := h.conn.do(h.conn.opContext(ctx), req)
	if s < 0 {
		return 0, syscall.Errno(-s)
	}
	return uint32(s), 0
}

func (h *gfHandle) Flush(ctx context.Context) syscall.Errno {
	req := ops.NewRequest(ops.Flush, h.path)
	req.Fh = h.id
	if s := h.conn.do(h.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (h *gfHandle) Release(ctx context.Context) syscall.Errno {
	req := ops.NewRequest(ops.Release, h.path)
	req.Fh = h.id
	if s := h.conn.do(h.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (h *gfHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	req := ops.NewRequest(ops.Fsync, h.path)
	req.Fh = h.id
	req.Datasync = flags&1 != 0
	if s := h.conn.do(h.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (h *gfHandle) Lseek(ctx context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	req := ops.NewRequest(ops.Lseek, h.path)
	req.Fh = h.id
	req.Offset = int64(off)
	req.Whence = int(whence)
	s := h.conn.do(h.conn.opContext(ctx), req)
	if s < 0 {
		return 0, syscall.Errno(-s)
	}
	return uint64(s), 0
}

func (h *gfHandle) Allocate(ctx context.Context, off uint64, size uint64, mode uint32) syscall.Errno {
	req := ops.NewRequest(ops.Fallocate, h.path)
	req.Fh = h.id
	req.Offset = int64(off)
	req.Size = int64(size)
	req.Flags = int(mode)
	if s := h.conn.do(h.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func (h *gfHandle) Getlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32, out *fuse.FileLock) syscall.Errno {
	l := lockFromFuse(lk)
	req := ops.NewRequest(ops.Lock, h.path)
	req.Fh = h.id
	req.Flags = syscall.F_GETLK
	req.Lk = l
	if s := h.conn.do(h.conn.opContext(ctx), req); s != 0 {
		return syscall.Errno(-s)
	}
	lockToFuse(l, out)
	return 0
}

func (h *gfHandle) Setlk(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return h.setlk(ctx, lk, flags, false)
}

func (h *gfHandle) Setlkw(ctx context.Context, owner uint64, lk *fuse.FileLock, flags uint32) syscall.Errno {
	return h.setlk(ctx, lk, flags, true)
}

func (h *gfHandle) setlk(ctx context.Context, lk *fuse.FileLock, flags uint32, wait bool) syscall.Errno {
	octx := h.conn.opContext(ctx)
	if flags&fuse.FUSE_LK_FLOCK != 0 {
		var op int
		switch lk.Typ {
		case syscall.F_RDLCK:
			op = syscall.LOCK_SH
		case syscall.F_WRLCK:
			op = syscall.LOCK_EX
		case syscall.F_UNLCK:
			op = syscall.LOCK_UN
		default:
			return syscall.EINVAL
		}
		if !wait {
			op |= syscall.LOCK_NB
		}
		req := ops.NewRequest(ops.Flock, h.path)
		req.Fh = h.id
		req.Flags = op
		if s := h.conn.do(octx, req); s != 0 {
			return syscall.Errno(-s)
		}
		return 0
	}
	req := ops.NewRequest(ops.Lock, h.path)
	req.Fh = h.id
	req.Flags = syscall.F_SETLK
	if wait {
		req.Flags = syscall.F_SETLKW
	}
	req.Lk = lockFromFuse(lk)
	if s := h.conn.do(octx, req); s != 0 {
		return syscall.Errno(-s)
	}
	return 0
}

func lockFromFuse(lk *fuse.FileLock) *ops.FileLock {
	out := &ops.FileLock{Type: int(lk.Typ), Start: int64(lk.Start), Pid: lk.Pid}
	if lk.End != 0 && lk.End < uint64(math.MaxInt64) {
		out.Len = int64(lk.End) - int64(lk.Start) + 1
	}
	return out
}

func lockToFuse(lk *ops.FileLock, out *fuse.FileLock) {
	out.Typ = uint32(lk.Type)
	out.Start = uint64(lk.Start)
	out.End = uint64(math.MaxInt64)
	if lk.Len > 0 {
		out.End = uint64(lk.Start + lk.Len - 1)
	}
	out.Pid = lk.Pid
}

func fillAttr(st *ops.Stat, out *fuse.Attr) {
	out.Ino = st.Ino
	out.Size = unsigned(st.Size)
	out.Blocks = unsigned(st.Blocks)
	out.Blksize = uint32(st.Blksize)
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Owner = fuse.Owner{Uid: st.Uid, Gid: st.Gid}
	out.Rdev = uint32(st.Rdev)
	out.Atime = unsigned(st.Atim.Sec)
	out.Atimensec = uint32(st.Atim.Nsec)
	out.Mtime = unsigned(st.Mtim.Sec)
	out.Mtimensec = uint32(st.Mtim.Nsec)
	out.Ctime = unsigned(st.Ctim.Sec)
	out.Ctimensec = uint32(st.Ctim.Nsec)
}

func unsigned(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}
