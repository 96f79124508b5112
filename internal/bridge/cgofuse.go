//go:build cgofuse
// +build cgofuse

package bridge

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

func init() {
	Register("cgofuse", func() Backend { return cgofuseBackend{} })
}

// cgofuseBackend mounts through winfsp/cgofuse, which drives a real libfuse
// (or WinFsp) dispatch loop. The library hands callbacks plain paths, so no
// node bookkeeping is needed; requests forward almost one to one.
type cgofuseBackend struct{}

func (cgofuseBackend) Name() string { return "cgofuse" }

func (cgofuseBackend) Mount(ctx context.Context, mountpoint string, caps ops.Set, opts *MountOptions) (Conn, error) {
	if opts == nil {
		opts = NewMountOptions()
	}
	conn := &cgoConn{queue: newQueue(queueDepth), mountpoint: mountpoint, caps: caps, opts: opts}
	host := fuse.NewFileSystemHost(&cgoFS{conn: conn})
	conn.host = host

	failed := make(chan struct{})
	go func() {
		if !host.Mount(mountpoint, cgoArgs(opts)) {
			close(failed)
		}
		conn.shutdown()
	}()

	// The host only reports failure by returning from Mount. Give it a
	// moment to fail fast before declaring the mount up.
	select {
	case <-failed:
		return nil, fmt.Errorf("bridge: cgofuse mount %s failed", mountpoint)
	case <-ctx.Done():
		host.Unmount()
		conn.shutdown()
		return nil, ctx.Err()
	case <-time.After(100 * time.Millisecond):
	}
	return conn, nil
}

// cgoArgs renders the options for the libfuse argv surface. volname only
// exists where the platform displays volumes.
func cgoArgs(opts *MountOptions) []string {
	o := *opts
	if runtime.GOOS != "darwin" && runtime.GOOS != "windows" {
		o.VolName = ""
	}
	return o.Args()
}

type cgoConn struct {
	*queue
	mountpoint string
	caps       ops.Set
	opts       *MountOptions
	host       *fuse.FileSystemHost

	closeOnce sync.Once
	closeErr  error
}

func (c *cgoConn) Close() error {
	c.closeOnce.Do(func() {
		if !c.host.Unmount() {
			c.closeErr = fmt.Errorf("bridge: cgofuse unmount %s failed", c.mountpoint)
		}
		c.shutdown()
	})
	return c.closeErr
}

// cgoFS implements the cgofuse callback interface on top of the queue. The
// statuses both sides speak are the same negated errnos, so most methods
// forward the dispatch status unchanged.
type cgoFS struct {
	fuse.FileSystemBase
	conn *cgoConn
}

var _ fuse.FileSystemInterface = (*cgoFS)(nil)

// do dispatches one call, short-circuiting operations the dispatch table
// never registered. That mirrors the library's own defaults, which answer
// ENOSYS for everything a filesystem does not override.
func (f *cgoFS) do(req *ops.Request) int {
	if !f.conn.caps.Has(req.Op) {
		return -int(errno.ENOSYS)
	}
	return f.conn.submit(f.opContext(), req)
}

// opContext captures the caller identity. Getcontext is only valid while a
// callback is on the stack, which is exactly where do runs.
func (f *cgoFS) opContext() *ops.Context {
	uid, gid, pid := fuse.Getcontext()
	return ops.NewContext(context.Background(), uid, gid, uint32(pid))
}

// Init and Destroy arrive through the run loop around mount and teardown,
// not through the library callbacks.
func (f *cgoFS) Init()    {}
func (f *cgoFS) Destroy() {}

func (f *cgoFS) Statfs(path string, stat *fuse.Statfs_t) int {
	var sv ops.Statvfs
	req := ops.NewRequest(ops.Statfs, path)
	req.Statfs = &sv
	s := f.do(req)
	if s == 0 {
		statvfsToCgo(&sv, stat)
	}
	return s
}

func (f *cgoFS) Mknod(path string, mode uint32, dev uint64) int {
	req := ops.NewRequest(ops.Mknod, path)
	req.Mode = mode
	req.Dev = dev
	return f.do(req)
}

func (f *cgoFS) Mkdir(path string, mode uint32) int {
	req := ops.NewRequest(ops.Mkdir, path)
	req.Mode = mode
	return f.do(req)
}

func (f *cgoFS) Unlink(path string) int {
	return f.do(ops.NewRequest(ops.Unlink, path))
}

func (f *cgoFS) Rmdir(path string) int {
	return f.do(ops.NewRequest(ops.Rmdir, path))
}

func (f *cgoFS) Link(oldpath string, newpath string) int {
	req := ops.NewRequest(ops.Link, oldpath)
	req.Target = newpath
	return f.do(req)
}

func (f *cgoFS) Symlink(target string, newpath string) int {
	req := ops.NewRequest(ops.Symlink, newpath)
	req.Target = target
	return f.do(req)
}

func (f *cgoFS) Readlink(path string) (int, string) {
	var target string
	req := ops.NewRequest(ops.Readlink, path)
	req.OutTarget = &target
	if s := f.do(req); s < 0 {
		return s, ""
	}
	return 0, target
}

func (f *cgoFS) Rename(oldpath string, newpath string) int {
	req := ops.NewRequest(ops.Rename, oldpath)
	req.Target = newpath
	return f.do(req)
}

func (f *cgoFS) Chmod(path string, mode uint32) int {
	req := ops.NewRequest(ops.Chmod, path)
	req.Mode = mode
	return f.do(req)
}

func (f *cgoFS) Chown(path string, uid uint32, gid uint32) int {
	req := ops.NewRequest(ops.Chown, path)
	req.UID, req.GID = uid, gid
	return f.do(req)
}

func (f *cgoFS) Utimens(path string, tmsp []fuse.Timespec) int {
	req := ops.NewRequest(ops.Utimens, path)
	if tmsp != nil {
		req.Times[0] = cgoTime(tmsp[0])
		req.Times[1] = cgoTime(tmsp[1])
		// An omitted side keeps its current value, which the dispatch
		// convention has no encoding for; carry it over explicitly.
		if tmsp[0].Nsec == utimeOmit || tmsp[1].Nsec == utimeOmit {
			var st ops.Stat
			probe := ops.NewRequest(ops.Getattr, path)
			probe.Stat = &st
			if s := f.do(probe); s < 0 {
				return s
			}
			if tmsp[0].Nsec == utimeOmit {
				req.Times[0] = st.Atim
			}
			if tmsp[1].Nsec == utimeOmit {
				req.Times[1] = st.Mtim
			}
		}
	}
	return f.do(req)
}

func (f *cgoFS) Access(path string, mask uint32) int {
	req := ops.NewRequest(ops.Access, path)
	req.Mode = mask
	return f.do(req)
}

func (f *cgoFS) Create(path string, flags int, mode uint32) (int, uint64) {
	fh := ops.NoHandle
	req := ops.NewRequest(ops.Create, path)
	req.Flags = flags
	req.Mode = mode
	req.OutHandle = &fh
	if s := f.do(req); s < 0 {
		return s, ops.NoHandle
	}
	return 0, fh
}

func (f *cgoFS) Open(path string, flags int) (int, uint64) {
	fh := ops.NoHandle
	req := ops.NewRequest(ops.Open, path)
	req.Flags = flags
	req.OutHandle = &fh
	if s := f.do(req); s < 0 {
		return s, ops.NoHandle
	}
	return 0, fh
}

func (f *cgoFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	var st ops.Stat
	req := ops.NewRequest(ops.Getattr, path)
	req.Fh = fh
	req.Stat = &st
	s := f.do(req)
	if s == 0 {
		statToCgo(&st, stat)
	}
	return s
}

func (f *cgoFS) Truncate(path string, size int64, fh uint64) int {
	req := ops.NewRequest(ops.Truncate, path)
	req.Fh = fh
	req.Size = size
	return f.do(req)
}

func (f *cgoFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	req := ops.NewRequest(ops.Read, path)
	req.Fh = fh
	req.Data = buff
	req.Offset = ofst
	return f.do(req)
}

func (f *cgoFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	req := ops.NewRequest(ops.Write, path)
	req.Fh = fh
	req.Data = buff
	req.Offset = ofst
	return f.do(req)
}

func (f *cgoFS) Flush(path string, fh uint64) int {
	req := ops.NewRequest(ops.Flush, path)
	req.Fh = fh
	return f.do(req)
}

func (f *cgoFS) Release(path string, fh uint64) int {
	req := ops.NewRequest(ops.Release, path)
	req.Fh = fh
	return f.do(req)
}

func (f *cgoFS) Fsync(path string, datasync bool, fh uint64) int {
	req := ops.NewRequest(ops.Fsync, path)
	req.Fh = fh
	req.Datasync = datasync
	return f.do(req)
}

func (f *cgoFS) Opendir(path string) (int, uint64) {
	fh := ops.NoHandle
	req := ops.NewRequest(ops.Opendir, path)
	req.OutHandle = &fh
	if s := f.do(req); s < 0 {
		return s, ops.NoHandle
	}
	return 0, fh
}

func (f *cgoFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	req := ops.NewRequest(ops.Readdir, path)
	req.Fh = fh
	req.Offset = ofst
	req.Fill = func(name string, st *ops.Stat, off int64, flags uint32) bool {
		if st == nil {
			return fill(name, nil, off)
		}
		var cst fuse.Stat_t
		statToCgo(st, &cst)
		return fill(name, &cst, off)
	}
	return f.do(req)
}

func (f *cgoFS) Releasedir(path string, fh uint64) int {
	req := ops.NewRequest(ops.Releasedir, path)
	req.Fh = fh
	return f.do(req)
}

func (f *cgoFS) Fsyncdir(path string, datasync bool, fh uint64) int {
	req := ops.NewRequest(ops.Fsyncdir, path)
	req.Fh = fh
	req.Datasync = datasync
	return f.do(req)
}

func (f *cgoFS) Setxattr(path string, name string, value []byte, flags int) int {
	req := ops.NewRequest(ops.Setxattr, path)
	req.Name = name
	req.Value = value
	req.Flags = flags
	return f.do(req)
}

func (f *cgoFS) Getxattr(path string, name string) (int, []byte) {
	// The dispatch convention sizes xattr values in two steps. Retry on
	// ERANGE in case the value grows between the probe and the copy.
	for tries := 0; ; tries++ {
		probe := ops.NewRequest(ops.Getxattr, path)
		probe.Name = name
		s := f.do(probe)
		if s < 0 {
			return s, nil
		}
		buf := make([]byte, s)
		req := ops.NewRequest(ops.Getxattr, path)
		req.Name = name
		req.Data = buf
		s = f.do(req)
		if s >= 0 {
			return 0, buf[:s]
		}
		if s != -int(errno.ERANGE) || tries >= 2 {
			return s, nil
		}
	}
}

func (f *cgoFS) Removexattr(path string, name string) int {
	req := ops.NewRequest(ops.Removexattr, path)
	req.Name = name
	return f.do(req)
}

func (f *cgoFS) Listxattr(path string, fill func(name string) bool) int {
	req := ops.NewRequest(ops.Listxattr, path)
	req.FillName = fill
	if s := f.do(req); s < 0 {
		return s
	}
	return 0
}

// utimensat sentinel nanoseconds, as libfuse passes them through.
const (
	utimeNow  = (1 << 30) - 1
	utimeOmit = (1 << 30) - 2
)

func cgoTime(ts fuse.Timespec) ops.Timespec {
	if ts.Nsec == utimeNow {
		return ops.Timespec{}
	}
	return ops.Timespec{Sec: ts.Sec, Nsec: ts.Nsec}
}

func cgoTimespec(ts ops.Timespec) fuse.Timespec {
	return fuse.Timespec{Sec: ts.Sec, Nsec: ts.Nsec}
}

func statToCgo(st *ops.Stat, out *fuse.Stat_t) {
	out.Dev = st.Dev
	out.Ino = st.Ino
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Uid = st.Uid
	out.Gid = st.Gid
	out.Rdev = st.Rdev
	out.Size = st.Size
	out.Atim = cgoTimespec(st.Atim)
	out.Mtim = cgoTimespec(st.Mtim)
	out.Ctim = cgoTimespec(st.Ctim)
	out.Blksize = st.Blksize
	out.Blocks = st.Blocks
	out.Birthtim = cgoTimespec(st.Birthtim)
}

func statvfsToCgo(sv *ops.Statvfs, out *fuse.Statfs_t) {
	out.Bsize = sv.Bsize
	out.Frsize = sv.Frsize
	out.Blocks = sv.Blocks
	out.Bfree = sv.Bfree
	out.Bavail = sv.Bavail
	out.Files = sv.Files
	out.Ffree = sv.Ffree
	out.Favail = sv.Favail
	out.Fsid = sv.Fsid
	out.Flag = sv.Flag
	out.Namemax = sv.Namemax
}
