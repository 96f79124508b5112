// Package adapter turns a high-level filesystem value into a dispatch
// source. The filesystem declares what it supports by implementing any
// subset of the interfaces below; New probes them once with type
// assertions and builds a handler for each operation the subset can
// serve. Open handles are tracked in an explicit table and the integer
// handle travels through requests, so callbacks stay stateless.
package adapter

import (
	"github.com/fusekit/fusekit/pkg/ops"
)

// Lifecycle.

// Initer is called once when the kernel connection is established. The
// returned value, if non-nil, is attached to the context of every later
// call as its private data. conn describes the negotiated protocol and
// cfg, when non-nil, lets the filesystem tune kernel caching.
type Initer interface {
	Init(ctx *ops.Context, conn *ops.ConnInfo, cfg *ops.InitConfig) interface{}
}

// Destroyer is called once when the filesystem is being torn down.
type Destroyer interface {
	Destroy(ctx *ops.Context)
}

// Attributes. The fh parameter is ops.NoHandle when the kernel did not
// supply an open handle for the call.

type Getattrer interface {
	Getattr(ctx *ops.Context, path string, st *ops.Stat, fh uint64) error
}

type Chmoder interface {
	Chmod(ctx *ops.Context, path string, mode uint32, fh uint64) error
}

type Chowner interface {
	Chown(ctx *ops.Context, path string, uid, gid uint32, fh uint64) error
}

type Utimenser interface {
	Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec, fh uint64) error
}

type Truncater interface {
	Truncate(ctx *ops.Context, path string, size int64, fh uint64) error
}

type Accesser interface {
	Access(ctx *ops.Context, path string, mask uint32) error
}

type Statfser interface {
	Statfs(ctx *ops.Context, path string, st *ops.Statvfs) error
}

// Older filesystems split the attribute calls into a path-only method and
// a handle-bearing sibling. Both forms are probed; when the pair is
// present the adapter routes on whether the call carries a handle.

type PathGetattrer interface {
	Getattr(ctx *ops.Context, path string, st *ops.Stat) error
}

type Fgetattrer interface {
	Fgetattr(ctx *ops.Context, path string, st *ops.Stat, fh uint64) error
}

type PathTruncater interface {
	Truncate(ctx *ops.Context, path string, size int64) error
}

type Ftruncater interface {
	Ftruncate(ctx *ops.Context, path string, size int64, fh uint64) error
}

// Tree shape.

type Mknoder interface {
	Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error
}

type Mkdirer interface {
	Mkdir(ctx *ops.Context, path string, mode uint32) error
}

type Unlinker interface {
	Unlink(ctx *ops.Context, path string) error
}

type Rmdirer interface {
	Rmdir(ctx *ops.Context, path string) error
}

type Symlinker interface {
	Symlink(ctx *ops.Context, target, path string) error
}

type Readlinker interface {
	Readlink(ctx *ops.Context, path string) (string, error)
}

type Renamer interface {
	Rename(ctx *ops.Context, oldpath, newpath string) error
}

type Linker interface {
	Link(ctx *ops.Context, oldpath, newpath string) error
}

// File I/O. Open and Create return an arbitrary handle value; the adapter
// assigns it an integer slot and hands the same value back on every later
// call for that handle. Filesystems without a Reader or Writer can still
// serve I/O if their handle values implement the standard io interfaces.

type Opener interface {
	Open(ctx *ops.Context, path string, flags int) (interface{}, error)
}

type Creator interface {
	Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error)
}

type Reader interface {
	Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error)
}

type Writer interface {
	Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error)
}

type Flusher interface {
	Flush(ctx *ops.Context, path string, h interface{}) error
}

type Releaser interface {
	Release(ctx *ops.Context, path string, h interface{}) error
}

type Fsyncer interface {
	Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error
}

// Directories.

type Opendirer interface {
	Opendir(ctx *ops.Context, path string) (interface{}, error)
}

// Readdirer fills the listing through the supplied filler. The handle is
// the value Opendir returned, or nil when the kernel readdir arrived
// without an opendir first.
type Readdirer interface {
	Readdir(ctx *ops.Context, path string, fill *DirFiller, off int64, h interface{}) error
}

type Releasedirer interface {
	Releasedir(ctx *ops.Context, path string, h interface{}) error
}

type Fsyncdirer interface {
	Fsyncdir(ctx *ops.Context, path string, datasync bool, h interface{}) error
}

// Extended attributes.

type Setxattrer interface {
	Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error
}

type Getxattrer interface {
	Getxattr(ctx *ops.Context, path, name string) ([]byte, error)
}

type Listxattrer interface {
	Listxattr(ctx *ops.Context, path string) ([]string, error)
}

type Removexattrer interface {
	Removexattr(ctx *ops.Context, path, name string) error
}

// Locking and extents.

type Locker interface {
	Lock(ctx *ops.Context, path string, h interface{}, cmd int, lk *ops.FileLock) error
}

type Flocker interface {
	Flock(ctx *ops.Context, path string, h interface{}, op int) error
}

type Fallocater interface {
	Fallocate(ctx *ops.Context, path string, mode int, off, size int64, h interface{}) error
}

type Lseeker interface {
	Lseek(ctx *ops.Context, path string, off int64, whence int, h interface{}) (int64, error)
}

type CopyFileRanger interface {
	CopyFileRange(ctx *ops.Context, srcPath string, srcH interface{}, srcOff int64,
		dstPath string, dstH interface{}, dstOff int64, size int64, flags int) (int64, error)
}

type Bmapper interface {
	Bmap(ctx *ops.Context, path string, blocksize int64, idx uint64) (uint64, error)
}

// Handle-level fallbacks. These are probed on the values Open and Create
// return, not on the filesystem itself.

// Truncatable matches os.File and friends; used for ftruncate when the
// filesystem has no Truncater.
type Truncatable interface {
	Truncate(size int64) error
}

// Syncable backs fsync when the filesystem has no Fsyncer.
type Syncable interface {
	Sync() error
}
