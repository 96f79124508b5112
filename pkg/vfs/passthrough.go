//go:build linux

package vfs

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/fusekit/fusekit/internal/bufpool"
	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

var passthroughCaps = ops.NewSet(
	ops.Getattr, ops.Chmod, ops.Chown, ops.Utimens, ops.Statfs,
	ops.Mknod, ops.Mkdir, ops.Unlink, ops.Rmdir, ops.Symlink, ops.Readlink,
	ops.Truncate, ops.Open, ops.Create, ops.Read, ops.Write,
	ops.Flush, ops.Release, ops.Fsync, ops.Readdir,
	ops.Setxattr, ops.Getxattr, ops.Listxattr, ops.Removexattr,
)

// Passthrough grafts a real directory into the tree. Every operation
// maps onto the corresponding syscall under the base directory, and the
// syscalls run inside Busy so the worker pool grows while this node
// waits on the underlying filesystem.
//
// The subtree is opaque to the structural operations: link and rename
// into or out of it report EXDEV, and callers fall back to copying.
type Passthrough struct {
	Base
	base string
}

var _ Node = (*Passthrough)(nil)

// NewPassthrough returns a node serving the real directory at base.
func NewPassthrough(base string) *Passthrough {
	return &Passthrough{base: filepath.Clean(base)}
}

func (p *Passthrough) Caps() ops.Set { return passthroughCaps }

func (p *Passthrough) real(path string) string {
	return filepath.Join(p.base, path)
}

func statFromUnix(st *ops.Stat, s *unix.Stat_t) {
	st.Dev = uint64(s.Dev)
	st.Ino = s.Ino
	st.Mode = uint32(s.Mode)
	st.Nlink = uint32(s.Nlink)
	st.Uid = s.Uid
	st.Gid = s.Gid
	st.Rdev = uint64(s.Rdev)
	st.Size = s.Size
	st.Blksize = int64(s.Blksize)
	st.Blocks = s.Blocks
	st.Atim = ops.Timespec{Sec: int64(s.Atim.Sec), Nsec: int64(s.Atim.Nsec)}
	st.Mtim = ops.Timespec{Sec: int64(s.Mtim.Sec), Nsec: int64(s.Mtim.Nsec)}
	st.Ctim = ops.Timespec{Sec: int64(s.Ctim.Sec), Nsec: int64(s.Ctim.Nsec)}
}

func (p *Passthrough) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	var s unix.Stat_t
	if err := busy(ctx, func() error { return unix.Lstat(p.real(path), &s) }); err != nil {
		return err
	}
	statFromUnix(st, &s)
	return nil
}

func (p *Passthrough) Readlink(ctx *ops.Context, path string) (string, error) {
	var target string
	err := busy(ctx, func() error {
		var err error
		target, err = os.Readlink(p.real(path))
		return err
	})
	return target, err
}

func (p *Passthrough) Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error {
	return busy(ctx, func() error { return unix.Mknod(p.real(path), mode, int(dev)) })
}

func (p *Passthrough) Mkdir(ctx *ops.Context, path string, mode uint32) error {
	return busy(ctx, func() error { return unix.Mkdir(p.real(path), mode) })
}

func (p *Passthrough) Unlink(ctx *ops.Context, path string) error {
	return busy(ctx, func() error { return unix.Unlink(p.real(path)) })
}

func (p *Passthrough) Rmdir(ctx *ops.Context, path string) error {
	return busy(ctx, func() error { return unix.Rmdir(p.real(path)) })
}

func (p *Passthrough) Symlink(ctx *ops.Context, target, path string) error {
	return busy(ctx, func() error { return unix.Symlink(target, p.real(path)) })
}

func (p *Passthrough) Chmod(ctx *ops.Context, path string, mode uint32) error {
	return busy(ctx, func() error { return unix.Chmod(p.real(path), mode) })
}

func (p *Passthrough) Chown(ctx *ops.Context, path string, uid, gid uint32) error {
	// -1 leaves the id unchanged, matching the syscall contract.
	return busy(ctx, func() error {
		return unix.Lchown(p.real(path), int(int32(uid)), int(int32(gid)))
	})
}

func (p *Passthrough) Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec) error {
	uts := make([]unix.Timespec, 2)
	for i, t := range ts {
		if t.IsZero() {
			uts[i] = unix.Timespec{Nsec: unix.UTIME_NOW}
			continue
		}
		uts[i] = unix.Timespec{Sec: t.Sec, Nsec: t.Nsec}
	}
	return busy(ctx, func() error {
		return unix.UtimesNanoAt(unix.AT_FDCWD, p.real(path), uts, unix.AT_SYMLINK_NOFOLLOW)
	})
}

func (p *Passthrough) Truncate(ctx *ops.Context, path string, size int64) error {
	return busy(ctx, func() error { return unix.Truncate(p.real(path), size) })
}

func (p *Passthrough) Open(ctx *ops.Context, path string, flags int) (interface{}, error) {
	var f *os.File
	err := busy(ctx, func() error {
		var err error
		f, err = os.OpenFile(p.real(path), flags, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Passthrough) Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error) {
	var f *os.File
	err := busy(ctx, func() error {
		fd, err := unix.Open(p.real(path), flags|unix.O_CREAT, mode)
		if err != nil {
			return err
		}
		f = os.NewFile(uintptr(fd), p.real(path))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func realFile(h interface{}) (*os.File, error) {
	f, ok := h.(*os.File)
	if !ok || f == nil {
		return nil, errno.EBADF
	}
	return f, nil
}

func (p *Passthrough) Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error) {
	f, err := realFile(h)
	if err != nil {
		return 0, err
	}
	var n int
	err = busy(ctx, func() error {
		var err error
		n, err = f.ReadAt(dest, off)
		return err
	})
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Passthrough) Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error) {
	f, err := realFile(h)
	if err != nil {
		return 0, err
	}
	var n int
	err = busy(ctx, func() error {
		var err error
		n, err = f.WriteAt(data, off)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (p *Passthrough) Release(ctx *ops.Context, path string, h interface{}) error {
	f, err := realFile(h)
	if err != nil {
		return err
	}
	return f.Close()
}

func (p *Passthrough) Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error {
	f, err := realFile(h)
	if err != nil {
		return err
	}
	return busy(ctx, func() error {
		if datasync {
			return unix.Fdatasync(int(f.Fd()))
		}
		return f.Sync()
	})
}

func (p *Passthrough) Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error {
	real := p.real(path)
	var entries []os.DirEntry
	if err := busy(ctx, func() error {
		var err error
		entries, err = os.ReadDir(real)
		return err
	}); err != nil {
		return err
	}
	if !fill.Fill(".", nil, 0) || !fill.Fill("..", nil, 0) {
		return nil
	}
	for _, e := range entries {
		var s unix.Stat_t
		var st *ops.Stat
		if err := unix.Lstat(filepath.Join(real, e.Name()), &s); err == nil {
			st = &ops.Stat{}
			statFromUnix(st, &s)
		}
		if !fill.Fill(e.Name(), st, 0) {
			break
		}
	}
	return nil
}

func (p *Passthrough) Statfs(ctx *ops.Context, path string, st *ops.Statvfs) error {
	var s unix.Statfs_t
	if err := busy(ctx, func() error { return unix.Statfs(p.real(path), &s) }); err != nil {
		return err
	}
	st.Bsize = uint64(s.Bsize)
	st.Frsize = uint64(s.Frsize)
	st.Blocks = s.Blocks
	st.Bfree = s.Bfree
	st.Bavail = s.Bavail
	st.Files = s.Files
	st.Ffree = s.Ffree
	st.Favail = s.Ffree
	st.Namemax = uint64(s.Namelen)
	return nil
}

func (p *Passthrough) Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error {
	return busy(ctx, func() error { return unix.Setxattr(p.real(path), name, value, flags) })
}

func (p *Passthrough) Getxattr(ctx *ops.Context, path, name string) ([]byte, error) {
	var out []byte
	err := busy(ctx, func() error {
		sz, err := unix.Getxattr(p.real(path), name, nil)
		if err != nil {
			return err
		}
		if sz == 0 {
			out = []byte{}
			return nil
		}
		buf := make([]byte, sz)
		n, err := unix.Getxattr(p.real(path), name, buf)
		if err != nil {
			return err
		}
		out = buf[:n]
		return nil
	})
	return out, err
}

func (p *Passthrough) Listxattr(ctx *ops.Context, path string) ([]string, error) {
	var names []string
	err := busy(ctx, func() error {
		sz, err := unix.Listxattr(p.real(path), nil)
		if err != nil {
			return err
		}
		if sz == 0 {
			return nil
		}
		buf := bufpool.Get(sz)
		defer bufpool.Put(buf)
		n, err := unix.Listxattr(p.real(path), buf)
		if err != nil {
			return err
		}
		for _, name := range strings.Split(string(buf[:n]), "\x00") {
			if name != "" {
				names = append(names, name)
			}
		}
		return nil
	})
	return names, err
}

func (p *Passthrough) Removexattr(ctx *ops.Context, path, name string) error {
	return busy(ctx, func() error { return unix.Removexattr(p.real(path), name) })
}
