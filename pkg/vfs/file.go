package vfs

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

var fileCaps = ops.NewSet(
	ops.Getattr, ops.Chmod, ops.Chown, ops.Utimens, ops.Truncate,
	ops.Open, ops.Create, ops.Read, ops.Write, ops.Unlink,
	ops.Setxattr, ops.Getxattr, ops.Listxattr, ops.Removexattr,
)

// File is an in-memory regular file. The same object may be reachable
// under several names after hard linking; content and metadata are
// shared, and the backing bytes are charged to the accounting tracker
// until the last name goes away.
type File struct {
	Base

	mu    sync.RWMutex
	attr  Attr
	data  []byte
	nlink uint32
	xattr map[string][]byte
	acct  *Accounting
}

var (
	_ Node     = (*File)(nil)
	_ Linkable = (*File)(nil)
	_ Remover  = (*File)(nil)
)

// NewFile builds an empty file owned by acct. The node itself is
// counted by whichever directory inserts it.
func NewFile(ctx *ops.Context, acct *Accounting, mode uint32) *File {
	return &File{
		attr:  newAttr(ctx, mode),
		nlink: 1,
		acct:  acct,
	}
}

// SetContent replaces the file content outside the normal write path,
// for pre-mount tree building. Accounting is adjusted non-strictly.
func (f *File) SetContent(data []byte) *File {
	f.mu.Lock()
	delta := int64(len(data) - len(f.data))
	f.data = append([]byte(nil), data...)
	f.mu.Unlock()
	if f.acct != nil {
		f.acct.Adjust(delta, 0, false)
	}
	return f
}

func (f *File) Caps() ops.Set { return fileCaps }

// NameAdded records one more directory entry pointing at this file.
func (f *File) NameAdded() {
	f.mu.Lock()
	f.nlink++
	f.attr.touchChanged()
	f.mu.Unlock()
}

// Removed is the detach hook; nothing extra to tear down for in-memory
// files.
func (f *File) Removed(ctx *ops.Context) {}

func (f *File) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	f.attr.fill(st, ops.S_IFREG, int64(len(f.data)), f.nlink)
	return nil
}

func (f *File) Chmod(ctx *ops.Context, path string, mode uint32) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attr.Mode = mode & 0777
	f.attr.touchChanged()
	return nil
}

func (f *File) Chown(ctx *ops.Context, path string, uid, gid uint32) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attr.UID = uid
	f.attr.GID = gid
	f.attr.touchChanged()
	return nil
}

func (f *File) Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attr.Atime = ts[0]
	f.attr.Mtime = ts[1]
	f.attr.touchChanged()
	return nil
}

func (f *File) Truncate(ctx *ops.Context, path string, size int64) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	if size < 0 {
		return errno.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resize(size)
}

// resize adjusts accounting before touching the buffer so a quota
// violation leaves the file unchanged. Caller holds f.mu.
func (f *File) resize(size int64) error {
	delta := size - int64(len(f.data))
	if delta == 0 {
		return nil
	}
	if f.acct != nil {
		if err := f.acct.Adjust(delta, 0, delta > 0); err != nil {
			return err
		}
	}
	if delta > 0 {
		f.data = append(f.data, make([]byte, delta)...)
	} else {
		f.data = f.data[:size]
	}
	f.attr.touchModified()
	return nil
}

func (f *File) Open(ctx *ops.Context, path string, flags int) (interface{}, error) {
	if !isRoot(path) {
		return nil, errno.ENOTDIR
	}
	if flags&os.O_TRUNC != 0 {
		f.mu.Lock()
		err := f.resize(0)
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}
	return &fileHandle{f: f}, nil
}

// Create targets an already-constructed node, so it only resets content
// and hands out a handle; the owning directory did the name insertion.
func (f *File) Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error) {
	if !isRoot(path) {
		return nil, errno.ENOTDIR
	}
	f.mu.Lock()
	f.attr.Mode = mode & 0777
	err := f.resize(0)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &fileHandle{f: f}, nil
}

func (f *File) Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error) {
	if !isRoot(path) {
		return 0, errno.ENOTDIR
	}
	return f.readAt(dest, off), nil
}

func (f *File) readAt(dest []byte, off int64) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if off >= int64(len(f.data)) || off < 0 {
		return 0
	}
	return copy(dest, f.data[off:])
}

func (f *File) Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error) {
	if !isRoot(path) {
		return 0, errno.ENOTDIR
	}
	return f.writeAt(data, off)
}

func (f *File) writeAt(data []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errno.EINVAL
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	end := off + int64(len(data))
	if grow := end - int64(len(f.data)); grow > 0 {
		if f.acct != nil {
			if err := f.acct.Adjust(grow, 0, true); err != nil {
				return 0, err
			}
		}
		f.data = append(f.data, make([]byte, grow)...)
	}
	copy(f.data[off:], data)
	f.attr.touchModified()
	return len(data), nil
}

// Unlink drops one name. When the last name goes, the content's bytes
// and the node itself are released from accounting.
func (f *File) Unlink(ctx *ops.Context, path string) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	if f.nlink > 0 {
		f.nlink--
	}
	last := f.nlink == 0
	size := int64(len(f.data))
	f.attr.touchChanged()
	f.mu.Unlock()
	if last && f.acct != nil {
		f.acct.Adjust(-size, -1, false)
	}
	return nil
}

func (f *File) Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.xattr[name]
	switch {
	case flags&ops.XattrCreate != 0 && exists:
		return errno.EEXIST
	case flags&ops.XattrReplace != 0 && !exists:
		return errno.ENODATA
	}
	if f.xattr == nil {
		f.xattr = make(map[string][]byte)
	}
	f.xattr[name] = append([]byte(nil), value...)
	return nil
}

func (f *File) Getxattr(ctx *ops.Context, path, name string) ([]byte, error) {
	if !isRoot(path) {
		return nil, errno.ENOTDIR
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.xattr[name]
	if !ok {
		return nil, errno.ENODATA
	}
	return append([]byte(nil), v...), nil
}

func (f *File) Listxattr(ctx *ops.Context, path string) ([]string, error) {
	if !isRoot(path) {
		return nil, errno.ENOTDIR
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.xattr))
	for name := range f.xattr {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *File) Removexattr(ctx *ops.Context, path, name string) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.xattr[name]; !ok {
		return errno.ENODATA
	}
	delete(f.xattr, name)
	return nil
}

// Tree-shaping operations cannot pass through a file.

func (f *File) Mkdir(ctx *ops.Context, path string, mode uint32) error { return errno.ENOTDIR }

func (f *File) Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error {
	return errno.ENOTDIR
}

func (f *File) Symlink(ctx *ops.Context, target, path string) error { return errno.ENOTDIR }

func (f *File) Rmdir(ctx *ops.Context, path string) error { return errno.ENOTDIR }

func (f *File) Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error {
	return errno.ENOTDIR
}

// fileHandle is the open-handle value for in-memory files. It keeps the
// node reachable across rename and unlink and satisfies the positional
// io interfaces, so handle-based fallbacks work against it too.
type fileHandle struct {
	f *File
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	n := h.f.readAt(p, off)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (h *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	return h.f.writeAt(p, off)
}

func (h *fileHandle) Truncate(size int64) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return h.f.resize(size)
}
