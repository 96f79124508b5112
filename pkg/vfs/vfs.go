package vfs

import (
	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// FS exposes a node tree through the adapter interface set. Per-path
// operations forward into the root node's routing; the structural
// operations spanning two names (link, rename) are implemented here,
// where both endpoints are visible.
type FS struct {
	root Node
	log  *logging.Logger
}

// The surface the adapter probes out of an FS.
var (
	_ adapter.PathGetattrer = (*FS)(nil)
	_ adapter.PathTruncater = (*FS)(nil)
	_ adapter.Readlinker    = (*FS)(nil)
	_ adapter.Mknoder       = (*FS)(nil)
	_ adapter.Mkdirer       = (*FS)(nil)
	_ adapter.Unlinker      = (*FS)(nil)
	_ adapter.Rmdirer       = (*FS)(nil)
	_ adapter.Symlinker     = (*FS)(nil)
	_ adapter.Renamer       = (*FS)(nil)
	_ adapter.Linker        = (*FS)(nil)
	_ adapter.Chmoder       = (*FS)(nil)
	_ adapter.Chowner       = (*FS)(nil)
	_ adapter.Utimenser     = (*FS)(nil)
	_ adapter.Opener        = (*FS)(nil)
	_ adapter.Creator       = (*FS)(nil)
	_ adapter.Reader        = (*FS)(nil)
	_ adapter.Writer        = (*FS)(nil)
	_ adapter.Flusher       = (*FS)(nil)
	_ adapter.Releaser      = (*FS)(nil)
	_ adapter.Fsyncer       = (*FS)(nil)
	_ adapter.Readdirer     = (*FS)(nil)
	_ adapter.Statfser      = (*FS)(nil)
	_ adapter.Setxattrer    = (*FS)(nil)
	_ adapter.Getxattrer    = (*FS)(nil)
	_ adapter.Listxattrer   = (*FS)(nil)
	_ adapter.Removexattrer = (*FS)(nil)
)

// FSOption configures an FS.
type FSOption func(*FS)

// WithLogger sets the tree's logger.
func WithLogger(log *logging.Logger) FSOption {
	return func(f *FS) {
		if log != nil {
			f.log = log
		}
	}
}

// New wraps an arbitrary root node.
func New(root Node, opts ...FSOption) *FS {
	f := &FS{root: root, log: logging.Discard()}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.WithComponent("vfs")
	return f
}

// NewMemFS builds a tree rooted in a fresh in-memory directory whose
// accounting carries the given maxima (see Accounting for how
// non-positive maxima are read).
func NewMemFS(maxBytes, maxNodes int64, opts ...FSOption) *FS {
	root := NewDir(ops.Background(), NewAccounting(maxBytes, maxNodes), 0755)
	return New(root, opts...)
}

// Root returns the tree root.
func (f *FS) Root() Node { return f.root }

// Usage reports the accounted bytes and nodes of the tree, or zeros when
// the root is not one of this package's accounting directories. The
// session samples it into the usage gauges.
func (f *FS) Usage() (bytes, nodes int64) {
	d, ok := f.root.(*Dir)
	if !ok {
		return 0, 0
	}
	return d.Accounting().Bytes(), d.Accounting().Nodes()
}

// resolve walks the tree to the node at path. Subtrees that cannot hand
// out child objects are opaque; walking into them yields EXDEV so
// structural operations fail the way cross-filesystem ones do.
func (f *FS) resolve(ctx *ops.Context, path string) (Node, error) {
	n := f.root
	for !isRoot(path) {
		r, ok := n.(Resolver)
		if !ok {
			return nil, errno.EXDEV
		}
		var name string
		name, path = splitPath(path)
		child, err := r.Resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		n = child
	}
	return n, nil
}

// dirAt resolves path to one of this package's directories.
func (f *FS) dirAt(ctx *ops.Context, path string) (*Dir, error) {
	n, err := f.resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	d, ok := n.(*Dir)
	if !ok {
		if n.Caps().Has(ops.Readdir) {
			return nil, errno.EXDEV
		}
		return nil, errno.ENOTDIR
	}
	return d, nil
}

// Link adds newpath as an additional name for the node at oldpath.
// Nodes that do not declare themselves linkable, directories included,
// refuse with EPERM.
func (f *FS) Link(ctx *ops.Context, oldpath, newpath string) error {
	src, err := f.resolve(ctx, oldpath)
	if err != nil {
		return err
	}
	linkable, ok := src.(Linkable)
	if !ok {
		return errno.EPERM
	}
	parentPath, name := splitLast(newpath)
	if name == "" {
		return errno.EINVAL
	}
	parent, err := f.dirAt(ctx, parentPath)
	if err != nil {
		return err
	}
	if err := parent.attach(name, src); err != nil {
		return err
	}
	linkable.NameAdded()
	return nil
}

// Rename moves the name at oldpath to newpath, composed as link of the
// new name followed by unlink of the old one. A destination that turns
// out to be the same node object as the source is left alone: renaming a
// file over a hard link to itself succeeds without unlinking anything.
func (f *FS) Rename(ctx *ops.Context, oldpath, newpath string) error {
	if oldpath == newpath {
		return nil
	}
	src, err := f.resolve(ctx, oldpath)
	if err != nil {
		return err
	}
	if dst, err := f.resolve(ctx, newpath); err == nil && dst == src {
		return nil
	}
	if _, ok := src.(Linkable); !ok {
		return errno.EPERM
	}

	// The directory losing the old name must support unlink, or the
	// second half of the composition would strand the new name.
	oldParentPath, _ := splitLast(oldpath)
	oldParent, err := f.resolve(ctx, oldParentPath)
	if err != nil {
		return err
	}
	if !oldParent.Caps().Has(ops.Unlink) {
		return errno.EPERM
	}

	newParentPath, newName := splitLast(newpath)
	newParent, err := f.dirAt(ctx, newParentPath)
	if err != nil {
		return err
	}
	if existing, ok := newParent.lookup(newName); ok {
		if existing.Caps().Has(ops.Readdir) {
			return errno.EISDIR
		}
		if err := f.Unlink(ctx, newpath); err != nil {
			return err
		}
	}

	if err := f.Link(ctx, oldpath, newpath); err != nil {
		return err
	}
	return f.Unlink(ctx, oldpath)
}

// Per-path forwarding into the tree.

func (f *FS) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	return f.root.Getattr(ctx, path, st)
}

func (f *FS) Readlink(ctx *ops.Context, path string) (string, error) {
	return f.root.Readlink(ctx, path)
}

func (f *FS) Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error {
	return f.root.Mknod(ctx, path, mode, dev)
}

func (f *FS) Mkdir(ctx *ops.Context, path string, mode uint32) error {
	return f.root.Mkdir(ctx, path, mode)
}

func (f *FS) Unlink(ctx *ops.Context, path string) error {
	return f.root.Unlink(ctx, path)
}

func (f *FS) Rmdir(ctx *ops.Context, path string) error {
	return f.root.Rmdir(ctx, path)
}

func (f *FS) Symlink(ctx *ops.Context, target, path string) error {
	return f.root.Symlink(ctx, target, path)
}

func (f *FS) Chmod(ctx *ops.Context, path string, mode uint32, fh uint64) error {
	return f.root.Chmod(ctx, path, mode)
}

func (f *FS) Chown(ctx *ops.Context, path string, uid, gid uint32, fh uint64) error {
	return f.root.Chown(ctx, path, uid, gid)
}

func (f *FS) Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec, fh uint64) error {
	return f.root.Utimens(ctx, path, ts)
}

func (f *FS) Truncate(ctx *ops.Context, path string, size int64) error {
	return f.root.Truncate(ctx, path, size)
}

func (f *FS) Open(ctx *ops.Context, path string, flags int) (interface{}, error) {
	return f.root.Open(ctx, path, flags)
}

func (f *FS) Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error) {
	return f.root.Create(ctx, path, flags, mode)
}

// Read serves straight from the open handle when it is one of ours, so
// reads keep working on names that were renamed or unlinked after open.
func (f *FS) Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error) {
	if fh, ok := h.(*fileHandle); ok {
		return fh.f.readAt(dest, off), nil
	}
	return f.root.Read(ctx, path, dest, off, h)
}

func (f *FS) Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error) {
	if fh, ok := h.(*fileHandle); ok {
		return fh.f.writeAt(data, off)
	}
	return f.root.Write(ctx, path, data, off, h)
}

func (f *FS) Flush(ctx *ops.Context, path string, h interface{}) error {
	if _, ok := h.(*fileHandle); ok {
		return nil
	}
	return f.root.Flush(ctx, path, h)
}

func (f *FS) Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error {
	if _, ok := h.(*fileHandle); ok {
		return nil
	}
	return f.root.Fsync(ctx, path, datasync, h)
}

func (f *FS) Release(ctx *ops.Context, path string, h interface{}) error {
	if _, ok := h.(*fileHandle); ok {
		return nil
	}
	return f.root.Release(ctx, path, h)
}

func (f *FS) Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error {
	return f.root.Readdir(ctx, path, fill, off, h)
}

func (f *FS) Statfs(ctx *ops.Context, path string, st *ops.Statvfs) error {
	return f.root.Statfs(ctx, path, st)
}

func (f *FS) Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error {
	return f.root.Setxattr(ctx, path, name, value, flags)
}

func (f *FS) Getxattr(ctx *ops.Context, path, name string) ([]byte, error) {
	return f.root.Getxattr(ctx, path, name)
}

func (f *FS) Listxattr(ctx *ops.Context, path string) ([]string, error) {
	return f.root.Listxattr(ctx, path)
}

func (f *FS) Removexattr(ctx *ops.Context, path, name string) error {
	return f.root.Removexattr(ctx, path, name)
}
