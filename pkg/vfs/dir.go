package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

var dirCaps = ops.NewSet(
	ops.Getattr, ops.Chmod, ops.Chown, ops.Utimens, ops.Statfs,
	ops.Mknod, ops.Mkdir, ops.Unlink, ops.Rmdir, ops.Symlink, ops.Readlink,
	ops.Truncate, ops.Open, ops.Create, ops.Read, ops.Write,
	ops.Flush, ops.Release, ops.Fsync, ops.Readdir,
	ops.Setxattr, ops.Getxattr, ops.Listxattr, ops.Removexattr,
)

// Dir is an in-memory directory: an ordered name-to-node mapping that
// routes operations for deeper paths into the matching child. Children
// need not be this package's types; any Node can be grafted in with Put.
type Dir struct {
	Base

	mu      sync.RWMutex
	attr    Attr
	entries btree.Map[string, Node]
	xattr   map[string][]byte
	acct    *Accounting
}

var (
	_ Node     = (*Dir)(nil)
	_ Resolver = (*Dir)(nil)
)

// NewDir builds an empty directory owned by acct.
func NewDir(ctx *ops.Context, acct *Accounting, mode uint32) *Dir {
	return &Dir{
		attr: newAttr(ctx, mode),
		acct: acct,
	}
}

// Accounting returns the tracker charged by this directory's subtree.
func (d *Dir) Accounting() *Accounting { return d.acct }

func (d *Dir) Caps() ops.Set { return dirCaps }

// Resolve returns the named child.
func (d *Dir) Resolve(ctx *ops.Context, name string) (Node, error) {
	if child, ok := d.lookup(name); ok {
		return child, nil
	}
	return nil, errno.ENOENT
}

// Put grafts child into the tree under name, for pre-mount composition.
func (d *Dir) Put(ctx *ops.Context, name string, child Node) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, '/') {
		return errno.EINVAL
	}
	if child == nil {
		return errno.EINVAL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(name); ok {
		return errno.EEXIST
	}
	if d.acct != nil {
		if err := d.acct.Adjust(0, 1, false); err != nil {
			return err
		}
	}
	d.entries.Set(name, child)
	d.attr.touchModified()
	return nil
}

func (d *Dir) lookup(name string) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.entries.Get(name)
}

// attach inserts an additional name for an existing node. Unlike Put it
// charges nothing to accounting; a hard link consumes no new node.
func (d *Dir) attach(name string, child Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(name); ok {
		return errno.EEXIST
	}
	d.entries.Set(name, child)
	d.attr.touchModified()
	return nil
}

func (d *Dir) detach(name string) {
	d.mu.Lock()
	d.entries.Delete(name)
	d.attr.touchModified()
	d.mu.Unlock()
}

type dirEntry struct {
	name string
	node Node
}

func (d *Dir) children() []dirEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]dirEntry, 0, d.entries.Len())
	d.entries.Scan(func(name string, node Node) bool {
		out = append(out, dirEntry{name: name, node: node})
		return true
	})
	return out
}

// step resolves one routing hop: the named child and the remaining path.
func (d *Dir) step(path string) (Node, string, error) {
	name, rest := splitPath(path)
	child, ok := d.lookup(name)
	if !ok {
		return nil, "", errno.ENOENT
	}
	return child, rest, nil
}

func (d *Dir) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	if isRoot(path) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		d.attr.fill(st, ops.S_IFDIR, 0, 2)
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Getattr(ctx, rest, st)
}

func (d *Dir) Chmod(ctx *ops.Context, path string, mode uint32) error {
	if isRoot(path) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.attr.Mode = mode & 0777
		d.attr.touchChanged()
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Chmod(ctx, rest, mode)
}

func (d *Dir) Chown(ctx *ops.Context, path string, uid, gid uint32) error {
	if isRoot(path) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.attr.UID = uid
		d.attr.GID = gid
		d.attr.touchChanged()
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Chown(ctx, rest, uid, gid)
}

func (d *Dir) Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec) error {
	if isRoot(path) {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.attr.Atime = ts[0]
		d.attr.Mtime = ts[1]
		d.attr.touchChanged()
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Utimens(ctx, rest, ts)
}

func (d *Dir) Readlink(ctx *ops.Context, path string) (string, error) {
	if isRoot(path) {
		return "", errno.EINVAL
	}
	child, rest, err := d.step(path)
	if err != nil {
		return "", err
	}
	return child.Readlink(ctx, rest)
}

func (d *Dir) Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error {
	if isRoot(path) {
		return errno.EEXIST
	}
	name, rest := splitPath(path)
	if rest != "/" {
		child, ok := d.lookup(name)
		if !ok {
			return errno.ENOENT
		}
		return child.Mknod(ctx, rest, mode, dev)
	}
	if typ := mode & ops.S_IFMT; typ != 0 && typ != ops.S_IFREG {
		return errno.EPERM
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(name); ok {
		return errno.EEXIST
	}
	if d.acct != nil {
		if err := d.acct.Adjust(0, 1, true); err != nil {
			return err
		}
	}
	d.entries.Set(name, NewFile(ctx, d.acct, mode))
	d.attr.touchModified()
	return nil
}

func (d *Dir) Mkdir(ctx *ops.Context, path string, mode uint32) error {
	if isRoot(path) {
		return errno.EEXIST
	}
	name, rest := splitPath(path)
	if rest != "/" {
		child, ok := d.lookup(name)
		if !ok {
			return errno.ENOENT
		}
		return child.Mkdir(ctx, rest, mode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(name); ok {
		return errno.EEXIST
	}
	if d.acct != nil {
		if err := d.acct.Adjust(0, 1, true); err != nil {
			return err
		}
	}
	d.entries.Set(name, NewDir(ctx, d.acct, mode))
	d.attr.touchModified()
	return nil
}

func (d *Dir) Symlink(ctx *ops.Context, target, path string) error {
	if isRoot(path) {
		return errno.EEXIST
	}
	name, rest := splitPath(path)
	if rest != "/" {
		child, ok := d.lookup(name)
		if !ok {
			return errno.ENOENT
		}
		return child.Symlink(ctx, target, rest)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entries.Get(name); ok {
		return errno.EEXIST
	}
	if d.acct != nil {
		if err := d.acct.Adjust(0, 1, true); err != nil {
			return err
		}
	}
	d.entries.Set(name, NewSymlink(ctx, d.acct, target))
	d.attr.touchModified()
	return nil
}

func (d *Dir) Unlink(ctx *ops.Context, path string) error {
	if isRoot(path) {
		return errno.EISDIR
	}
	name, rest := splitPath(path)
	child, ok := d.lookup(name)
	if !ok {
		return errno.ENOENT
	}
	if rest != "/" {
		return child.Unlink(ctx, rest)
	}
	if child.Caps().Has(ops.Readdir) {
		return errno.EISDIR
	}
	if err := child.Unlink(ctx, "/"); err != nil {
		return err
	}
	d.detach(name)
	if r, ok := child.(Remover); ok {
		r.Removed(ctx)
	}
	return nil
}

func (d *Dir) Rmdir(ctx *ops.Context, path string) error {
	if isRoot(path) {
		d.mu.RLock()
		n := d.entries.Len()
		d.mu.RUnlock()
		if n > 0 {
			return errno.ENOTEMPTY
		}
		if d.acct != nil {
			d.acct.Adjust(0, -1, false)
		}
		return nil
	}
	name, rest := splitPath(path)
	child, ok := d.lookup(name)
	if !ok {
		return errno.ENOENT
	}
	if rest != "/" {
		return child.Rmdir(ctx, rest)
	}
	if !child.Caps().Has(ops.Readdir) {
		return errno.ENOTDIR
	}
	if err := child.Rmdir(ctx, "/"); err != nil {
		return err
	}
	d.detach(name)
	if r, ok := child.(Remover); ok {
		r.Removed(ctx)
	}
	return nil
}

func (d *Dir) Truncate(ctx *ops.Context, path string, size int64) error {
	if isRoot(path) {
		return errno.EISDIR
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Truncate(ctx, rest, size)
}

func (d *Dir) Open(ctx *ops.Context, path string, flags int) (interface{}, error) {
	if isRoot(path) {
		return nil, errno.EISDIR
	}
	child, rest, err := d.step(path)
	if err != nil {
		return nil, err
	}
	return child.Open(ctx, rest, flags)
}

func (d *Dir) Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error) {
	if isRoot(path) {
		return nil, errno.EISDIR
	}
	name, rest := splitPath(path)
	if rest != "/" {
		child, ok := d.lookup(name)
		if !ok {
			return nil, errno.ENOENT
		}
		return child.Create(ctx, rest, flags, mode)
	}
	if existing, ok := d.lookup(name); ok {
		if existing.Caps().Has(ops.Readdir) {
			return nil, errno.EISDIR
		}
		return nil, errno.EEXIST
	}
	if d.acct != nil {
		if err := d.acct.Adjust(0, 1, true); err != nil {
			return nil, err
		}
	}
	leaf := NewFile(ctx, d.acct, mode)
	h, err := leaf.Create(ctx, "/", flags, mode)
	if errno.FromError(err, errno.OK) == errno.ENOSYS {
		h, err = leaf.Open(ctx, "/", flags)
	}
	if err != nil {
		if d.acct != nil {
			d.acct.Adjust(0, -1, false)
		}
		return nil, err
	}
	d.mu.Lock()
	d.entries.Set(name, leaf)
	d.attr.touchModified()
	d.mu.Unlock()
	return h, nil
}

func (d *Dir) Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error) {
	if isRoot(path) {
		return 0, errno.EISDIR
	}
	child, rest, err := d.step(path)
	if err != nil {
		return 0, err
	}
	return child.Read(ctx, rest, dest, off, h)
}

func (d *Dir) Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error) {
	if isRoot(path) {
		return 0, errno.EISDIR
	}
	child, rest, err := d.step(path)
	if err != nil {
		return 0, err
	}
	return child.Write(ctx, rest, data, off, h)
}

func (d *Dir) Flush(ctx *ops.Context, path string, h interface{}) error {
	if isRoot(path) {
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Flush(ctx, rest, h)
}

func (d *Dir) Release(ctx *ops.Context, path string, h interface{}) error {
	if isRoot(path) {
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Release(ctx, rest, h)
}

func (d *Dir) Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error {
	if isRoot(path) {
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Fsync(ctx, rest, datasync, h)
}

func (d *Dir) Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error {
	if !isRoot(path) {
		child, rest, err := d.step(path)
		if err != nil {
			return err
		}
		return child.Readdir(ctx, rest, fill, off, h)
	}
	if !fill.Fill(".", nil, 0) || !fill.Fill("..", nil, 0) {
		return nil
	}
	for _, e := range d.children() {
		st := &ops.Stat{}
		if err := e.node.Getattr(ctx, "/", st); err != nil {
			st = nil
		}
		if !fill.Fill(e.name, st, 0) {
			return nil
		}
	}
	return nil
}

func (d *Dir) Statfs(ctx *ops.Context, path string, st *ops.Statvfs) error {
	if isRoot(path) {
		if d.acct != nil {
			d.acct.FillStatvfs(st)
			return nil
		}
		st.Bsize = BlockSize
		st.Frsize = BlockSize
		st.Namemax = 255
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	// Children without statistics of their own inherit this subtree's.
	if err := child.Statfs(ctx, rest, st); errno.FromError(err, errno.OK) != errno.ENOSYS {
		return err
	}
	return d.Statfs(ctx, "/", st)
}

func (d *Dir) Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error {
	if isRoot(path) {
		d.mu.Lock()
		defer d.mu.Unlock()
		_, exists := d.xattr[name]
		switch {
		case flags&ops.XattrCreate != 0 && exists:
			return errno.EEXIST
		case flags&ops.XattrReplace != 0 && !exists:
			return errno.ENODATA
		}
		if d.xattr == nil {
			d.xattr = make(map[string][]byte)
		}
		d.xattr[name] = append([]byte(nil), value...)
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Setxattr(ctx, rest, name, value, flags)
}

func (d *Dir) Getxattr(ctx *ops.Context, path, name string) ([]byte, error) {
	if isRoot(path) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		v, ok := d.xattr[name]
		if !ok {
			return nil, errno.ENODATA
		}
		return append([]byte(nil), v...), nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return nil, err
	}
	return child.Getxattr(ctx, rest, name)
}

func (d *Dir) Listxattr(ctx *ops.Context, path string) ([]string, error) {
	if isRoot(path) {
		d.mu.RLock()
		defer d.mu.RUnlock()
		names := make([]string, 0, len(d.xattr))
		for name := range d.xattr {
			names = append(names, name)
		}
		sort.Strings(names)
		return names, nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return nil, err
	}
	return child.Listxattr(ctx, rest)
}

func (d *Dir) Removexattr(ctx *ops.Context, path, name string) error {
	if isRoot(path) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, ok := d.xattr[name]; !ok {
			return errno.ENODATA
		}
		delete(d.xattr, name)
		return nil
	}
	child, rest, err := d.step(path)
	if err != nil {
		return err
	}
	return child.Removexattr(ctx, rest, name)
}
