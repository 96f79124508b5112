// Package vfs is an in-memory, composable filesystem tree. Directories
// map names to nodes; every node serves the tree operation surface for
// paths below it, so arbitrary subtrees can be grafted in: another Dir,
// a passthrough onto a real directory, an object-store mirror, or any
// custom Node. FS at the top forwards the adapter-facing interface into
// the tree and owns the structural operations (link, rename) that span
// more than one directory.
package vfs

import (
	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// Node is the operation surface one tree element exposes. Paths are
// relative to the node; "/" addresses the node itself. Implementations
// embed Base and override what they support, declaring the supported
// set through Caps.
type Node interface {
	Caps() ops.Set

	Getattr(ctx *ops.Context, path string, st *ops.Stat) error
	Readlink(ctx *ops.Context, path string) (string, error)
	Mknod(ctx *ops.Context, path string, mode uint32, dev uint64) error
	Mkdir(ctx *ops.Context, path string, mode uint32) error
	Unlink(ctx *ops.Context, path string) error
	Rmdir(ctx *ops.Context, path string) error
	Symlink(ctx *ops.Context, target, path string) error
	Chmod(ctx *ops.Context, path string, mode uint32) error
	Chown(ctx *ops.Context, path string, uid, gid uint32) error
	Utimens(ctx *ops.Context, path string, ts [2]ops.Timespec) error
	Truncate(ctx *ops.Context, path string, size int64) error

	Open(ctx *ops.Context, path string, flags int) (interface{}, error)
	Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error)
	Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error)
	Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error)
	Flush(ctx *ops.Context, path string, h interface{}) error
	Release(ctx *ops.Context, path string, h interface{}) error
	Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error

	Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error
	Statfs(ctx *ops.Context, path string, st *ops.Statvfs) error

	Setxattr(ctx *ops.Context, path, name string, value []byte, flags int) error
	Getxattr(ctx *ops.Context, path, name string) ([]byte, error)
	Listxattr(ctx *ops.Context, path string) ([]string, error)
	Removexattr(ctx *ops.Context, path, name string) error
}

// Resolver is implemented by nodes that can hand out their children as
// node objects. The structural operations (link, rename) need it to walk
// the tree; a subtree without it is opaque and link/rename across its
// boundary fail with EXDEV.
type Resolver interface {
	Resolve(ctx *ops.Context, name string) (Node, error)
}

// Linkable marks nodes that may appear under more than one name.
// NameAdded is signalled for each extra name gained through link; names
// going away arrive as ordinary unlink calls. Directories do not
// implement it, so hard-linking them fails.
type Linkable interface {
	NameAdded()
}

// Remover is an optional teardown hook signalled after a node has been
// detached from the tree by unlink or rmdir.
type Remover interface {
	Removed(ctx *ops.Context)
}

// Base provides the full Node surface with "not supported" defaults.
// The handle lifecycle methods default to success instead, so embedding
// types only override them when they have real work to do.
type Base struct{}

var _ Node = Base{}

func (Base) Caps() ops.Set { return 0 }

func (Base) Getattr(*ops.Context, string, *ops.Stat) error        { return errno.ENOSYS }
func (Base) Readlink(*ops.Context, string) (string, error)        { return "", errno.ENOSYS }
func (Base) Mknod(*ops.Context, string, uint32, uint64) error     { return errno.ENOSYS }
func (Base) Mkdir(*ops.Context, string, uint32) error             { return errno.ENOSYS }
func (Base) Unlink(*ops.Context, string) error                    { return errno.ENOSYS }
func (Base) Rmdir(*ops.Context, string) error                     { return errno.ENOSYS }
func (Base) Symlink(*ops.Context, string, string) error           { return errno.ENOSYS }
func (Base) Chmod(*ops.Context, string, uint32) error             { return errno.ENOSYS }
func (Base) Chown(*ops.Context, string, uint32, uint32) error     { return errno.ENOSYS }
func (Base) Utimens(*ops.Context, string, [2]ops.Timespec) error  { return errno.ENOSYS }
func (Base) Truncate(*ops.Context, string, int64) error           { return errno.ENOSYS }
func (Base) Statfs(*ops.Context, string, *ops.Statvfs) error      { return errno.ENOSYS }
func (Base) Setxattr(*ops.Context, string, string, []byte, int) error {
	return errno.ENOSYS
}
func (Base) Getxattr(*ops.Context, string, string) ([]byte, error) { return nil, errno.ENOSYS }
func (Base) Listxattr(*ops.Context, string) ([]string, error)      { return nil, errno.ENOSYS }
func (Base) Removexattr(*ops.Context, string, string) error        { return errno.ENOSYS }

func (Base) Open(*ops.Context, string, int) (interface{}, error) { return nil, errno.ENOSYS }
func (Base) Create(*ops.Context, string, int, uint32) (interface{}, error) {
	return nil, errno.ENOSYS
}
func (Base) Read(*ops.Context, string, []byte, int64, interface{}) (int, error) {
	return 0, errno.ENOSYS
}
func (Base) Write(*ops.Context, string, []byte, int64, interface{}) (int, error) {
	return 0, errno.ENOSYS
}
func (Base) Readdir(*ops.Context, string, *adapter.DirFiller, int64, interface{}) error {
	return errno.ENOSYS
}

func (Base) Flush(*ops.Context, string, interface{}) error       { return nil }
func (Base) Release(*ops.Context, string, interface{}) error     { return nil }
func (Base) Fsync(*ops.Context, string, bool, interface{}) error { return nil }
