package vfs

import (
	"sync"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

var linkCaps = ops.NewSet(ops.Getattr, ops.Readlink, ops.Unlink)

// Symlink is an in-memory symbolic link. The target is a plain string;
// nothing checks that it resolves anywhere.
type Symlink struct {
	Base

	mu     sync.RWMutex
	attr   Attr
	target string
	acct   *Accounting
}

var _ Node = (*Symlink)(nil)

// NewSymlink builds a symlink pointing at target.
func NewSymlink(ctx *ops.Context, acct *Accounting, target string) *Symlink {
	return &Symlink{
		attr:   newAttr(ctx, 0777),
		target: target,
		acct:   acct,
	}
}

func (l *Symlink) Caps() ops.Set { return linkCaps }

func (l *Symlink) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	l.attr.fill(st, ops.S_IFLNK, int64(len(l.target)), 1)
	return nil
}

func (l *Symlink) Readlink(ctx *ops.Context, path string) (string, error) {
	if !isRoot(path) {
		return "", errno.ENOTDIR
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.target, nil
}

func (l *Symlink) Unlink(ctx *ops.Context, path string) error {
	if !isRoot(path) {
		return errno.ENOTDIR
	}
	if l.acct != nil {
		l.acct.Adjust(0, -1, false)
	}
	return nil
}
