package vfs

import (
	"github.com/fusekit/fusekit/pkg/ops"
)

// Attr is the mutable stat metadata every in-memory node carries. The
// mode holds permission bits only; the owning node supplies its type
// bits when filling a stat.
type Attr struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Atime ops.Timespec
	Mtime ops.Timespec
	Ctime ops.Timespec
}

func newAttr(ctx *ops.Context, mode uint32) Attr {
	now := ops.Now()
	a := Attr{Mode: mode & 0777, Atime: now, Mtime: now, Ctime: now}
	if ctx != nil {
		a.UID = ctx.UID
		a.GID = ctx.GID
	}
	return a
}

func (a *Attr) fill(st *ops.Stat, typ uint32, size int64, nlink uint32) {
	st.Mode = typ | (a.Mode & 0777)
	st.Nlink = nlink
	st.Uid = a.UID
	st.Gid = a.GID
	st.Size = size
	st.Blocks = (size + 511) / 512
	st.Blksize = BlockSize
	st.Atim = a.Atime
	st.Mtim = a.Mtime
	st.Ctim = a.Ctime
}

func (a *Attr) touchModified() {
	now := ops.Now()
	a.Mtime = now
	a.Ctime = now
}

func (a *Attr) touchChanged() {
	a.Ctime = ops.Now()
}
