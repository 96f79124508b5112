package ops

import (
	"fmt"
	"strings"
)

// FillFunc is the directory-fill callback handed to readdir. It returns
// true while the destination buffer has room and false once full; callers
// must stop iterating after a false return. The flags argument is the
// newer-generation per-entry fill flag word; older-generation delegates see
// it stripped by the shim layer.
type FillFunc func(name string, st *Stat, off int64, flags uint32) bool

// NameFillFunc fills one name into a listxattr result buffer.
type NameFillFunc func(name string) bool

// Request is the typed argument envelope for one operation invocation.
// Input fields are set by the bridge; pointer fields under "out parameters"
// are owned by the bridge and written by handlers.
type Request struct {
	Op     Op
	Path   string
	Target string // rename/link destination, symlink target

	Fh uint64 // NoHandle when the operation carries no open handle

	Flags int    // open flags, setxattr flags, rename flags, fallocate mode
	Mode  uint32 // file mode, access mask
	Dev   uint64 // mknod device number

	UID uint32 // chown operands
	GID uint32

	Size   int64 // truncate/fallocate length, bmap block size
	Offset int64 // I/O offset, lseek offset, bmap index

	TargetFh     uint64 // copy_file_range destination handle
	TargetOffset int64  // copy_file_range destination offset

	Data  []byte // write payload, read destination buffer
	Name  string // xattr name
	Value []byte // setxattr value

	Times [2]Timespec // utimens access and modification times

	Datasync bool // fsync/fsyncdir
	Whence   int  // lseek

	Position uint32 // trailing xattr argument of the newer generation

	ReaddirPlus bool // newer-generation readdir attribute prefetch

	Lk *FileLock // lock/flock operand

	// Out parameters.
	Stat      *Stat
	Statfs    *Statvfs
	OutTarget *string // readlink result
	OutHandle *uint64 // open/create/opendir handle result
	OutIdx    *uint64 // bmap result
	Fill      FillFunc
	FillName  NameFillFunc

	// Init payload; exactly one of Config/Legacy is set depending on the
	// bridge generation.
	Conn   *ConnInfo
	Config *InitConfig
	Legacy *InitLegacyFlags
}

// NewRequest builds a request with the handle marked absent.
func NewRequest(op Op, path string) *Request {
	return &Request{Op: op, Path: path, Fh: NoHandle, TargetFh: NoHandle}
}

// HasHandle reports whether the request carries an open file handle.
func (r *Request) HasHandle() bool { return r.Fh != NoHandle }

// String renders the request for debug logging.
func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.Op.String())
	if r.Path != "" {
		sb.WriteByte(' ')
		sb.WriteString(r.Path)
	}
	if r.Target != "" {
		sb.WriteString(" -> ")
		sb.WriteString(r.Target)
	}
	if r.HasHandle() {
		fmt.Fprintf(&sb, " fh=%d", r.Fh)
	}
	switch r.Op {
	case Read, Write:
		fmt.Fprintf(&sb, " off=%d len=%d", r.Offset, len(r.Data))
	case Truncate, Fallocate:
		fmt.Fprintf(&sb, " size=%d", r.Size)
	case Mkdir, Mknod, Create, Chmod:
		fmt.Fprintf(&sb, " mode=%o", r.Mode)
	case Chown:
		fmt.Fprintf(&sb, " uid=%d gid=%d", r.UID, r.GID)
	case Setxattr, Getxattr, Removexattr:
		fmt.Fprintf(&sb, " name=%s", r.Name)
	}
	return sb.String()
}
