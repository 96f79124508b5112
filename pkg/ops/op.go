// Package ops defines the fixed operation set of the kernel bridge contract:
// operation identifiers with their return-kind classification, the typed
// request envelope carrying one invocation's arguments, the stat structures,
// and the per-invocation caller context.
package ops

// Op identifies one operation in the fixed operation set. The numbering is
// stable; dispatch tables are indexed by it.
type Op uint8

const (
	Init Op = iota
	Destroy
	Statfs
	Mknod
	Mkdir
	Unlink
	Rmdir
	Link
	Symlink
	Readlink
	Rename
	Chmod
	Chown
	Utimens
	Access
	Create
	Open
	Getattr
	Truncate
	Read
	Write
	Flush
	Release
	Fsync
	Opendir
	Readdir
	Releasedir
	Fsyncdir
	Setxattr
	Getxattr
	Removexattr
	Listxattr
	Lock
	Flock
	Fallocate
	Lseek
	CopyFileRange
	Bmap

	opCount
)

// Count is the number of operations in the set.
const Count = int(opCount)

var opNames = [...]string{
	Init:          "init",
	Destroy:       "destroy",
	Statfs:        "statfs",
	Mknod:         "mknod",
	Mkdir:         "mkdir",
	Unlink:        "unlink",
	Rmdir:         "rmdir",
	Link:          "link",
	Symlink:       "symlink",
	Readlink:      "readlink",
	Rename:        "rename",
	Chmod:         "chmod",
	Chown:         "chown",
	Utimens:       "utimens",
	Access:        "access",
	Create:        "create",
	Open:          "open",
	Getattr:       "getattr",
	Truncate:      "truncate",
	Read:          "read",
	Write:         "write",
	Flush:         "flush",
	Release:       "release",
	Fsync:         "fsync",
	Opendir:       "opendir",
	Readdir:       "readdir",
	Releasedir:    "releasedir",
	Fsyncdir:      "fsyncdir",
	Setxattr:      "setxattr",
	Getxattr:      "getxattr",
	Removexattr:   "removexattr",
	Listxattr:     "listxattr",
	Lock:          "lock",
	Flock:         "flock",
	Fallocate:     "fallocate",
	Lseek:         "lseek",
	CopyFileRange: "copy_file_range",
	Bmap:          "bmap",
}

// String returns the operation's conventional callback name.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// Valid reports whether o is a member of the operation set.
func (o Op) Valid() bool { return o < opCount }

// ReturnKind classifies what an operation's integer return means to the
// bridge layer.
type ReturnKind uint8

const (
	// KindStatus operations return 0 on success or a negative errno.
	KindStatus ReturnKind = iota
	// KindVoid operations have no usable return value.
	KindVoid
	// KindMeaningful operations return data in the integer itself
	// (byte counts, sizes, offsets); non-negative results must be
	// passed through untouched.
	KindMeaningful
)

func (k ReturnKind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindMeaningful:
		return "meaningful"
	default:
		return "status"
	}
}

var returnKinds = [opCount]ReturnKind{
	Init:          KindVoid,
	Destroy:       KindVoid,
	Read:          KindMeaningful,
	Write:         KindMeaningful,
	Getxattr:      KindMeaningful,
	Listxattr:     KindMeaningful,
	Lseek:         KindMeaningful,
	CopyFileRange: KindMeaningful,
}

// ReturnKind returns the classification for o.
func (o Op) ReturnKind() ReturnKind {
	if o < opCount {
		return returnKinds[o]
	}
	return KindStatus
}

// All returns every operation in declaration order.
func All() []Op {
	out := make([]Op, Count)
	for i := range out {
		out[i] = Op(i)
	}
	return out
}
