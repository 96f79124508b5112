package ops

import (
	"os"
	"time"
)

// File type bits for Stat.Mode, matching the POSIX encoding used on the
// wire.
const (
	S_IFMT  uint32 = 0170000
	S_IFIFO uint32 = 0010000
	S_IFCHR uint32 = 0020000
	S_IFDIR uint32 = 0040000
	S_IFBLK uint32 = 0060000
	S_IFREG uint32 = 0100000
	S_IFLNK uint32 = 0120000
	S_IFSOC uint32 = 0140000
)

// NoHandle marks an absent file handle argument. Bridges pass it on
// operations that may or may not carry an open handle.
const NoHandle = ^uint64(0)

// Setxattr flag values.
const (
	XattrCreate  = 1
	XattrReplace = 2
)

// Timespec is a nanosecond timestamp in the split representation the bridge
// contract uses.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// NewTimespec converts a time.Time.
func NewTimespec(t time.Time) Timespec {
	return Timespec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Now returns the current time as a Timespec.
func Now() Timespec { return NewTimespec(time.Now()) }

// Time converts back to time.Time.
func (ts Timespec) Time() time.Time { return time.Unix(ts.Sec, ts.Nsec) }

// IsZero reports whether the timespec is unset.
func (ts Timespec) IsZero() bool { return ts.Sec == 0 && ts.Nsec == 0 }

// Stat describes one filesystem object, mirroring the bridge attribute
// structure.
type Stat struct {
	Dev      uint64
	Ino      uint64
	Mode     uint32
	Nlink    uint32
	Uid      uint32
	Gid      uint32
	Rdev     uint64
	Size     int64
	Atim     Timespec
	Mtim     Timespec
	Ctim     Timespec
	Blksize  int64
	Blocks   int64
	Birthtim Timespec
}

// IsDir reports whether the mode describes a directory.
func (s *Stat) IsDir() bool { return s.Mode&S_IFMT == S_IFDIR }

// IsRegular reports whether the mode describes a regular file.
func (s *Stat) IsRegular() bool { return s.Mode&S_IFMT == S_IFREG }

// IsSymlink reports whether the mode describes a symbolic link.
func (s *Stat) IsSymlink() bool { return s.Mode&S_IFMT == S_IFLNK }

// FileMode converts to the os.FileMode representation.
func (s *Stat) FileMode() os.FileMode {
	mode := os.FileMode(s.Mode & 0777)
	switch s.Mode & S_IFMT {
	case S_IFDIR:
		mode |= os.ModeDir
	case S_IFLNK:
		mode |= os.ModeSymlink
	case S_IFIFO:
		mode |= os.ModeNamedPipe
	case S_IFSOC:
		mode |= os.ModeSocket
	case S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case S_IFBLK:
		mode |= os.ModeDevice
	}
	return mode
}

// Statvfs carries filesystem statistics in the shape consumed by disk-free
// tooling.
type Statvfs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint64
}

// Lock types for FileLock.Type.
const (
	LockRead   = 0
	LockWrite  = 1
	LockUnlock = 2
)

// FileLock describes a POSIX byte-range lock request.
type FileLock struct {
	Type   int
	Whence int
	Start  int64
	Len    int64
	Pid    uint32
}

// ConnInfo describes the negotiated kernel connection, shared by both
// supported protocol generations.
type ConnInfo struct {
	ProtoMajor   uint32
	ProtoMinor   uint32
	MaxWrite     uint32
	MaxReadahead uint32
	Capable      uint64
	Want         uint64
}

// InitConfig is the newer-generation init configuration object.
type InitConfig struct {
	UseIno          bool
	DirectIO        bool
	KernelCache     bool
	AttrTimeout     float64
	EntryTimeout    float64
	NegativeTimeout float64
}

// InitLegacyFlags is the older-generation init flag block.
//
// Nopath asks the bridge to skip path reconstruction for operations on
// already-open files. The newer generation has no equivalent; the shim layer
// reports it as unsupported instead of emulating it.
type InitLegacyFlags struct {
	Nopath    bool
	AsyncRead bool
	BigWrites bool
}
