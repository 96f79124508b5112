// Package errno provides the errno-based error vocabulary shared by every
// filesystem operation, node, and adapter in fusekit.
//
// Domain errors (no such entry, exists, not a directory, ...) are ordinary
// Go errors that flow up through node recursion and wrapper chains; they are
// converted to negative status integers only at the dispatch boundary.
package errno

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
)

// Errno is a POSIX error number. The zero value means "no error".
type Errno int

// The error vocabulary used across the framework. Values come from the
// platform syscall package so they negate directly into the status
// convention expected by the kernel bridge.
const (
	OK        Errno = 0
	EPERM           = Errno(syscall.EPERM)
	ENOENT          = Errno(syscall.ENOENT)
	EINTR           = Errno(syscall.EINTR)
	EIO             = Errno(syscall.EIO)
	EBADF           = Errno(syscall.EBADF)
	EACCES          = Errno(syscall.EACCES)
	EBUSY           = Errno(syscall.EBUSY)
	EEXIST          = Errno(syscall.EEXIST)
	EXDEV           = Errno(syscall.EXDEV)
	ENOTDIR         = Errno(syscall.ENOTDIR)
	EISDIR          = Errno(syscall.EISDIR)
	EINVAL          = Errno(syscall.EINVAL)
	EFBIG           = Errno(syscall.EFBIG)
	ENOSPC          = Errno(syscall.ENOSPC)
	EROFS           = Errno(syscall.EROFS)
	EMLINK          = Errno(syscall.EMLINK)
	ERANGE          = Errno(syscall.ERANGE)
	ENOSYS          = Errno(syscall.ENOSYS)
	ENOTEMPTY       = Errno(syscall.ENOTEMPTY)
	ENODATA         = Errno(syscall.ENODATA)
	ENAMETOOLONG    = Errno(syscall.ENAMETOOLONG)
	ENOATTR         = ENODATA
)

// Error returns the platform error string for the errno.
func (e Errno) Error() string {
	if e == OK {
		return "success"
	}
	return syscall.Errno(e).Error()
}

// Errno returns the numeric value. Handy when the receiver is held as error.
func (e Errno) Errno() int { return int(e) }

// Is reports errno equality so errors.Is sees through wrapping. A raw
// syscall.Errno target with the same value also matches.
func (e Errno) Is(target error) bool {
	switch t := target.(type) {
	case Errno:
		return e == t
	case syscall.Errno:
		return int(e) == int(t)
	}
	switch target {
	case fs.ErrNotExist:
		return e == ENOENT
	case fs.ErrExist:
		return e == EEXIST
	case fs.ErrPermission:
		return e == EACCES || e == EPERM
	}
	return false
}

// FromError extracts an Errno from err. Wrapped Errno and syscall.Errno
// values are unwrapped; well-known stdlib sentinels are translated; anything
// else maps to def. A nil err returns OK.
func FromError(err error, def Errno) Errno {
	if err == nil {
		return OK
	}
	var e Errno
	if errors.As(err, &e) {
		return e
	}
	var se syscall.Errno
	if errors.As(err, &se) {
		return Errno(se)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrClosed):
		return EBADF
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return EINTR
	}
	return def
}

// IsErrno reports whether err carries any recognizable errno, as opposed to
// being a generic error that needs the configured default translation.
func IsErrno(err error) bool {
	var e Errno
	if errors.As(err, &e) {
		return true
	}
	var se syscall.Errno
	return errors.As(err, &se) ||
		errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) ||
		errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Status converts an error into the negative integer status convention:
// 0 for nil, -errno for recognized errors, -def otherwise.
func Status(err error, def Errno) int {
	if err == nil {
		return 0
	}
	e := FromError(err, def)
	if e == OK {
		e = def
	}
	return -int(e)
}
