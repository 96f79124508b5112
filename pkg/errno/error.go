package errno

import (
	"fmt"
)

// Error is a structured filesystem error carrying the operation and path that
// produced it. It unwraps to both its Errno and its cause, so callers can use
// errors.Is against either.
type Error struct {
	Errno Errno
	Op    string
	Path  string
	Err   error
}

// E builds an Error from an errno with operation and path context.
func E(e Errno, op, path string) *Error {
	return &Error{Errno: e, Op: op, Path: path}
}

// Wrap attaches operation and path context to an underlying error. The
// Errno is extracted from err when recognizable, otherwise EIO. Wrapping
// nil stays nil.
func Wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	return &Error{Errno: FromError(err, EIO), Op: op, Path: path, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Errno)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Errno)
	}
}

// Unwrap exposes the cause when present, else the bare errno.
func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Errno
}

// Is matches against the carried errno in addition to the unwrap chain.
func (e *Error) Is(target error) bool {
	return e.Errno.Is(target)
}
