package errno

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Errno
	}{
		{"nil", nil, OK},
		{"bare errno", ENOENT, ENOENT},
		{"wrapped errno", fmt.Errorf("lookup: %w", ENOTDIR), ENOTDIR},
		{"syscall errno", syscall.EEXIST, EEXIST},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, EACCES},
		{"fs not exist", fs.ErrNotExist, ENOENT},
		{"fs exist", fs.ErrExist, EEXIST},
		{"fs permission", fs.ErrPermission, EACCES},
		{"fs closed", fs.ErrClosed, EBADF},
		{"canceled", context.Canceled, EINTR},
		{"generic", errors.New("boom"), EIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err, EIO))
		})
	}
}

func TestStatus(t *testing.T) {
	assert.Equal(t, 0, Status(nil, EIO))
	assert.Equal(t, -int(ENOENT), Status(ENOENT, EIO))
	assert.Equal(t, -int(EIO), Status(errors.New("boom"), EIO))
	assert.Equal(t, -int(ENOSYS), Status(errors.New("boom"), ENOSYS))
}

func TestErrnoIs(t *testing.T) {
	err := fmt.Errorf("deep: %w", E(ENOENT, "getattr", "/missing"))
	require.True(t, errors.Is(err, ENOENT))
	require.False(t, errors.Is(err, EEXIST))
	require.True(t, errors.Is(err, fs.ErrNotExist))
	require.True(t, errors.Is(ENOENT, syscall.ENOENT))
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, "read", "/f"))

	wrapped := Wrap(syscall.ENOSPC, "write", "/f")
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, ENOSPC))
	assert.Contains(t, wrapped.Error(), "write /f")

	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, ENOSPC, e.Errno)
	assert.Equal(t, "write", e.Op)
}

func TestIsErrno(t *testing.T) {
	assert.True(t, IsErrno(ENOENT))
	assert.True(t, IsErrno(&os.PathError{Op: "open", Path: "/x", Err: syscall.EIO}))
	assert.False(t, IsErrno(errors.New("boom")))
}
