package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/logging"
	"github.com/fusekit/fusekit/pkg/ops"
)

// fakeSource serves handlers from a map.
type fakeSource struct {
	handlers map[ops.Op]Handler
}

func (f *fakeSource) Caps() ops.Set {
	var s ops.Set
	for op := range f.handlers {
		s = s.With(op)
	}
	return s
}

func (f *fakeSource) Handler(op ops.Op) Handler { return f.handlers[op] }

// marker appends trace entries around the inner call.
func marker(tag string, trace *[]string) Wrapper {
	return WrapperFunc(func(op ops.Op, next Handler) Handler {
		return func(ctx *ops.Context, req *ops.Request) (int, error) {
			*trace = append(*trace, tag+">")
			ret, err := next(ctx, req)
			*trace = append(*trace, "<"+tag)
			return ret, err
		}
	})
}

func TestWrapperOrder(t *testing.T) {
	var trace []string
	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Mkdir: func(ctx *ops.Context, req *ops.Request) (int, error) {
			trace = append(trace, "inner")
			return 0, nil
		},
	}}

	reg, err := New(src, []Wrapper{marker("a", &trace), marker("b", &trace), marker("c", &trace)})
	require.NoError(t, err)

	_, err = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Mkdir, "/d"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a>", "b>", "c>", "inner", "<c", "<b", "<a"}, trace)
}

func newSafeRegistry(t *testing.T, h Handler, op ops.Op, log *logging.Logger) *Registry {
	t.Helper()
	src := &fakeSource{handlers: map[ops.Op]Handler{op: h}}
	reg, err := New(src, []Wrapper{NewSafety(log, errno.EIO)})
	require.NoError(t, err)
	return reg
}

func TestStatusContract(t *testing.T) {
	tests := []struct {
		name string
		h    Handler
		want int
	}{
		{
			"system error negated",
			func(ctx *ops.Context, req *ops.Request) (int, error) { return 0, errno.ENOENT },
			-int(errno.ENOENT),
		},
		{
			"wrapped system error negated",
			func(ctx *ops.Context, req *ops.Request) (int, error) {
				return 0, fmt.Errorf("lookup: %w", syscall.ENOTDIR)
			},
			-int(errno.ENOTDIR),
		},
		{
			"generic error becomes default",
			func(ctx *ops.Context, req *ops.Request) (int, error) { return 0, errors.New("boom") },
			-int(errno.EIO),
		},
		{
			"positive return collapses to success",
			func(ctx *ops.Context, req *ops.Request) (int, error) { return 5, nil },
			0,
		},
		{
			"explicit negative passes through",
			func(ctx *ops.Context, req *ops.Request) (int, error) { return -5, nil },
			-5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newSafeRegistry(t, tt.h, ops.Mkdir, nil)
			got := reg.Invoke(ops.Background(), ops.NewRequest(ops.Mkdir, "/d"))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMeaningfulContract(t *testing.T) {
	reg := newSafeRegistry(t, func(ctx *ops.Context, req *ops.Request) (int, error) {
		return 5, nil
	}, ops.Read, nil)
	assert.Equal(t, 5, reg.Invoke(ops.Background(), ops.NewRequest(ops.Read, "/f")))

	reg = newSafeRegistry(t, func(ctx *ops.Context, req *ops.Request) (int, error) {
		return 0, errno.EBADF
	}, ops.Read, nil)
	assert.Equal(t, -int(errno.EBADF), reg.Invoke(ops.Background(), ops.NewRequest(ops.Read, "/f")))
}

func TestVoidContract(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&logging.Config{Level: logging.DEBUG, Output: &buf})

	reg := newSafeRegistry(t, func(ctx *ops.Context, req *ops.Request) (int, error) {
		return 99, errors.New("init went sideways")
	}, ops.Init, log)
	got := reg.Invoke(ops.Background(), ops.NewRequest(ops.Init, ""))
	assert.Equal(t, 0, got)
	assert.Contains(t, buf.String(), "operation failed")
}

func TestPanicRecovered(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&logging.Config{Level: logging.DEBUG, Output: &buf})

	reg := newSafeRegistry(t, func(ctx *ops.Context, req *ops.Request) (int, error) {
		panic("handler exploded")
	}, ops.Unlink, log)
	got := reg.Invoke(ops.Background(), ops.NewRequest(ops.Unlink, "/f"))
	assert.Equal(t, -int(errno.EIO), got)
	assert.Contains(t, buf.String(), "handler exploded")
}

func TestUnregisteredOp(t *testing.T) {
	reg := newSafeRegistry(t, func(ctx *ops.Context, req *ops.Request) (int, error) {
		return 0, nil
	}, ops.Mkdir, nil)

	_, err := reg.Dispatch(ops.Background(), ops.NewRequest(ops.Symlink, "/t"))
	assert.True(t, errors.Is(err, errno.ENOSYS))
	assert.Equal(t, -int(errno.ENOSYS), reg.Invoke(ops.Background(), ops.NewRequest(ops.Symlink, "/t")))
}

func TestExcludeAndOnly(t *testing.T) {
	var trace []string
	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Mkdir:  func(ctx *ops.Context, req *ops.Request) (int, error) { return 0, nil },
		ops.Unlink: func(ctx *ops.Context, req *ops.Request) (int, error) { return 0, nil },
	}}
	reg, err := New(src, []Wrapper{Exclude(marker("x", &trace), ops.Unlink)})
	require.NoError(t, err)

	_, _ = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Unlink, "/f"))
	assert.Empty(t, trace, "excluded op must not be wrapped")

	_, _ = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Mkdir, "/d"))
	assert.Equal(t, []string{"x>", "<x"}, trace)

	trace = nil
	reg, err = New(src, []Wrapper{Only(marker("y", &trace), ops.Unlink)})
	require.NoError(t, err)
	_, _ = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Mkdir, "/d"))
	assert.Empty(t, trace)
	_, _ = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Unlink, "/f"))
	assert.Equal(t, []string{"y>", "<y"}, trace)
}

func TestConstructionFailsFast(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilSource)

	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Mkdir: func(ctx *ops.Context, req *ops.Request) (int, error) { return 0, nil },
	}}
	_, err = New(src, []Wrapper{nil})
	assert.ErrorIs(t, err, ErrBadWrapper)

	// A source advertising an operation it cannot serve is a config error.
	lying := &lyingSource{caps: ops.NewSet(ops.Open)}
	_, err = New(lying, nil)
	assert.ErrorIs(t, err, ErrBadHandler)

	// A wrapper producing a nil handler is rejected at build time.
	bad := WrapperFunc(func(op ops.Op, next Handler) Handler { return nil })
	_, err = New(src, []Wrapper{bad})
	assert.ErrorIs(t, err, ErrBadWrapper)
}

type lyingSource struct{ caps ops.Set }

func (l *lyingSource) Caps() ops.Set          { return l.caps }
func (l *lyingSource) Handler(ops.Op) Handler { return nil }

func TestContextWrapperDefaults(t *testing.T) {
	var seen *ops.Context
	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Getattr: func(ctx *ops.Context, req *ops.Request) (int, error) {
			seen = ctx
			return 0, nil
		},
	}}
	def := ops.Background()
	reg, err := New(src, []Wrapper{NewContextWrapper(def)})
	require.NoError(t, err)

	_, err = reg.Dispatch(nil, ops.NewRequest(ops.Getattr, "/"))
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, def.UID, seen.UID)
	assert.NotEmpty(t, seen.RequestID(), "request id must be stamped")

	// An existing id is preserved.
	tagged := def.WithValue(ops.ContextKeyRequestID, "fixed")
	_, _ = reg.Dispatch(tagged, ops.NewRequest(ops.Getattr, "/"))
	assert.Equal(t, "fixed", seen.RequestID())
}

func TestInterrupt(t *testing.T) {
	var called bool
	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Read: func(ctx *ops.Context, req *ops.Request) (int, error) {
			called = true
			return 0, nil
		},
	}}
	reg, err := New(src, []Wrapper{NewInterrupt()})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := ops.NewContext(cancelled, 0, 0, 1)

	_, errDispatch := reg.Dispatch(ctx, ops.NewRequest(ops.Read, "/f"))
	assert.True(t, errors.Is(errDispatch, errno.EINTR))
	assert.False(t, called, "inner handler must not run after cancellation")

	_, errDispatch = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Read, "/f"))
	assert.NoError(t, errDispatch)
	assert.True(t, called)
}

func TestDebugWrapperLogs(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&logging.Config{Level: logging.DEBUG, Output: &buf})

	src := &fakeSource{handlers: map[ops.Op]Handler{
		ops.Read: func(ctx *ops.Context, req *ops.Request) (int, error) { return 2048, nil },
	}}
	reg, err := New(src, []Wrapper{NewDebug(log)})
	require.NoError(t, err)

	_, _ = reg.Dispatch(ops.Background(), ops.NewRequest(ops.Read, "/f"))
	out := buf.String()
	assert.Contains(t, out, "-> read /f")
	assert.Contains(t, out, "2.0 KB")
}
