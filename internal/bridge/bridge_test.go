package bridge

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/ops"
)

type fakeBackend struct{ name string }

func (b fakeBackend) Name() string { return b.name }

func (b fakeBackend) Mount(context.Context, string, ops.Set, *MountOptions) (Conn, error) {
	return nil, errors.New("fake backend does not mount")
}

func TestNew_ByName(t *testing.T) {
	t.Parallel()

	b, err := New("mem")
	require.NoError(t, err)
	assert.Equal(t, "mem", b.Name())

	b2, err := New("mem")
	require.NoError(t, err)
	assert.NotSame(t, b, b2, "New must hand out fresh instances")
}

func TestNew_EnvSelection(t *testing.T) {
	t.Setenv(EnvBridge, "mem")

	b, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "mem", b.Name())
}

func TestNew_Default(t *testing.T) {
	t.Setenv(EnvBridge, "")

	b, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultName, b.Name())
}

func TestNew_Unknown(t *testing.T) {
	t.Parallel()

	_, err := New("no-such-backend")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
	assert.Contains(t, err.Error(), "mem", "error should list what is registered")
}

func TestRegister_Replaces(t *testing.T) {
	t.Parallel()

	Register("fake-test", func() Backend { return fakeBackend{name: "first"} })
	Register("fake-test", func() Backend { return fakeBackend{name: "second"} })

	b, err := New("fake-test")
	require.NoError(t, err)
	assert.Equal(t, "second", b.Name())
}

func TestNames(t *testing.T) {
	t.Parallel()

	names := Names()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "mem")
	assert.Contains(t, names, DefaultName)
}

func TestCallReply(t *testing.T) {
	t.Parallel()

	call := newCall(ops.Background(), ops.NewRequest(ops.Getattr, "/"))
	call.Reply(3)
	assert.Equal(t, 3, <-call.reply)
}
