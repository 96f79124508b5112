package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/ops"
)

func TestBuildFromMap(t *testing.T) {
	f := memFS()
	ctx := ops.Background()

	require.NoError(t, f.Build(map[string]interface{}{
		"etc": map[string]interface{}{
			"motd": "welcome\n",
		},
		"raw":   []byte{1, 2},
		"empty": nil,
	}))

	assert.Equal(t, "welcome\n", readFile(t, f, "/etc/motd"))
	assert.Equal(t, "\x01\x02", readFile(t, f, "/raw"))

	var st ops.Stat
	require.NoError(t, f.Getattr(ctx, "/empty", &st))
	assert.True(t, st.IsRegular())
	assert.Equal(t, int64(0), st.Size)

	assert.Equal(t, []string{".", "..", "empty", "etc", "raw"}, listNames(t, f, "/"))
	assert.Equal(t, int64(4), acct(f).Nodes())
	assert.Equal(t, int64(len("welcome\n")+2), acct(f).Bytes())
}

func TestBuildGraftsNodes(t *testing.T) {
	f := memFS()

	file := NewFile(ops.Background(), nil, 0600).SetContent([]byte("direct"))
	require.NoError(t, f.Build(map[string]interface{}{"n": file}))

	assert.Equal(t, "direct", readFile(t, f, "/n"))
}

func TestBuildRejectsBadInput(t *testing.T) {
	f := memFS()
	err := f.Build(map[string]interface{}{"x": 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported value")

	err = New(opaqueNode{}).Build(map[string]interface{}{"x": "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory root")
}

func TestBuildYAML(t *testing.T) {
	f := memFS()
	ctx := ops.Background()

	manifest := []byte(`
etc:
  motd: hello
var:
  log: {}
`)
	require.NoError(t, f.BuildYAML(manifest))

	assert.Equal(t, "hello", readFile(t, f, "/etc/motd"))

	var st ops.Stat
	require.NoError(t, f.Getattr(ctx, "/var/log", &st))
	assert.True(t, st.IsDir())
}

func TestBuildYAMLRejects(t *testing.T) {
	f := memFS()

	require.Error(t, f.BuildYAML([]byte("1: x\n")))
	require.Error(t, f.BuildYAML([]byte("k:\n  - a\n  - b\n")))
	require.Error(t, f.BuildYAML([]byte(":\tbad")))
}
