package session

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configureFS mounts like echoFS and additionally hooks the setup step
// Main runs between Mount and Run.
type configureFS struct {
	echoFS
	configure func(s *Session) error
}

func (c *configureFS) Configure(s *Session) error { return c.configure(s) }

func TestMain_VersionAndHelp(t *testing.T) {
	assert.Equal(t, 0, Main([]string{"fusekit-test", "--version"}, nil))
	assert.Equal(t, 0, Main([]string{"fusekit-test", "-h"}, nil))
}

func TestMain_BadUsage(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"no args at all", nil},
		{"missing mountpoint", []string{"fusekit-test"}},
		{"extra argument", []string{"fusekit-test", "/a", "/b"}},
		{"unknown flag", []string{"fusekit-test", "--no-such-flag", "/a"}},
		{"bad mount option", []string{"fusekit-test", "-o", "max_write=", t.TempDir()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, 2, Main(tc.args, &echoFS{}))
		})
	}
}

func TestMain_UnknownBridge(t *testing.T) {
	code := Main([]string{"fusekit-test", "--bridge", "no-such-backend", t.TempDir()}, &echoFS{})
	assert.Equal(t, 2, code)
}

func TestMain_MountFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	code := Main([]string{"fusekit-test", "--bridge", "mem", missing}, &echoFS{})
	assert.Equal(t, 2, code)
}

func TestMain_ConfigureFailure(t *testing.T) {
	fsys := &configureFS{
		configure: func(*Session) error { return errors.New("no credentials") },
	}
	code := Main([]string{"fusekit-test", "--bridge", "mem", t.TempDir()}, fsys)
	assert.Equal(t, 3, code)

	_, destroyed, _ := fsys.snapshot()
	assert.True(t, destroyed, "a failed configure still tears down")
}

func TestMain_ConfigureExit(t *testing.T) {
	// Exit during configure ends the run loop as soon as it starts, so
	// Main completes a full clean lifecycle.
	fsys := &configureFS{
		configure: func(s *Session) error {
			s.Exit()
			return nil
		},
	}
	code := Main([]string{"fusekit-test", "--bridge", "mem", "-s", t.TempDir()}, fsys)
	require.Equal(t, 0, code)

	inited, destroyed, _ := fsys.snapshot()
	assert.True(t, inited)
	assert.True(t, destroyed)
}

func TestStringList(t *testing.T) {
	var l stringList
	require.NoError(t, l.Set("rw"))
	require.NoError(t, l.Set("max_write=65536"))
	assert.Equal(t, []string{"rw", "max_write=65536"}, []string(l))
	assert.Equal(t, "rw,max_write=65536", l.String())
}
