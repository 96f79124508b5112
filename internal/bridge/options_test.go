package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMountOptions_Defaults(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()

	assert.Equal(t, "fusekit", o.FSName)
	assert.Equal(t, 128<<10, o.MaxWrite)
	assert.Equal(t, time.Second, o.AttrTimeout)
	assert.Equal(t, time.Second, o.EntryTimeout)
	assert.Zero(t, o.NegativeTimeout)
	assert.False(t, o.ReadOnly)
	assert.False(t, o.AllowOther)
}

func TestParse_Grammar(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()
	err := o.Parse("ro,allow_other,default_permissions,fsname=demo,subtype=mem,volname=Demo,max_write=65536,max_readahead=131072,attr_timeout=2.5,entry_timeout=1s,negative_timeout=0.5,nonempty,direct_io")
	require.NoError(t, err)

	assert.True(t, o.ReadOnly)
	assert.True(t, o.AllowOther)
	assert.True(t, o.DefaultPermissions)
	assert.True(t, o.DirectIO)
	assert.Equal(t, "demo", o.FSName)
	assert.Equal(t, "mem", o.Subtype)
	assert.Equal(t, "Demo", o.VolName)
	assert.Equal(t, 65536, o.MaxWrite)
	assert.Equal(t, 131072, o.MaxReadahead)
	assert.Equal(t, 2500*time.Millisecond, o.AttrTimeout)
	assert.Equal(t, time.Second, o.EntryTimeout)
	assert.Equal(t, 500*time.Millisecond, o.NegativeTimeout)
	assert.Equal(t, []string{"nonempty"}, o.Extra)
}

func TestParse_RwClearsRo(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()
	require.NoError(t, o.Parse("ro"))
	require.True(t, o.ReadOnly)
	require.NoError(t, o.Parse("rw"))
	assert.False(t, o.ReadOnly)
}

func TestParse_SkipsEmptySegments(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()
	require.NoError(t, o.Parse("ro,, allow_other ,"))
	assert.True(t, o.ReadOnly)
	assert.True(t, o.AllowOther)
	assert.Empty(t, o.Extra)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	bad := []string{
		"fsname",
		"fsname=",
		"subtype",
		"volname",
		"max_write",
		"max_write=abc",
		"max_write=-1",
		"max_readahead=12x",
		"attr_timeout=nope",
		"attr_timeout=-2",
		"entry_timeout=-1s",
	}
	for _, arg := range bad {
		o := NewMountOptions()
		assert.Error(t, o.Parse(arg), "Parse(%q)", arg)
	}
}

func TestTimeoutValue_Forms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		val  string
		want time.Duration
	}{
		{"2", 2 * time.Second},
		{"1.5", 1500 * time.Millisecond},
		{"0", 0},
		{"500ms", 500 * time.Millisecond},
		{"2m", 2 * time.Minute},
	}
	for _, tt := range tests {
		got, err := timeoutValue("attr_timeout", tt.val, true)
		require.NoError(t, err, "value %q", tt.val)
		assert.Equal(t, tt.want, got, "value %q", tt.val)
	}
}

func TestArgs_Roundtrip(t *testing.T) {
	t.Parallel()

	in := &MountOptions{
		FSName:          "demo",
		Subtype:         "mem",
		VolName:         "Demo",
		ReadOnly:        true,
		AllowOther:      true,
		Debug:           true,
		MaxWrite:        1 << 20,
		MaxReadahead:    1 << 16,
		AttrTimeout:     2 * time.Second,
		EntryTimeout:    time.Second,
		NegativeTimeout: 500 * time.Millisecond,
		Extra:           []string{"noatime"},
	}

	args := in.Args()
	require.NotEmpty(t, args)
	require.Zero(t, len(args)%2)

	out := &MountOptions{}
	for i := 0; i < len(args); i += 2 {
		require.Equal(t, "-o", args[i])
		require.NoError(t, out.Parse(args[i+1]))
	}
	assert.Equal(t, in, out)
}

func TestInitConn(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()
	o.MaxReadahead = 1 << 17
	ci := o.InitConn()

	assert.EqualValues(t, 7, ci.ProtoMajor)
	assert.EqualValues(t, 128<<10, ci.MaxWrite)
	assert.EqualValues(t, 1<<17, ci.MaxReadahead)
}

func TestInitConfig(t *testing.T) {
	t.Parallel()

	o := NewMountOptions()
	o.DirectIO = true
	o.AttrTimeout = 1500 * time.Millisecond
	cfg := o.InitConfig()

	assert.True(t, cfg.DirectIO)
	assert.False(t, cfg.KernelCache)
	assert.InDelta(t, 1.5, cfg.AttrTimeout, 1e-9)
	assert.InDelta(t, 1.0, cfg.EntryTimeout, 1e-9)
}
