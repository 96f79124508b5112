package vfs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

func acct(f *FS) *Accounting { return f.Root().(*Dir).Accounting() }

func TestByteQuotaBlocksMutation(t *testing.T) {
	f := NewMemFS(100, 0)
	ctx := ops.Background()

	h, err := f.Create(ctx, "/f", os.O_WRONLY, 0644)
	require.NoError(t, err)
	n, err := f.Write(ctx, "/f", make([]byte, 100), 0, h)
	require.NoError(t, err)
	require.Equal(t, 100, n)
	assert.Equal(t, int64(100), acct(f).Bytes())

	// One byte over quota: the write fails and nothing changes.
	_, err = f.Write(ctx, "/f", []byte("x"), 100, h)
	assert.ErrorIs(t, err, errno.ENOSPC)
	assert.Equal(t, int64(100), acct(f).Bytes())

	var st ops.Stat
	require.NoError(t, f.Getattr(ctx, "/f", &st))
	assert.Equal(t, int64(100), st.Size)

	assert.ErrorIs(t, f.Truncate(ctx, "/f", 150), errno.ENOSPC)
	require.NoError(t, f.Truncate(ctx, "/f", 40))
	assert.Equal(t, int64(40), acct(f).Bytes())
}

func TestNodeQuota(t *testing.T) {
	f := NewMemFS(0, 2)
	ctx := ops.Background()

	writeFile(t, f, "/a", "1")
	writeFile(t, f, "/b", "2")
	assert.Equal(t, int64(2), acct(f).Nodes())

	_, err := f.Create(ctx, "/c", os.O_WRONLY, 0644)
	assert.ErrorIs(t, err, errno.ENOSPC)
	assert.ErrorIs(t, f.Mkdir(ctx, "/d", 0755), errno.ENOSPC)
	assert.ErrorIs(t, f.Symlink(ctx, "target", "/s"), errno.ENOSPC)
	assert.Equal(t, int64(2), acct(f).Nodes())

	require.NoError(t, f.Unlink(ctx, "/a"))
	assert.Equal(t, int64(1), acct(f).Nodes())
	require.NoError(t, f.Mkdir(ctx, "/d", 0755))
	assert.Equal(t, int64(2), acct(f).Nodes())
}

func TestUnlinkReleasesSpace(t *testing.T) {
	f := NewMemFS(1000, 0)
	ctx := ops.Background()

	writeFile(t, f, "/big", string(make([]byte, 600)))
	assert.Equal(t, int64(600), acct(f).Bytes())

	require.NoError(t, f.Unlink(ctx, "/big"))
	assert.Equal(t, int64(0), acct(f).Bytes())

	writeFile(t, f, "/bigger", string(make([]byte, 800)))
	assert.Equal(t, int64(800), acct(f).Bytes())
}

func TestHardLinkChargesOnce(t *testing.T) {
	f := NewMemFS(0, 0)
	ctx := ops.Background()

	writeFile(t, f, "/a", "data")
	assert.Equal(t, int64(1), acct(f).Nodes())
	assert.Equal(t, int64(4), acct(f).Bytes())

	require.NoError(t, f.Link(ctx, "/a", "/b"))
	assert.Equal(t, int64(1), acct(f).Nodes())
	assert.Equal(t, int64(4), acct(f).Bytes())

	// Dropping one of two names releases nothing.
	require.NoError(t, f.Unlink(ctx, "/a"))
	assert.Equal(t, int64(1), acct(f).Nodes())
	assert.Equal(t, int64(4), acct(f).Bytes())

	// Dropping the last name releases the node and its bytes.
	require.NoError(t, f.Unlink(ctx, "/b"))
	assert.Equal(t, int64(0), acct(f).Nodes())
	assert.Equal(t, int64(0), acct(f).Bytes())
}

func TestRenameIsAccountingNeutral(t *testing.T) {
	f := NewMemFS(0, 0)
	ctx := ops.Background()

	writeFile(t, f, "/a", "data")
	before := acct(f).Nodes()
	bytesBefore := acct(f).Bytes()

	require.NoError(t, f.Rename(ctx, "/a", "/b"))
	assert.Equal(t, before, acct(f).Nodes())
	assert.Equal(t, bytesBefore, acct(f).Bytes())
}

func TestStatfsQuota(t *testing.T) {
	f := NewMemFS(8192, 10)
	ctx := ops.Background()
	writeFile(t, f, "/f", string(make([]byte, 4096)))

	var st ops.Statvfs
	require.NoError(t, f.Statfs(ctx, "/", &st))
	assert.Equal(t, uint64(BlockSize), st.Bsize)
	assert.Equal(t, uint64(2), st.Blocks)
	assert.Equal(t, uint64(1), st.Bfree)
	assert.Equal(t, uint64(1), st.Bavail)
	assert.Equal(t, uint64(10), st.Files)
	assert.Equal(t, uint64(9), st.Ffree)
	assert.Equal(t, uint64(255), st.Namemax)
}

func TestStatfsSentinel(t *testing.T) {
	// Non-positive maxima report a fixed free amount instead of a quota.
	f := NewMemFS(-8192, -5)
	ctx := ops.Background()
	writeFile(t, f, "/f", string(make([]byte, 4096)))

	var st ops.Statvfs
	require.NoError(t, f.Statfs(ctx, "/", &st))
	assert.Equal(t, uint64(2), st.Bfree)
	assert.Equal(t, uint64(3), st.Blocks)
	assert.Equal(t, uint64(5), st.Ffree)
	assert.Equal(t, uint64(6), st.Files)

	// A sub-path without its own statfs inherits the root's numbers.
	var sub ops.Statvfs
	require.NoError(t, f.Statfs(ctx, "/f", &sub))
	assert.Equal(t, st, sub)
}

func TestAdjustClampAndAtomicity(t *testing.T) {
	a := NewAccounting(100, 2)

	require.NoError(t, a.Adjust(60, 1, true))
	assert.ErrorIs(t, a.Adjust(50, 1, true), errno.ENOSPC)
	assert.Equal(t, int64(60), a.Bytes())
	assert.Equal(t, int64(1), a.Nodes())

	// Bytes fit but the node side would overflow: nothing moves.
	require.NoError(t, a.Adjust(0, 1, true))
	assert.ErrorIs(t, a.Adjust(10, 1, true), errno.ENOSPC)
	assert.Equal(t, int64(60), a.Bytes())
	assert.Equal(t, int64(2), a.Nodes())

	// Non-strict adjustments bypass the quota.
	require.NoError(t, a.Adjust(1000, 5, false))
	assert.Equal(t, int64(1060), a.Bytes())

	// Totals clamp at zero.
	require.NoError(t, a.Adjust(-5000, -50, false))
	assert.Equal(t, int64(0), a.Bytes())
	assert.Equal(t, int64(0), a.Nodes())
}
