package vfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// memStore is an in-memory ObjectStore for tests.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore(seed map[string]string) *memStore {
	s := &memStore{objects: make(map[string][]byte)}
	for k, v := range seed {
		s.objects[k] = []byte(v)
	}
	return s
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %q: %w", key, fs.ErrNotExist)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *memStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[key] = stored
	return nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("delete %q: %w", key, fs.ErrNotExist)
	}
	delete(s.objects, key)
	return nil
}

func (s *memStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var infos []ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{Key: key, Size: int64(len(data)), ModTime: time.Now()})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func objectFS(seed map[string]string) (*FS, *memStore) {
	ctx := ops.Background()
	store := newMemStore(seed)
	f := NewMemFS(0, 0)
	root := f.Root().(*Dir)
	if err := root.Put(ctx, "objects", NewObjectDir(ctx, store, "")); err != nil {
		panic(err)
	}
	return f, store
}

func TestObjectGetattr(t *testing.T) {
	f, _ := objectFS(map[string]string{
		"top.txt":      "abc",
		"docs/a.txt":   "aaaa",
		"docs/s/b.txt": "b",
	})
	ctx := ops.Background()

	var st ops.Stat
	require.NoError(t, f.Getattr(ctx, "/objects", &st))
	assert.True(t, st.IsDir())

	require.NoError(t, f.Getattr(ctx, "/objects/top.txt", &st))
	assert.True(t, st.IsRegular())
	assert.Equal(t, int64(3), st.Size)

	// Virtual directory implied by deeper keys.
	require.NoError(t, f.Getattr(ctx, "/objects/docs", &st))
	assert.True(t, st.IsDir())
	require.NoError(t, f.Getattr(ctx, "/objects/docs/s", &st))
	assert.True(t, st.IsDir())

	assert.ErrorIs(t, f.Getattr(ctx, "/objects/missing", &st), errno.ENOENT)
}

func TestObjectReaddir(t *testing.T) {
	f, _ := objectFS(map[string]string{
		"top.txt":      "abc",
		"docs/a.txt":   "aaaa",
		"docs/s/b.txt": "b",
	})

	assert.Equal(t, []string{".", "..", "docs", "top.txt"}, listNames(t, f, "/objects"))
	assert.Equal(t, []string{".", "..", "a.txt", "s"}, listNames(t, f, "/objects/docs"))
	assert.Equal(t, []string{".", "..", "b.txt"}, listNames(t, f, "/objects/docs/s"))
}

func TestObjectReadWrite(t *testing.T) {
	f, store := objectFS(map[string]string{"note.txt": "before"})
	ctx := ops.Background()

	assert.Equal(t, "before", readFile(t, f, "/objects/note.txt"))

	// Writes stay local until the handle is flushed.
	h, err := f.Open(ctx, "/objects/note.txt", os.O_RDWR)
	require.NoError(t, err)
	_, err = f.Write(ctx, "/objects/note.txt", []byte("after!"), 0, h)
	require.NoError(t, err)
	data, err := store.Get(context.Background(), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "before", string(data))

	require.NoError(t, f.Flush(ctx, "/objects/note.txt", h))
	data, err = store.Get(context.Background(), "note.txt")
	require.NoError(t, err)
	assert.Equal(t, "after!", string(data))
	require.NoError(t, f.Release(ctx, "/objects/note.txt", h))
}

func TestObjectCreateWritesBack(t *testing.T) {
	f, store := objectFS(nil)

	writeFile(t, f, "/objects/new/deep.txt", "fresh")

	data, err := store.Get(context.Background(), "new/deep.txt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	assert.Equal(t, "fresh", readFile(t, f, "/objects/new/deep.txt"))
}

func TestObjectMkdirRmdir(t *testing.T) {
	f, store := objectFS(map[string]string{"docs/a.txt": "x"})
	ctx := ops.Background()

	require.NoError(t, f.Mkdir(ctx, "/objects/newdir", 0755))
	var st ops.Stat
	require.NoError(t, f.Getattr(ctx, "/objects/newdir", &st))
	assert.True(t, st.IsDir())
	_, err := store.Get(context.Background(), "newdir/")
	require.NoError(t, err)

	assert.ErrorIs(t, f.Mkdir(ctx, "/objects/newdir", 0755), errno.EEXIST)
	assert.ErrorIs(t, f.Rmdir(ctx, "/objects/docs"), errno.ENOTEMPTY)

	require.NoError(t, f.Rmdir(ctx, "/objects/newdir"))
	assert.ErrorIs(t, f.Getattr(ctx, "/objects/newdir", &st), errno.ENOENT)
}

func TestObjectUnlink(t *testing.T) {
	f, store := objectFS(map[string]string{"a.txt": "x", "docs/b.txt": "y"})
	ctx := ops.Background()

	require.NoError(t, f.Unlink(ctx, "/objects/a.txt"))
	_, err := store.Get(context.Background(), "a.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	assert.ErrorIs(t, f.Unlink(ctx, "/objects/docs"), errno.EISDIR)
	assert.ErrorIs(t, f.Unlink(ctx, "/objects/gone"), errno.ENOENT)
}

func TestObjectTruncate(t *testing.T) {
	f, store := objectFS(map[string]string{"t.txt": "0123456789"})
	ctx := ops.Background()

	require.NoError(t, f.Truncate(ctx, "/objects/t.txt", 4))
	data, err := store.Get(context.Background(), "t.txt")
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestObjectRenameIsCrossDevice(t *testing.T) {
	f, _ := objectFS(map[string]string{"a.txt": "x"})
	ctx := ops.Background()
	writeFile(t, f, "/local.txt", "y")

	assert.ErrorIs(t, f.Rename(ctx, "/objects/a.txt", "/elsewhere.txt"), errno.EXDEV)
	assert.ErrorIs(t, f.Rename(ctx, "/local.txt", "/objects/b.txt"), errno.EXDEV)
}
