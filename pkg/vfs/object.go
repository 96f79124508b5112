package vfs

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fusekit/fusekit/pkg/adapter"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
	"github.com/fusekit/fusekit/pkg/pool"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ObjectStore is the blob interface ObjectDir mirrors into the tree.
// Implementations report missing keys with an error satisfying
// errors.Is(err, fs.ErrNotExist) so the errno layer maps them to ENOENT.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// busy runs fn inside the pool busy signal, collecting its error.
func busy(ctx *ops.Context, fn func() error) error {
	var err error
	pool.Busy(ctx.Context(), func() { err = fn() })
	return err
}

// storeErr maps store failures onto errnos: missing keys become ENOENT,
// anything else unrecognized becomes EIO.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return errno.FromError(err, errno.EIO)
}

var objectCaps = ops.NewSet(
	ops.Getattr, ops.Mkdir, ops.Unlink, ops.Rmdir, ops.Truncate,
	ops.Open, ops.Create, ops.Read, ops.Write,
	ops.Flush, ops.Release, ops.Fsync, ops.Readdir,
)

// ObjectDir mirrors a key prefix of an object store as a directory
// subtree. Slashes in keys form virtual directories; a key with a
// trailing slash acts as an explicit directory marker. Objects are
// loaded lazily on first access and written back when a dirty handle is
// flushed or released.
//
// Like Passthrough, the subtree is opaque to link and rename.
type ObjectDir struct {
	Base

	store  ObjectStore
	prefix string
	attr   Attr
}

var _ Node = (*ObjectDir)(nil)

// NewObjectDir builds a node mirroring store under the given key
// prefix. An empty prefix mirrors the whole store; a non-empty prefix
// must end in a slash.
func NewObjectDir(ctx *ops.Context, store ObjectStore, prefix string) *ObjectDir {
	return &ObjectDir{
		store:  store,
		prefix: prefix,
		attr:   newAttr(ctx, 0755),
	}
}

func (o *ObjectDir) Caps() ops.Set { return objectCaps }

// key maps a tree path to the store key for it.
func (o *ObjectDir) key(path string) string {
	return o.prefix + strings.TrimPrefix(path, "/")
}

// stat resolves one key to either an object or a virtual directory.
func (o *ObjectDir) stat(ctx *ops.Context, key string) (info *ObjectInfo, dir bool, err error) {
	var infos []ObjectInfo
	if err := busy(ctx, func() error {
		var err error
		infos, err = o.store.List(ctx.Context(), key)
		return err
	}); err != nil {
		return nil, false, storeErr(err)
	}
	for i := range infos {
		switch {
		case infos[i].Key == key:
			return &infos[i], false, nil
		case infos[i].Key == key+"/" || strings.HasPrefix(infos[i].Key, key+"/"):
			return nil, true, nil
		}
	}
	return nil, false, errno.ENOENT
}

func (o *ObjectDir) fillObject(st *ops.Stat, info *ObjectInfo) {
	st.Mode = ops.S_IFREG | 0644
	st.Nlink = 1
	st.Uid = o.attr.UID
	st.Gid = o.attr.GID
	st.Size = info.Size
	st.Blksize = BlockSize
	st.Blocks = (info.Size + 511) / 512
	ts := ops.NewTimespec(info.ModTime)
	st.Atim, st.Mtim, st.Ctim = ts, ts, ts
}

func (o *ObjectDir) Getattr(ctx *ops.Context, path string, st *ops.Stat) error {
	if isRoot(path) {
		o.attr.fill(st, ops.S_IFDIR, 0, 2)
		return nil
	}
	info, dir, err := o.stat(ctx, o.key(path))
	if err != nil {
		return err
	}
	if dir {
		o.attr.fill(st, ops.S_IFDIR, 0, 2)
		return nil
	}
	o.fillObject(st, info)
	return nil
}

func (o *ObjectDir) Mkdir(ctx *ops.Context, path string, mode uint32) error {
	key := o.key(path)
	if _, _, err := o.stat(ctx, key); err == nil {
		return errno.EEXIST
	}
	return storeErr(busy(ctx, func() error { return o.store.Put(ctx.Context(), key+"/", nil) }))
}

func (o *ObjectDir) Unlink(ctx *ops.Context, path string) error {
	key := o.key(path)
	_, dir, err := o.stat(ctx, key)
	if err != nil {
		return err
	}
	if dir {
		return errno.EISDIR
	}
	return storeErr(busy(ctx, func() error { return o.store.Delete(ctx.Context(), key) }))
}

func (o *ObjectDir) Rmdir(ctx *ops.Context, path string) error {
	if isRoot(path) {
		return errno.EBUSY
	}
	key := o.key(path)
	_, dir, err := o.stat(ctx, key)
	if err != nil {
		return err
	}
	if !dir {
		return errno.ENOTDIR
	}
	var infos []ObjectInfo
	if err := busy(ctx, func() error {
		var err error
		infos, err = o.store.List(ctx.Context(), key+"/")
		return err
	}); err != nil {
		return storeErr(err)
	}
	for _, info := range infos {
		if info.Key != key+"/" {
			return errno.ENOTEMPTY
		}
	}
	return storeErr(busy(ctx, func() error { return o.store.Delete(ctx.Context(), key+"/") }))
}

func (o *ObjectDir) Truncate(ctx *ops.Context, path string, size int64) error {
	key := o.key(path)
	var data []byte
	if err := busy(ctx, func() error {
		var err error
		data, err = o.store.Get(ctx.Context(), key)
		return err
	}); err != nil {
		return storeErr(err)
	}
	data = resizeBytes(data, size)
	return storeErr(busy(ctx, func() error { return o.store.Put(ctx.Context(), key, data) }))
}

func (o *ObjectDir) Open(ctx *ops.Context, path string, flags int) (interface{}, error) {
	key := o.key(path)
	_, dir, err := o.stat(ctx, key)
	if err != nil {
		return nil, err
	}
	if dir {
		return nil, errno.EISDIR
	}
	h := &objectHandle{store: o.store, key: key}
	if flags&os.O_TRUNC != 0 {
		h.data = []byte{}
		h.loaded = true
		h.dirty = true
	}
	return h, nil
}

func (o *ObjectDir) Create(ctx *ops.Context, path string, flags int, mode uint32) (interface{}, error) {
	key := o.key(path)
	if flags&os.O_EXCL != 0 {
		if _, _, err := o.stat(ctx, key); err == nil {
			return nil, errno.EEXIST
		}
	}
	h := &objectHandle{store: o.store, key: key}
	h.data = []byte{}
	h.loaded = true
	h.dirty = true
	return h, nil
}

func objHandle(h interface{}) (*objectHandle, error) {
	oh, ok := h.(*objectHandle)
	if !ok || oh == nil {
		return nil, errno.EBADF
	}
	return oh, nil
}

func (o *ObjectDir) Read(ctx *ops.Context, path string, dest []byte, off int64, h interface{}) (int, error) {
	oh, err := objHandle(h)
	if err != nil {
		return 0, err
	}
	var n int
	err = busy(ctx, func() error {
		var err error
		n, err = oh.readAt(ctx.Context(), dest, off)
		return err
	})
	return n, storeErr(err)
}

func (o *ObjectDir) Write(ctx *ops.Context, path string, data []byte, off int64, h interface{}) (int, error) {
	oh, err := objHandle(h)
	if err != nil {
		return 0, err
	}
	var n int
	err = busy(ctx, func() error {
		var err error
		n, err = oh.writeAt(ctx.Context(), data, off)
		return err
	})
	return n, storeErr(err)
}

func (o *ObjectDir) Flush(ctx *ops.Context, path string, h interface{}) error {
	oh, err := objHandle(h)
	if err != nil {
		return nil
	}
	return storeErr(busy(ctx, func() error { return oh.flush(ctx.Context()) }))
}

func (o *ObjectDir) Release(ctx *ops.Context, path string, h interface{}) error {
	oh, err := objHandle(h)
	if err != nil {
		return nil
	}
	return storeErr(busy(ctx, func() error { return oh.flush(ctx.Context()) }))
}

func (o *ObjectDir) Fsync(ctx *ops.Context, path string, datasync bool, h interface{}) error {
	return o.Flush(ctx, path, h)
}

func (o *ObjectDir) Readdir(ctx *ops.Context, path string, fill *adapter.DirFiller, off int64, h interface{}) error {
	prefix := o.prefix
	if !isRoot(path) {
		_, dir, err := o.stat(ctx, o.key(path))
		if err != nil {
			return err
		}
		if !dir {
			return errno.ENOTDIR
		}
		prefix = o.key(path) + "/"
	}

	var infos []ObjectInfo
	if err := busy(ctx, func() error {
		var err error
		infos, err = o.store.List(ctx.Context(), prefix)
		return err
	}); err != nil {
		return storeErr(err)
	}

	type entry struct {
		info *ObjectInfo
		dir  bool
	}
	entries := make(map[string]entry)
	for i := range infos {
		rel := strings.TrimPrefix(infos[i].Key, prefix)
		if rel == "" {
			continue
		}
		if j := strings.IndexByte(rel, '/'); j >= 0 {
			name := rel[:j]
			if name != "" {
				entries[name] = entry{dir: true}
			}
			continue
		}
		entries[rel] = entry{info: &infos[i]}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	if !fill.Fill(".", nil, 0) || !fill.Fill("..", nil, 0) {
		return nil
	}
	for _, name := range names {
		var st ops.Stat
		if e := entries[name]; e.dir {
			o.attr.fill(&st, ops.S_IFDIR, 0, 2)
		} else {
			o.fillObject(&st, e.info)
		}
		if !fill.Fill(name, &st, 0) {
			break
		}
	}
	return nil
}

// objectHandle is one open object: bytes loaded on first touch, written
// back on flush when dirty.
type objectHandle struct {
	store ObjectStore
	key   string

	mu     sync.Mutex
	data   []byte
	loaded bool
	dirty  bool
}

// load pulls the object in under h.mu.
func (h *objectHandle) load(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	data, err := h.store.Get(ctx, h.key)
	if err != nil {
		return err
	}
	h.data = data
	h.loaded = true
	return nil
}

func (h *objectHandle) readAt(ctx context.Context, dest []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.load(ctx); err != nil {
		return 0, err
	}
	if off >= int64(len(h.data)) {
		return 0, nil
	}
	return copy(dest, h.data[off:]), nil
}

func (h *objectHandle) writeAt(ctx context.Context, data []byte, off int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.load(ctx); err != nil {
		return 0, err
	}
	if need := off + int64(len(data)); need > int64(len(h.data)) {
		h.data = resizeBytes(h.data, need)
	}
	copy(h.data[off:], data)
	h.dirty = true
	return len(data), nil
}

// Truncate lets ftruncate work on the open handle.
func (h *objectHandle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.load(context.Background()); err != nil {
		return storeErr(err)
	}
	h.data = resizeBytes(h.data, size)
	h.dirty = true
	return nil
}

func (h *objectHandle) flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirty {
		return nil
	}
	if err := h.store.Put(ctx, h.key, h.data); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

// resizeBytes grows with zero fill or shrinks to size.
func resizeBytes(data []byte, size int64) []byte {
	switch {
	case size < int64(len(data)):
		return data[:size]
	case size > int64(len(data)):
		out := make([]byte, size)
		copy(out, data)
		return out
	}
	return data
}
