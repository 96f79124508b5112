// Package cache provides the in-memory read cache the object store
// layers in front of its backend. Entries are whole objects keyed by
// store key, evicted least-recently-used when the byte or entry cap is
// exceeded, and expired lazily against a TTL.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config bounds the cache. Zero values take the defaults.
type Config struct {
	// MaxSize caps the summed object bytes held.
	MaxSize int64 `yaml:"max_size"`

	// MaxEntries caps the object count. Zero means no count cap.
	MaxEntries int `yaml:"max_entries"`

	// TTL expires entries after this long. Zero disables expiry.
	TTL time.Duration `yaml:"ttl"`
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Size      int64   `json:"size"`
	Entries   int     `json:"entries"`
	Capacity  int64   `json:"capacity"`
	HitRate   float64 `json:"hit_rate"`
}

type item struct {
	key     string
	data    []byte
	stored  time.Time
	element *list.Element
}

// LRU is a thread-safe least-recently-used object cache. Get returns a
// copy and Put stores one, so callers may mutate their buffers freely.
type LRU struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[string]*item
	evictList *list.List
	config    Config

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewLRU builds a cache. A nil config takes the defaults: 256 MiB,
// 4096 entries, one minute TTL.
func NewLRU(config *Config) *LRU {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 256 << 20
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	return &LRU{
		capacity:  cfg.MaxSize,
		items:     make(map[string]*item),
		evictList: list.New(),
		config:    cfg,
	}
}

// Get returns a copy of the cached object, or nil and false on a miss.
// An expired entry counts as a miss and is removed.
func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.expired(it) {
		c.remove(it)
		c.misses++
		return nil, false
	}

	c.evictList.MoveToFront(it.element)
	c.hits++

	out := make([]byte, len(it.data))
	copy(out, it.data)
	return out, true
}

// Put stores a copy of data under key, replacing any previous entry.
// Objects larger than the cache capacity are not stored.
func (c *LRU) Put(key string, data []byte) {
	size := int64(len(data))
	if size > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if it, ok := c.items[key]; ok {
		c.size += size - int64(len(it.data))
		it.data = append([]byte(nil), data...)
		it.stored = time.Now()
		c.evictList.MoveToFront(it.element)
		c.evictIfNeeded()
		return
	}

	it := &item{
		key:    key,
		data:   append([]byte(nil), data...),
		stored: time.Now(),
	}
	it.element = c.evictList.PushFront(it)
	c.items[key] = it
	c.size += size

	c.evictIfNeeded()
}

// Delete removes the entry for key if present.
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok {
		c.remove(it)
	}
}

// Clear empties the cache. Counters keep accumulating.
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions += uint64(len(c.items))
	c.items = make(map[string]*item)
	c.evictList.Init()
	c.size = 0
}

// Size returns the summed bytes currently held.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the entry count.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the counters.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.size,
		Entries:   len(c.items),
		Capacity:  c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *LRU) expired(it *item) bool {
	if c.config.TTL <= 0 {
		return false
	}
	return time.Since(it.stored) > c.config.TTL
}

func (c *LRU) remove(it *item) {
	c.evictList.Remove(it.element)
	delete(c.items, it.key)
	c.size -= int64(len(it.data))
	c.evictions++
}

func (c *LRU) evictIfNeeded() {
	for c.size > c.capacity && c.evictList.Len() > 0 {
		c.evictOldest()
	}
	if max := c.config.MaxEntries; max > 0 {
		for len(c.items) > max && c.evictList.Len() > 0 {
			c.evictOldest()
		}
	}
}

func (c *LRU) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.remove(element.Value.(*item))
}
