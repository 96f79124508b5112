package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestNewLRU(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		verify func(t *testing.T, c *LRU)
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
			verify: func(t *testing.T, c *LRU) {
				if c.capacity != 256<<20 {
					t.Errorf("expected default capacity 256MiB, got %d", c.capacity)
				}
				if c.config.TTL != time.Minute {
					t.Errorf("expected default TTL 1m, got %v", c.config.TTL)
				}
				if c.config.MaxEntries != 4096 {
					t.Errorf("expected default max entries 4096, got %d", c.config.MaxEntries)
				}
			},
		},
		{
			name:   "custom config applied",
			config: &Config{MaxSize: 1 << 20, MaxEntries: 10, TTL: time.Hour},
			verify: func(t *testing.T, c *LRU) {
				if c.capacity != 1<<20 {
					t.Errorf("expected capacity 1MiB, got %d", c.capacity)
				}
				if c.config.MaxEntries != 10 {
					t.Errorf("expected max entries 10, got %d", c.config.MaxEntries)
				}
			},
		},
		{
			name:   "negative entry cap disables count eviction",
			config: &Config{MaxEntries: -1},
			verify: func(t *testing.T, c *LRU) {
				if c.config.MaxEntries != -1 {
					t.Errorf("expected max entries -1, got %d", c.config.MaxEntries)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewLRU(tt.config)
			if c == nil {
				t.Fatal("NewLRU returned nil")
			}
			if c.items == nil || c.evictList == nil {
				t.Fatal("cache internals not initialized")
			}
			tt.verify(t, c)
		})
	}
}

func TestLRU_PutGet(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, MaxEntries: 100, TTL: time.Hour})

	data := []byte("object body")
	c.Put("a", data)

	got, ok := c.Get("a")
	if !ok {
		t.Fatal("expected hit for stored key")
	}
	if string(got) != "object body" {
		t.Errorf("got %q, want %q", got, "object body")
	}

	// The cache must hold its own copy in both directions.
	data[0] = 'X'
	got2, _ := c.Get("a")
	if string(got2) != "object body" {
		t.Errorf("caller mutation leaked into cache: %q", got2)
	}
	got2[0] = 'Y'
	got3, _ := c.Get("a")
	if string(got3) != "object body" {
		t.Errorf("returned slice aliases cache storage: %q", got3)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestLRU_Replace(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, TTL: time.Hour})

	c.Put("k", []byte("short"))
	c.Put("k", []byte("a longer replacement body"))

	got, ok := c.Get("k")
	if !ok || string(got) != "a longer replacement body" {
		t.Fatalf("got %q, %v", got, ok)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 entry after replace, got %d", c.Len())
	}
	if c.Size() != int64(len("a longer replacement body")) {
		t.Errorf("size = %d, want replacement length", c.Size())
	}
}

func TestLRU_EvictBySize(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 30, MaxEntries: 100, TTL: time.Hour})

	c.Put("a", make([]byte, 10))
	c.Put("b", make([]byte, 10))
	c.Put("c", make([]byte, 10))

	// Touch "a" so "b" is the oldest.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit for a")
	}

	c.Put("d", make([]byte, 10))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	for _, key := range []string{"a", "c", "d"} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("expected %q to survive eviction", key)
		}
	}
	if c.Size() > 30 {
		t.Errorf("size %d exceeds capacity", c.Size())
	}
}

func TestLRU_EvictByCount(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, MaxEntries: 2, TTL: time.Hour})

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))
	c.Put("c", []byte("3"))

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
}

func TestLRU_OversizedObject(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 10, TTL: time.Hour})

	c.Put("big", make([]byte, 11))
	if _, ok := c.Get("big"); ok {
		t.Error("object larger than capacity must not be stored")
	}
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("cache should stay empty, len=%d size=%d", c.Len(), c.Size())
	}
}

func TestLRU_TTLExpiry(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, TTL: 10 * time.Millisecond})

	c.Put("k", []byte("v"))
	if _, ok := c.Get("k"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expected miss after TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed, len=%d", c.Len())
	}
}

func TestLRU_TTLDisabled(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, TTL: -1})

	c.Put("k", []byte("v"))
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Error("negative TTL should disable expiry")
	}
}

func TestLRU_DeleteAndClear(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, TTL: time.Hour})

	c.Put("a", []byte("1"))
	c.Put("b", []byte("2"))

	c.Delete("a")
	c.Delete("a") // absent delete is a no-op
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key should miss")
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}

	c.Clear()
	if c.Len() != 0 || c.Size() != 0 {
		t.Errorf("clear left len=%d size=%d", c.Len(), c.Size())
	}
	if _, ok := c.Get("b"); ok {
		t.Error("cleared key should miss")
	}
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, MaxEntries: 100, TTL: time.Hour})

	c.Put("a", []byte("12345"))
	c.Get("a")
	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.Hits != 2 {
		t.Errorf("hits = %d, want 2", s.Hits)
	}
	if s.Misses != 1 {
		t.Errorf("misses = %d, want 1", s.Misses)
	}
	if s.Size != 5 || s.Entries != 1 {
		t.Errorf("size=%d entries=%d, want 5/1", s.Size, s.Entries)
	}
	if s.HitRate < 0.66 || s.HitRate > 0.67 {
		t.Errorf("hit rate = %v, want ~2/3", s.HitRate)
	}
}

func TestLRU_Concurrent(t *testing.T) {
	c := NewLRU(&Config{MaxSize: 1 << 20, MaxEntries: 64, TTL: time.Hour})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("key-%d", i%32)
				switch i % 3 {
				case 0:
					c.Put(key, []byte(key))
				case 1:
					if data, ok := c.Get(key); ok && string(data) != key {
						t.Errorf("got %q for %q", data, key)
					}
				default:
					c.Delete(key)
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 64 {
		t.Errorf("entry cap exceeded: %d", c.Len())
	}
}
