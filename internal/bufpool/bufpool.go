// Package bufpool recycles the payload buffers the bridge backends use
// for read and write data, keeping per-request allocations off the GC.
package bufpool

import "sync"

// Bucket sizes cover the payload range FUSE requests actually carry:
// small metadata reads up to the largest negotiated write size.
var sizes = []int{
	4 << 10,
	16 << 10,
	64 << 10,
	128 << 10,
	512 << 10,
	1 << 20,
}

// Pool hands out byte slices from size-bucketed free lists.
type Pool struct {
	buckets []*sync.Pool
}

// New builds an empty pool.
func New() *Pool {
	p := &Pool{buckets: make([]*sync.Pool, len(sizes))}
	for i, size := range sizes {
		size := size
		p.buckets[i] = &sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		}
	}
	return p
}

// Get returns a slice of the requested length. Contents are
// unspecified; callers overwrite before use. Requests above the largest
// bucket are allocated directly.
func (p *Pool) Get(size int) []byte {
	for i, bucket := range sizes {
		if size <= bucket {
			buf := *p.buckets[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Slices whose capacity matches
// no bucket are left to the GC.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	c := cap(buf)
	for i, bucket := range sizes {
		if c == bucket {
			full := buf[:c]
			p.buckets[i].Put(&full)
			return
		}
	}
}

var std = New()

// Get hands out a slice from the shared pool.
func Get(size int) []byte { return std.Get(size) }

// Put returns a slice to the shared pool.
func Put(buf []byte) { std.Put(buf) }
