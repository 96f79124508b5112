package bufpool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetSizes(t *testing.T) {
	p := New()

	buf := p.Get(1000)
	assert.Len(t, buf, 1000)
	assert.Equal(t, 4<<10, cap(buf))

	buf = p.Get(64 << 10)
	assert.Len(t, buf, 64<<10)
	assert.Equal(t, 64<<10, cap(buf))

	// Above the largest bucket the pool allocates exactly.
	buf = p.Get(2 << 20)
	assert.Len(t, buf, 2<<20)
	assert.Equal(t, 2<<20, cap(buf))
}

func TestPutTolerates(t *testing.T) {
	p := New()
	p.Put(nil)
	p.Put(make([]byte, 100))    // no matching bucket
	p.Put(p.Get(8 << 10))       // bucket match
	p.Put(p.Get(3 << 20))       // oversize, left to GC
	assert.Len(t, p.Get(10), 10)
}

func TestConcurrentUse(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf := p.Get(512)
				buf[0] = byte(j)
				p.Put(buf)
			}
		}()
	}
	wg.Wait()
}

func TestSharedPool(t *testing.T) {
	buf := Get(100)
	assert.Len(t, buf, 100)
	Put(buf)
}
