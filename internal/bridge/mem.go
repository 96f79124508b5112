package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/fusekit/fusekit/pkg/ops"
)

func init() {
	Register("mem", func() Backend { return NewMem() })
}

// Mem is an in-process backend. Nothing touches the kernel: tests and
// embedders inject requests with Do and the session run loop serves them
// exactly as it would serve kernel traffic.
type Mem struct {
	mu   sync.Mutex
	conn *MemConn
}

// NewMem returns an unmounted in-process backend.
func NewMem() *Mem { return &Mem{} }

func (m *Mem) Name() string { return "mem" }

// Mount opens a connection. The mountpoint is recorded but otherwise
// unused.
func (m *Mem) Mount(_ context.Context, mountpoint string, caps ops.Set, opts *MountOptions) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil && !m.conn.closed() {
		return nil, fmt.Errorf("bridge: mem backend already mounted at %s", m.conn.mountpoint)
	}
	if opts == nil {
		opts = NewMountOptions()
	}
	m.conn = &MemConn{
		queue:      newQueue(queueDepth),
		mountpoint: mountpoint,
		caps:       caps,
		opts:       opts,
	}
	return m.conn, nil
}

// Conn returns the connection from the most recent Mount, or nil.
func (m *Mem) Conn() *MemConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// MemConn is the in-process connection handed out by Mem.
type MemConn struct {
	*queue
	mountpoint string
	caps       ops.Set
	opts       *MountOptions
}

// Do injects one request and blocks until the run loop replies. A nil
// caller context runs with the process identity. After Close it returns
// -EIO like any other connection.
func (c *MemConn) Do(octx *ops.Context, req *ops.Request) int {
	if octx == nil {
		octx = ops.Background()
	}
	return c.submit(octx, req)
}

// Caps reports the operation set the session advertised at mount.
func (c *MemConn) Caps() ops.Set { return c.caps }

// Mountpoint reports where the connection was nominally mounted.
func (c *MemConn) Mountpoint() string { return c.mountpoint }

func (c *MemConn) Close() error {
	c.shutdown()
	return nil
}

func (c *MemConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
