package vfs

import (
	"sync"

	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// BlockSize is the block granularity reported through statfs.
const BlockSize = 4096

// Accounting tracks space and node usage for a subtree. One instance is
// shared by every node under the same mount, so all adjustment happens
// under its lock.
//
// Maxima are interpreted two ways: a positive maximum is a quota, and
// statfs reports free capacity as max minus used; a non-positive maximum
// is a sentinel whose negation is reported as a fixed free amount
// regardless of usage. Quota enforcement only applies to strict
// adjustments.
type Accounting struct {
	mu    sync.Mutex
	bytes int64
	nodes int64

	maxBytes int64
	maxNodes int64
}

// NewAccounting builds a tracker. See the type comment for how the
// maxima are interpreted.
func NewAccounting(maxBytes, maxNodes int64) *Accounting {
	return &Accounting{maxBytes: maxBytes, maxNodes: maxNodes}
}

// Adjust applies a byte and node delta atomically. A strict adjustment
// that would push usage past a positive maximum fails with ENOSPC and
// changes nothing. Totals never go below zero.
func (a *Accounting) Adjust(bytes, nodes int64, strict bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if strict {
		if a.maxBytes > 0 && a.bytes+bytes > a.maxBytes {
			return errno.ENOSPC
		}
		if a.maxNodes > 0 && a.nodes+nodes > a.maxNodes {
			return errno.ENOSPC
		}
	}
	a.bytes += bytes
	if a.bytes < 0 {
		a.bytes = 0
	}
	a.nodes += nodes
	if a.nodes < 0 {
		a.nodes = 0
	}
	return nil
}

// Bytes returns the bytes in use.
func (a *Accounting) Bytes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// Nodes returns the node count in use.
func (a *Accounting) Nodes() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nodes
}

// FillStatvfs maps the counters onto the statistics structure consumed
// by disk-free tooling.
func (a *Accounting) FillStatvfs(st *ops.Statvfs) {
	a.mu.Lock()
	bytes, nodes := a.bytes, a.nodes
	maxBytes, maxNodes := a.maxBytes, a.maxNodes
	a.mu.Unlock()

	usedBlocks := uint64((bytes + BlockSize - 1) / BlockSize)
	st.Bsize = BlockSize
	st.Frsize = BlockSize
	st.Namemax = 255

	var freeBlocks uint64
	if maxBytes > 0 {
		total := uint64(maxBytes / BlockSize)
		if usedBlocks < total {
			freeBlocks = total - usedBlocks
		}
		st.Blocks = total
	} else {
		freeBlocks = uint64(-maxBytes) / BlockSize
		st.Blocks = usedBlocks + freeBlocks
	}
	st.Bfree = freeBlocks
	st.Bavail = freeBlocks

	usedNodes := uint64(nodes)
	var freeNodes uint64
	if maxNodes > 0 {
		total := uint64(maxNodes)
		if usedNodes < total {
			freeNodes = total - usedNodes
		}
		st.Files = total
	} else {
		freeNodes = uint64(-maxNodes)
		st.Files = usedNodes + freeNodes
	}
	st.Ffree = freeNodes
	st.Favail = freeNodes
}
