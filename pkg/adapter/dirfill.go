package adapter

import (
	"errors"
	"io"

	"github.com/fusekit/fusekit/pkg/ops"
)

// ErrFillStopped is panicked by DirFiller.Fill when a caller keeps adding
// entries after the kernel buffer reported full. Filesystems that check the
// Fill result never see it; the readdir handler absorbs it and returns the
// partial listing that fit.
var ErrFillStopped = errors.New("adapter: fill after directory buffer full")

// DirEntry is one directory entry produced by a DirSource.
type DirEntry struct {
	Name string
	Stat *ops.Stat
	Off  int64
}

// DirSource yields directory entries one at a time. NextEntry returns
// io.EOF when the directory is exhausted. Directory handles that implement
// DirSource can back readdir without the filesystem providing a Readdirer.
type DirSource interface {
	NextEntry() (*DirEntry, error)
}

// DirSeeker is an optional extension of DirSource for sources that can
// reposition, letting readdir honor a nonzero starting offset without
// re-reading from the top.
type DirSeeker interface {
	DirSource
	SeekEntry(off int64) error
}

// DirFiller feeds directory entries to the kernel buffer. Fill reports
// whether the buffer accepted the entry; once it reports false the listing
// is over and further Fill calls panic with ErrFillStopped.
type DirFiller struct {
	fill  ops.FillFunc
	full  bool
	count int
}

// NewDirFiller wraps a raw fill callback.
func NewDirFiller(fill ops.FillFunc) *DirFiller {
	return &DirFiller{fill: fill}
}

// Fill adds one entry. A nil stat is allowed; the kernel will stat the
// entry lazily. The offset is the resume position for the next readdir,
// or zero to let the buffer assign positions itself.
func (f *DirFiller) Fill(name string, st *ops.Stat, off int64) bool {
	if f.full {
		panic(ErrFillStopped)
	}
	if !f.fill(name, st, off, 0) {
		f.full = true
		return false
	}
	f.count++
	return true
}

// Full reports whether the buffer stopped accepting entries.
func (f *DirFiller) Full() bool { return f.full }

// Count reports how many entries the buffer accepted.
func (f *DirFiller) Count() int { return f.count }

// FillFrom drains a DirSource into the buffer, stopping cleanly when
// either the source or the buffer runs out.
func (f *DirFiller) FillFrom(src DirSource) error {
	for {
		e, err := src.NextEntry()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !f.Fill(e.Name, e.Stat, e.Off) {
			return nil
		}
	}
}
