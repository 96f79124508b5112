package adapter

import (
	"io"

	"github.com/fusekit/fusekit/internal/bufpool"
	"github.com/fusekit/fusekit/pkg/errno"
	"github.com/fusekit/fusekit/pkg/ops"
)

// readFallback serves a read from the handle value's io implementation.
// Positional io.ReaderAt is preferred; io.ReadSeeker works too, with the
// handle's cursor serialized so concurrent reads cannot interleave seeks.
func (a *Adapter) readFallback(h *Handle, dest []byte, off int64) (int, error) {
	if h == nil {
		return 0, errno.ENOSYS
	}
	if ra, ok := h.Value.(io.ReaderAt); ok {
		n, err := ra.ReadAt(dest, off)
		if err == io.EOF {
			err = nil
		}
		return n, err
	}
	if rs, ok := h.Value.(io.ReadSeeker); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, err := rs.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		n := 0
		for n < len(dest) {
			m, err := rs.Read(dest[n:])
			n += m
			if err == io.EOF {
				break
			}
			if err != nil {
				return 0, err
			}
		}
		return n, nil
	}
	return 0, errno.ENOSYS
}

// writeFallback mirrors readFallback for writes.
func (a *Adapter) writeFallback(h *Handle, data []byte, off int64) (int, error) {
	if h == nil {
		return 0, errno.ENOSYS
	}
	if wa, ok := h.Value.(io.WriterAt); ok {
		return wa.WriteAt(data, off)
	}
	if ws, ok := h.Value.(io.WriteSeeker); ok {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, err := ws.Seek(off, io.SeekStart); err != nil {
			return 0, err
		}
		return ws.Write(data)
	}
	return 0, errno.ENOSYS
}

// copyRangeFallback serves copy_file_range between two open handles when
// the filesystem has no native version. Data moves through a pooled
// intermediate buffer in bounded chunks; a short read or short write ends
// the copy early with the bytes moved so far.
func (a *Adapter) copyRangeFallback(ctx *ops.Context, req *ops.Request) (int, error) {
	src, ok := a.handles.Get(req.Fh)
	if !ok {
		return 0, errno.EBADF
	}
	dst, ok := a.handles.Get(req.TargetFh)
	if !ok {
		return 0, errno.EBADF
	}
	if req.Size <= 0 {
		return 0, nil
	}

	const chunk = 128 << 10
	buf := bufpool.Get(chunk)
	defer bufpool.Put(buf)

	var copied int64
	srcOff, dstOff := req.Offset, req.TargetOffset
	for copied < req.Size {
		n := int64(len(buf))
		if rest := req.Size - copied; rest < n {
			n = rest
		}
		rn, err := a.readFallback(src, buf[:n], srcOff)
		if err != nil {
			return 0, err
		}
		if rn == 0 {
			break
		}
		wn, err := a.writeFallback(dst, buf[:rn], dstOff)
		if err != nil {
			return 0, err
		}
		copied += int64(wn)
		srcOff += int64(wn)
		dstOff += int64(wn)
		if wn < rn {
			break
		}
	}
	return int(copied), nil
}

// readdirFallback drives the listing from a directory handle that can
// yield entries itself. Sources that cannot reposition are treated as
// exhausted on a resumed listing; a source stable under resume should
// implement DirSeeker.
func (a *Adapter) readdirFallback(v interface{}, filler *DirFiller, off int64) error {
	src, ok := v.(DirSource)
	if !ok {
		return errno.ENOSYS
	}
	if off > 0 {
		s, ok := v.(DirSeeker)
		if !ok {
			return nil
		}
		if err := s.SeekEntry(off); err != nil {
			return err
		}
	}
	return filler.FillFrom(src)
}
