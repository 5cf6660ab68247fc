package iff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Urethramancer/iff/internal/sizing"
	"github.com/Urethramancer/iff/internal/stream"
)

// readHeader reads a 16-byte identifier/size header from r.
func readHeader(r io.Reader) (ID, uint64, error) {
	var h [HeaderSize]byte
	if _, err := io.ReadFull(r, h[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, 0, ErrTruncated
		}
		return 0, 0, err
	}
	return ID(binary.LittleEndian.Uint64(h[0:8])), binary.LittleEndian.Uint64(h[8:16]), nil
}

// writeHeader writes a 16-byte identifier/size header to w.
func writeHeader(w io.Writer, id ID, size uint64) error {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint64(h[0:8], uint64(id))
	binary.LittleEndian.PutUint64(h[8:16], size)
	_, err := w.Write(h[:])
	return err
}

// scanChunk reads the chunk header at the current position of r and, for
// container identifiers, the headers of all its descendants. Payloads are
// skipped. limit is the number of payload bytes the enclosing scope leaves
// for this chunk.
//
// On return r is positioned just past the chunk.
func scanChunk(r io.ReadSeeker, reg *registry, parent *Chunk, limit uint64) (*Chunk, error) {
	id, size, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	if size > limit {
		return nil, fmt.Errorf("%w: chunk %s declares %d bytes, %d available", ErrCorrupt, id, size, limit)
	}
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	c := &Chunk{id: id, size: size, sized: true, offset: offset, parent: parent, reg: reg}
	if !reg.isContainer(id) {
		c.body = &leaf{}
		end, err := sizing.ToInt64(size, ErrSizeOverflow)
		if err != nil {
			return nil, err
		}
		if _, err := r.Seek(offset+end, io.SeekStart); err != nil {
			return nil, err
		}
		return c, nil
	}

	children, err := scanChildren(r, reg, c, size)
	if err != nil {
		return nil, err
	}
	c.body = &container{children: children}
	return c, nil
}

// scanChildren scans the chunks filling the next size bytes of r as children
// of parent.
func scanChildren(r io.ReadSeeker, reg *registry, parent *Chunk, size uint64) ([]*Chunk, error) {
	var children []*Chunk
	var consumed uint64
	for consumed < size {
		remaining := size - consumed
		if remaining < HeaderSize {
			return nil, fmt.Errorf("%w: %d stray bytes in container %s", ErrCorrupt, remaining, parent.id)
		}
		child, err := scanChunk(r, reg, parent, remaining-HeaderSize)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
		consumed += HeaderSize + child.size
	}
	return children, nil
}

// load reads the payload of c and, for containers, of every non-empty
// descendant. Loading a loaded chunk is a no-op.
func (c *Chunk) load(r io.ReadSeeker) error {
	if err := c.settle(); err != nil {
		return err
	}
	switch b := c.body.(type) {
	case *container:
		if len(b.children) == 0 {
			return ErrNothingToLoad
		}
		for _, child := range b.children {
			if child.Empty() {
				continue
			}
			if err := child.load(r); err != nil {
				return err
			}
		}
		return nil
	case *leaf:
		if c.size == 0 {
			return ErrNothingToLoad
		}
		if b.loaded {
			return nil
		}
		if c.offset < 0 {
			return ErrNotLoaded
		}
		return c.loadLeaf(r, b)
	}
	return nil
}

func (c *Chunk) loadLeaf(r io.ReadSeeker, l *leaf) error {
	if _, err := r.Seek(c.offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to chunk %s: %w", c.id, err)
	}

	if h := c.reg.hook(c.id); h != nil {
		data, err := h.ReadPayload(io.LimitReader(r, int64(c.size)), c.size) //nolint:gosec // size bounded by file size at scan
		if err != nil {
			return fmt.Errorf("hook for chunk %s: %w", c.id, err)
		}
		l.data, l.loaded, l.encoded = data, true, false
		return nil
	}

	n, err := sizing.ToInt(c.size, ErrSizeOverflow)
	if err != nil {
		return err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read chunk %s: %w", c.id, ErrTruncated)
		}
		return fmt.Errorf("read chunk %s: %w", c.id, err)
	}
	l.data, l.loaded, l.encoded = data, true, true
	return nil
}

// writeTo writes the header and payload of c at the current position of ws
// and returns the number of bytes written, header included.
//
// The header carries the size known before writing. When the payload turns
// out to have a different length (compression, hooks, or a container
// holding either) the header is patched once the payload is written.
func (c *Chunk) writeTo(ws io.WriteSeeker) (uint64, error) {
	if err := c.settle(); err != nil {
		return 0, err
	}
	start, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	declared := c.Size()
	if err := writeHeader(ws, c.id, declared); err != nil {
		return 0, fmt.Errorf("write header of chunk %s: %w", c.id, err)
	}
	c.offset = start + HeaderSize

	n, err := c.writePayload(ws)
	if err != nil {
		return 0, err
	}
	if n != declared {
		end, err := sizing.ToInt64(n, ErrSizeOverflow)
		if err != nil {
			return 0, err
		}
		var field [8]byte
		binary.LittleEndian.PutUint64(field[:], n)
		if err := patchAt(ws, start+8, c.offset+end, field[:]); err != nil {
			return 0, fmt.Errorf("patch header of chunk %s: %w", c.id, err)
		}
	}

	c.size, c.sized = n, true
	total, ok := sizing.AddUint64(n, HeaderSize)
	if !ok {
		return 0, ErrSizeOverflow
	}
	return total, nil
}

// writePayload writes the payload of c and returns its length. Empty
// children are skipped.
func (c *Chunk) writePayload(ws io.WriteSeeker) (uint64, error) {
	switch b := c.body.(type) {
	case *container:
		return writeChildren(ws, b.children)
	case *leaf:
		return c.writeLeaf(ws, b)
	}
	return 0, nil
}

// writeChildren writes every non-empty chunk of children in order and
// returns the number of bytes written.
func writeChildren(ws io.WriteSeeker, children []*Chunk) (uint64, error) {
	var total uint64
	for _, child := range children {
		if child.Empty() {
			continue
		}
		n, err := child.writeTo(ws)
		if err != nil {
			return 0, err
		}
		var ok bool
		if total, ok = sizing.AddUint64(total, n); !ok {
			return 0, ErrSizeOverflow
		}
	}
	return total, nil
}

func (c *Chunk) writeLeaf(ws io.WriteSeeker, l *leaf) (uint64, error) {
	if !l.loaded {
		return 0, fmt.Errorf("write chunk %s: %w", c.id, ErrNotLoaded)
	}
	if !l.encoded {
		if h := c.reg.hook(c.id); h != nil {
			cw := &stream.CountingWriter{W: ws}
			if err := h.WritePayload(cw, l.data); err != nil {
				return 0, fmt.Errorf("hook for chunk %s: %w", c.id, err)
			}
			return cw.N, nil
		}
		if codec, ok := c.reg.codec(c.id); ok {
			n, err := stream.Compress(ws, l.data, codec, c.reg.compress...)
			if err != nil {
				return 0, fmt.Errorf("write chunk %s: %w", c.id, err)
			}
			return n, nil
		}
	}
	if _, err := ws.Write(l.data); err != nil {
		return 0, fmt.Errorf("write chunk %s: %w", c.id, err)
	}
	return uint64(len(l.data)), nil
}

// patchAt overwrites the bytes at off with p, then leaves ws positioned at
// resume.
func patchAt(ws io.WriteSeeker, off, resume int64, p []byte) error {
	if _, err := ws.Seek(off, io.SeekStart); err != nil {
		return err
	}
	if _, err := ws.Write(p); err != nil {
		return err
	}
	_, err := ws.Seek(resume, io.SeekStart)
	return err
}
