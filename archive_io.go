package iff

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Urethramancer/iff/internal/sizing"
)

// Scan replaces the chunk tree with one read from the file's headers.
// Payloads are not read; use Load or LoadAll for that.
func (a *Archive) Scan() error {
	if a.f == nil {
		return ErrClosed
	}
	a.chunks = nil
	a.size = 0

	info, err := a.f.Stat()
	if err != nil {
		return err
	}
	if info.Size() < HeaderSize {
		a.log().Debug("archive shorter than header, treating as empty", "path", a.path, "size", info.Size())
		return nil
	}

	if _, err := a.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	magic, declared, err := readHeader(a.f)
	if err != nil {
		return err
	}
	if magic != FileID {
		return fmt.Errorf("%w: magic %q", ErrBadMagic, magic.String())
	}
	if avail := uint64(info.Size()) - HeaderSize; declared > avail { //nolint:gosec // size checked above
		return fmt.Errorf("%w: header declares %d bytes, file holds %d", ErrTruncated, declared, avail)
	}

	var pos uint64
	for pos < declared {
		remaining := declared - pos
		if remaining < HeaderSize {
			return fmt.Errorf("%w: %d stray bytes after last chunk", ErrCorrupt, remaining)
		}
		c, err := scanChunk(a.f, a.reg, nil, remaining-HeaderSize)
		if err != nil {
			return err
		}
		a.chunks = append(a.chunks, c)
		pos += HeaderSize + c.size
		a.reportProgress(StageScanning, c.id, pos, declared, len(a.chunks), 0)
	}
	a.size = declared
	a.log().Debug("scanned archive", "path", a.path, "chunks", len(a.chunks), "size", declared)
	return nil
}

// Load reads the payload of c, and of all its descendants if c is a
// container, from the archive's file. Loading a loaded chunk is a no-op.
func (a *Archive) Load(c *Chunk) error {
	if a.f == nil {
		return ErrClosed
	}
	if c == nil || c.reg != a.reg {
		return ErrForeignChunk
	}
	return c.load(a.f)
}

// LoadAll reads the payload of every non-empty chunk into memory.
func (a *Archive) LoadAll() error {
	if a.f == nil {
		return ErrClosed
	}
	var done uint64
	total := a.size
	for i, c := range a.chunks {
		if c.Empty() {
			continue
		}
		if err := c.load(a.f); err != nil {
			return err
		}
		done += c.FullSize()
		a.reportProgress(StageLoading, c.id, done, total, i+1, len(a.chunks))
	}
	a.log().Debug("loaded archive", "path", a.path, "chunks", len(a.chunks), "bytes", done)
	return nil
}

// Save writes the file header and every non-empty chunk, replacing the
// file's previous contents. The total size in the file header is written
// last, once the body is complete.
//
// Save does not write atomically: on error the file is left partially
// written and should be treated as corrupt.
func (a *Archive) Save() error {
	if a.f == nil {
		return ErrClosed
	}
	if a.mode != ModeWrite {
		return ErrReadOnly
	}

	// Chunks must match the container registry, and payloads still on disk
	// must be read, before the file is truncated.
	if err := a.settle(); err != nil {
		return fmt.Errorf("load before save: %w", err)
	}
	for _, c := range a.chunks {
		if !c.Empty() && !c.Loaded() {
			if err := c.load(a.f); err != nil {
				return fmt.Errorf("load before save: %w", err)
			}
		}
	}

	if _, err := a.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := a.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate archive: %w", err)
	}
	if err := writeHeader(a.f, FileID, 0); err != nil {
		return fmt.Errorf("write file header: %w", err)
	}

	expected := a.FileSize() - HeaderSize
	var total uint64
	var skipped int
	for i, c := range a.chunks {
		if c.Empty() {
			skipped++
			a.log().Debug("skipped empty chunk", "id", c.id.String(), "index", i)
			continue
		}
		n, err := c.writeTo(a.f)
		if err != nil {
			return err
		}
		var ok bool
		if total, ok = sizing.AddUint64(total, n); !ok {
			return ErrSizeOverflow
		}
		a.reportProgress(StageSaving, c.id, total, expected, i+1, len(a.chunks))
	}

	var field [8]byte
	binary.LittleEndian.PutUint64(field[:], total)
	if _, err := a.f.Seek(8, io.SeekStart); err != nil {
		return err
	}
	if _, err := a.f.Write(field[:]); err != nil {
		return fmt.Errorf("write file size: %w", err)
	}
	if _, err := a.f.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	a.size = total
	a.log().Info("saved archive", "path", a.path, "chunks", len(a.chunks)-skipped, "skipped", skipped, "size", total+HeaderSize)
	return nil
}
