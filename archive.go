package iff

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"

	"github.com/Urethramancer/iff/internal/sizing"
)

// Mode selects how an archive's backing file is opened.
type Mode uint8

const (
	// ModeRead opens an existing file and scans its chunk headers.
	ModeRead Mode = iota

	// ModeWrite creates or truncates the file for a fresh Save.
	ModeWrite
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Archive is an IFF64 file and its in-memory chunk tree.
//
// An archive owns its backing file, its top-level chunks, and the hooks
// registered with it. It is not safe for concurrent use.
type Archive struct {
	path   string
	mode   Mode
	f      *os.File
	err    error
	size   uint64
	chunks []*Chunk
	reg    *registry
	cfg    config
}

// New creates an archive bound to path and opens it in mode.
func New(path string, mode Mode, opts ...Option) (*Archive, error) {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	a := &Archive{path: path, cfg: cfg, reg: newRegistry(&cfg)}
	if err := a.open(mode); err != nil {
		return nil, err
	}
	return a, nil
}

// Open opens an existing archive for reading and scans its chunk headers.
// A file shorter than a file header opens as an empty archive.
func Open(path string, opts ...Option) (*Archive, error) {
	return New(path, ModeRead, opts...)
}

// Create creates or truncates path and returns an empty archive for writing.
func Create(path string, opts ...Option) (*Archive, error) {
	return New(path, ModeWrite, opts...)
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.cfg.logger
}

// reportProgress sends a progress event if a callback is configured.
func (a *Archive) reportProgress(stage ProgressStage, id ID, bytesDone, bytesTotal uint64, chunksDone, chunksTotal int) {
	if a.cfg.progress == nil {
		return
	}
	a.cfg.progress(ProgressEvent{
		Stage:       stage,
		ID:          id,
		BytesDone:   bytesDone,
		BytesTotal:  bytesTotal,
		ChunksDone:  chunksDone,
		ChunksTotal: chunksTotal,
	})
}

func (a *Archive) open(mode Mode) error {
	a.mode = mode
	if mode == ModeWrite {
		f, err := os.OpenFile(a.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("create archive: %w", err)
		}
		a.f, a.reg.src = f, f
		a.log().Info("created archive", "path", a.path)
		return nil
	}

	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	a.f = f
	if err := a.Scan(); err != nil {
		f.Close()
		a.f = nil
		a.chunks = nil
		return fmt.Errorf("open archive %s: %w", a.path, err)
	}
	a.reg.src = f
	a.log().Info("opened archive", "path", a.path, "chunks", len(a.chunks), "size", a.size)
	return nil
}

// OK reports whether the archive has an open backing file.
func (a *Archive) OK() bool {
	return a.f != nil
}

// Err returns the error from the most recent Reopen, or nil.
func (a *Archive) Err() error {
	return a.err
}

// Path returns the path of the backing file.
func (a *Archive) Path() string {
	return a.path
}

// Mode returns the mode the archive was last opened in.
func (a *Archive) Mode() Mode {
	return a.mode
}

// Reopen closes the backing file, discards every chunk and hook, and opens
// the file again in mode. On failure the archive is left closed and the
// error is also available from Err.
func (a *Archive) Reopen(mode Mode) error {
	closeErr := a.shutdown()
	a.err = a.open(mode)
	if a.err != nil {
		return a.err
	}
	if closeErr != nil {
		a.log().Warn("close before reopen", "path", a.path, "error", closeErr)
	}
	return nil
}

// Close closes the backing file and discards every chunk and hook.
func (a *Archive) Close() error {
	return a.shutdown()
}

func (a *Archive) shutdown() error {
	var errs []error
	if a.f != nil {
		errs = append(errs, a.f.Close())
		a.f = nil
	}
	a.reg.src = nil
	errs = append(errs, a.reg.dropHooks())
	a.chunks = nil
	a.size = 0
	return errors.Join(errs...)
}

// RegisterContainer makes id a container identifier: chunks with it are
// scanned for children instead of being treated as opaque data. Existing
// chunks with id become containers, their children decoded from memory or
// from the backing file.
func (a *Archive) RegisterContainer(id ID) error {
	a.reg.containers[id] = struct{}{}
	return a.settle()
}

// UnregisterContainer removes id from the container identifiers. Existing
// chunks with id become leaves holding their encoded children.
func (a *Archive) UnregisterContainer(id ID) error {
	delete(a.reg.containers, id)
	return a.settle()
}

// settle brings every chunk in line with the container registry.
func (a *Archive) settle() error {
	var errs []error
	for _, c := range a.chunks {
		if err := c.settleTree(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsContainer reports whether id is a registered container identifier.
func (a *Archive) IsContainer(id ID) bool {
	return a.reg.isContainer(id)
}

// RegisterHook installs h for the identifier it reports, replacing any
// earlier hook for that identifier. The archive takes ownership of h.
func (a *Archive) RegisterHook(h Hook) {
	a.reg.hooks[h.ID()] = h
}

// UnregisterHook removes the hook for id and returns it, or nil. Ownership
// passes back to the caller.
func (a *Archive) UnregisterHook(id ID) Hook {
	h := a.reg.hooks[id]
	delete(a.reg.hooks, id)
	return h
}

// AddChunk appends an empty top-level chunk and returns it.
func (a *Archive) AddChunk(id ID) *Chunk {
	c := newChunk(id, a.reg, nil)
	a.chunks = append(a.chunks, c)
	return c
}

// AddChunkData appends a top-level leaf holding a copy of p and returns it.
func (a *Archive) AddChunkData(id ID, p []byte) *Chunk {
	c := a.AddChunk(id)
	c.SetData(p)
	return c
}

// NumChunks returns the number of top-level chunks, empty ones included.
func (a *Archive) NumChunks() int {
	return len(a.chunks)
}

// Chunk returns the top-level chunk at index i, or nil if i is out of range.
func (a *Archive) Chunk(i int) *Chunk {
	if i < 0 || i >= len(a.chunks) {
		return nil
	}
	return a.chunks[i]
}

// Chunks returns an iterator over the top-level chunks in order.
func (a *Archive) Chunks() iter.Seq2[int, *Chunk] {
	return func(yield func(int, *Chunk) bool) {
		for i, c := range a.chunks {
			if !yield(i, c) {
				return
			}
		}
	}
}

// Size returns the payload size recorded by the last scan, FileSize, or
// Save: the number of bytes following the file header.
func (a *Archive) Size() uint64 {
	return a.size
}

// FileSize computes the size the archive would have on disk: the file
// header plus the full size of every non-empty top-level chunk.
func (a *Archive) FileSize() uint64 {
	var total uint64
	for _, c := range a.chunks {
		s := c.Size()
		if s == 0 {
			continue
		}
		sum, ok := sizing.Sum(total, s, HeaderSize)
		if !ok {
			// Unrepresentable; Save reports ErrSizeOverflow.
			a.size = ^uint64(0)
			return ^uint64(0)
		}
		total = sum
	}
	a.size = total
	if _, ok := sizing.AddUint64(total, HeaderSize); !ok {
		return ^uint64(0)
	}
	return total + HeaderSize
}
