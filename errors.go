package iff

import (
	"errors"

	"github.com/Urethramancer/iff/internal/stream"
)

// Sentinel errors re-exported from internal/stream.
var (
	// ErrCompression is returned when a codec fails while writing a payload.
	ErrCompression = stream.ErrCompression

	// ErrDecompression is returned when a compressed payload cannot be decoded.
	ErrDecompression = stream.ErrDecompression

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = stream.ErrSizeOverflow
)

// Sentinel errors specific to the iff package.
var (
	// ErrClosed is returned when operating on an archive without an open stream.
	ErrClosed = errors.New("iff: archive is closed")

	// ErrBadMagic is returned when a file does not start with FileID.
	ErrBadMagic = errors.New("iff: not an IFF64 archive")

	// ErrTruncated is returned when the file ends before a declared header or payload.
	ErrTruncated = errors.New("iff: truncated archive")

	// ErrCorrupt is returned when a declared size does not fit inside its parent.
	ErrCorrupt = errors.New("iff: corrupt chunk size")

	// ErrNothingToLoad is returned when loading a chunk with no payload and no children.
	ErrNothingToLoad = errors.New("iff: chunk has nothing to load")

	// ErrNotLoaded is returned when a payload is needed but has not been read.
	ErrNotLoaded = errors.New("iff: chunk payload not loaded")

	// ErrNotLeaf is returned when a leaf operation is applied to a container with children.
	ErrNotLeaf = errors.New("iff: chunk is a container")

	// ErrEncoded is returned when appending to a payload that holds its on-disk encoding.
	ErrEncoded = errors.New("iff: chunk payload is encoded")

	// ErrReadOnly is returned when saving an archive opened for reading.
	ErrReadOnly = errors.New("iff: archive opened read-only")

	// ErrForeignChunk is returned when a chunk passed to an archive is nil or
	// belongs to another archive.
	ErrForeignChunk = errors.New("iff: chunk does not belong to this archive")

	// ErrNoProperty is returned when a named property does not exist.
	ErrNoProperty = errors.New("iff: no such property")
)
