package iff

import (
	"log/slog"

	"github.com/Urethramancer/iff/internal/stream"
)

// Codec identifies the compression algorithm used for a chunk identifier.
type Codec = stream.Codec

// Codec constants.
const (
	CodecZlib = stream.CodecZlib
	CodecZstd = stream.CodecZstd
	CodecLZ4  = stream.CodecLZ4
)

// ParseCodec parses a codec name ("zlib", "zstd", "lz4").
var ParseCodec = stream.ParseCodec

// DefaultWindowSize is the compression output window used when no
// WithWindowSize option is set.
const DefaultWindowSize = stream.DefaultWindowSize

// Option configures an Archive.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	progress   ProgressFunc
	level      int
	window     int
	codecs     map[ID]Codec
	containers []ID
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithProgress sets a callback invoked after each top-level chunk is
// scanned, loaded, or saved.
func WithProgress(fn ProgressFunc) Option {
	return func(c *config) {
		c.progress = fn
	}
}

// WithCompressionLevel sets the codec-specific compression level used for
// compressed identifiers. Zero (the default) uses best compression for zlib,
// the default speed for zstd and fast mode for lz4.
func WithCompressionLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithWindowSize sets the size of the window compressed bytes are written
// through. It bounds the compressor's output buffering (default: 128KiB).
func WithWindowSize(n int) Option {
	return func(c *config) {
		c.window = n
	}
}

// WithCodec compresses chunks with identifier id using codec.
// It adds to or overrides the default codec table.
func WithCodec(id ID, codec Codec) Option {
	return func(c *config) {
		if c.codecs == nil {
			c.codecs = make(map[ID]Codec)
		}
		c.codecs[id] = codec
	}
}

// WithContainers registers additional container identifiers before the
// archive is scanned. Containers registered after Open only affect later
// scans and saves.
func WithContainers(ids ...ID) Option {
	return func(c *config) {
		c.containers = append(c.containers, ids...)
	}
}
