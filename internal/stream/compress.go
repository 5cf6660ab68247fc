package stream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Urethramancer/iff/internal/sizing"
)

const (
	// PrefixSize is the size of the uncompressed length field preceding the
	// compressed bytes.
	PrefixSize = 8

	// DefaultWindowSize is the output window used when none is configured (128KiB).
	DefaultWindowSize = 128 << 10

	minWindowSize = 4 << 10
)

var (
	// ErrCompression is returned when the compression engine fails.
	ErrCompression = errors.New("iff: compression failed")

	// ErrDecompression is returned when a compressed payload cannot be decoded.
	ErrDecompression = errors.New("iff: decompression failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("iff: size overflow")
)

// Option configures Compress.
type Option func(*config)

type config struct {
	window int
	level  int
}

// WithWindowSize sets the size of the output window. Values below 4KiB are
// raised to 4KiB.
func WithWindowSize(n int) Option {
	return func(c *config) {
		c.window = max(n, minWindowSize)
	}
}

// WithLevel sets the codec-specific compression level. Zero selects the
// codec default.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// Compress writes data to w as a compressed payload and returns the number
// of payload bytes written, length prefix included.
//
// On error the bytes already written to w are undefined.
func Compress(w io.Writer, data []byte, codec Codec, opts ...Option) (uint64, error) {
	cfg := config{window: DefaultWindowSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	var prefix [PrefixSize]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return 0, fmt.Errorf("write uncompressed length: %w", err)
	}

	body, err := compressBody(w, data, codec, cfg)
	if err != nil {
		return 0, err
	}
	total, ok := sizing.AddUint64(body, PrefixSize)
	if !ok {
		return 0, ErrSizeOverflow
	}
	return total, nil
}

// compressBody streams the compressed form of data into w through a window
// of cfg.window bytes and returns the number of compressed bytes emitted.
func compressBody(w io.Writer, data []byte, codec Codec, cfg config) (uint64, error) {
	cw := &CountingWriter{W: w}
	bw := bufio.NewWriterSize(cw, cfg.window)
	zw, err := newWriter(codec, bw, cfg.level)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrCompression, codec, err)
	}

	for off := 0; off < len(data); off += cfg.window {
		end := min(off+cfg.window, len(data))
		if _, err := zw.Write(data[off:end]); err != nil {
			zw.Close()
			return 0, fmt.Errorf("%w: %s: %w", ErrCompression, codec, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrCompression, codec, err)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("write compressed body: %w", err)
	}
	return cw.N, nil
}
