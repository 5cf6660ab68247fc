package stream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression algorithm used for a payload.
// Codecs are not recorded in the payload; the chunk identifier selects one.
type Codec uint8

const (
	CodecZlib Codec = iota
	CodecZstd
	CodecLZ4
)

// LevelDefault selects the codec's default level.
const LevelDefault = 0

// String returns the human-readable name of the codec.
func (c Codec) String() string {
	switch c {
	case CodecZlib:
		return "zlib"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCodec parses a codec from its string representation.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "zlib":
		return CodecZlib, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec: %q", name)
	}
}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// newWriter returns a compressing writer for codec that emits into w.
// level 0 picks the codec default: best compression for zlib, the
// default speed for zstd and fast mode for lz4.
func newWriter(c Codec, w io.Writer, level int) (io.WriteCloser, error) {
	switch c {
	case CodecZlib:
		if level == LevelDefault {
			level = zlib.BestCompression
		}
		return zlib.NewWriterLevel(w, level)
	case CodecZstd:
		encLevel := zstd.SpeedDefault
		if level != LevelDefault {
			encLevel = zstd.EncoderLevelFromZstd(level)
		}
		return zstd.NewWriter(w,
			zstd.WithEncoderLevel(encLevel),
			zstd.WithEncoderConcurrency(1),
			zstd.WithLowerEncoderMem(true),
			zstd.WithZeroFrames(true),
		)
	case CodecLZ4:
		if level < 0 || level >= len(lz4Levels) {
			return nil, fmt.Errorf("lz4 level %d out of range", level)
		}
		zw := lz4.NewWriter(w)
		if err := zw.Apply(
			lz4.BlockSizeOption(lz4.Block64Kb),
			lz4.CompressionLevelOption(lz4Levels[level]),
		); err != nil {
			return nil, err
		}
		return zw, nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", c)
	}
}

// newReader returns a decompressing reader for codec over r.
func newReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecZlib:
		return zlib.NewReader(r)
	case CodecZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", c)
	}
}
