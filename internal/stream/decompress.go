package stream

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Urethramancer/iff/internal/sizing"
)

// Header describes the lengths of a compressed payload.
type Header struct {
	// Compressed is the number of compressed bytes following the prefix.
	Compressed uint64

	// Uncompressed is the length of the original data.
	Uncompressed uint64
}

// ParseHeader decodes the length prefix at the start of payload.
func ParseHeader(payload []byte) (Header, error) {
	if len(payload) < PrefixSize {
		return Header{}, fmt.Errorf("%w: payload of %d bytes is shorter than its length prefix", ErrDecompression, len(payload))
	}
	return Header{
		Compressed:   uint64(len(payload) - PrefixSize),
		Uncompressed: binary.LittleEndian.Uint64(payload[0:PrefixSize]),
	}, nil
}

// Decompress decodes a payload written by Compress with the same codec.
func Decompress(payload []byte, codec Codec) ([]byte, error) {
	h, err := ParseHeader(payload)
	if err != nil {
		return nil, err
	}
	size, err := sizing.ToInt(h.Uncompressed, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	zr, err := newReader(codec, bytes.NewReader(payload[PrefixSize:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecompression, codec, err)
	}
	defer zr.Close()

	// Read one byte past the declared size to catch oversized streams.
	out := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(out, io.LimitReader(zr, int64(size)+1)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecompression, codec, err)
	}
	if out.Len() != size {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrDecompression, out.Len(), size)
	}
	return out.Bytes(), nil
}
