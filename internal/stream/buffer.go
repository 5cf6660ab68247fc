package stream

import (
	"bytes"
	"errors"
	"io"
)

// Buffer is an in-memory io.ReadWriteSeeker. Writes past the end grow the
// backing slice; writes inside it overwrite.
type Buffer struct {
	data []byte
	pos  int64
}

// NewBuffer returns a buffer holding a copy of data, positioned at 0.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: bytes.Clone(data)}
}

// Read implements io.Reader.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end, max(end, 2*int64(cap(b.data))))
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], p)
	b.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = int64(len(b.data)) + offset
	default:
		return 0, errors.New("stream: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("stream: negative position")
	}
	b.pos = abs
	return abs, nil
}

// Bytes returns the backing slice. It aliases the buffer's storage.
func (b *Buffer) Bytes() []byte {
	return b.data
}
