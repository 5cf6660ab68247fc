package testutil

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/Urethramancer/iff/internal/stream"
)

// ErrInjected is returned by FailingStream once its write budget is spent.
var ErrInjected = errors.New("testutil: injected write failure")

// MockStream is an in-memory io.ReadWriteSeeker for tests.
type MockStream = stream.Buffer

// NewMockStream returns a stream backed by a copy of data, positioned at 0.
func NewMockStream(data []byte) *MockStream {
	return stream.NewBuffer(data)
}

// FailingStream wraps a MockStream and fails writes once Budget bytes have
// been written.
type FailingStream struct {
	*MockStream
	Budget int
}

// Write implements io.Writer.
func (f *FailingStream) Write(p []byte) (int, error) {
	if len(p) > f.Budget {
		n, _ := f.MockStream.Write(p[:f.Budget])
		f.Budget = 0
		return n, ErrInjected
	}
	f.Budget -= len(p)
	return f.MockStream.Write(p)
}

// RandomBytes returns n pseudo-random bytes from a fixed seed.
func RandomBytes(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(r.Uint32())
	}
	return out
}

// TextBytes returns n bytes of repetitive ASCII text that compresses well.
func TextBytes(n int) []byte {
	const line = "The quick brown fox jumps over the lazy dog. "
	out := bytes.Repeat([]byte(line), n/len(line)+1)
	return out[:n]
}

// ArchivePath returns a path for an archive file inside a per-test temp dir.
func ArchivePath(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
