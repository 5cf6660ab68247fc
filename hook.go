package iff

import "io"

// Hook replaces the default payload handling for chunks with one identifier.
//
// Hooks apply to leaves only. On load, ReadPayload receives a reader limited
// to the chunk's declared payload and returns the in-memory form of the data.
// On save, WritePayload encodes that form; the number of bytes it writes
// becomes the chunk's payload size.
//
// A registered hook is owned by the archive: it is dropped by Reopen and
// Close, and closed then if it implements io.Closer.
type Hook interface {
	// ID returns the identifier handled by the hook.
	ID() ID

	// ReadPayload decodes a payload of size bytes read from r.
	ReadPayload(r io.Reader, size uint64) ([]byte, error)

	// WritePayload encodes data to w.
	WritePayload(w io.Writer, data []byte) error
}
