// Package stream implements the compressed leaf payload used by the archive.
//
// A compressed payload is laid out as
//
//	[8 bytes: uncompressed length][compressed bytes]
//
// with the length little-endian. A compressed chunk's payload size is
// therefore eight plus the number of compressed bytes; the compressed length
// itself is not stored separately.
//
// Compress writes this layout without holding the compressed output in
// memory: the body is streamed through a fixed-size window and counted as it
// goes. The caller patches the enclosing chunk header with the returned size.
package stream
