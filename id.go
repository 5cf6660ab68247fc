package iff

import (
	"encoding/binary"
	"strings"
)

// ID is a chunk identifier: eight ASCII bytes packed little-endian, so the
// first character occupies the low byte and the identifier reads as text
// in a hex dump of the file.
type ID uint64

// MakeID packs tag into an ID. Tags shorter than eight bytes are padded with
// spaces; only the first eight bytes of longer tags are used.
func MakeID(tag string) ID {
	var b [8]byte
	n := copy(b[:], tag)
	for i := n; i < len(b); i++ {
		b[i] = ' '
	}
	return ID(binary.LittleEndian.Uint64(b[:]))
}

// Bytes returns the eight bytes of the identifier in file order.
func (id ID) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(id))
	return b
}

// String returns the identifier's tag without trailing padding.
func (id ID) String() string {
	b := id.Bytes()
	return strings.TrimRight(string(b[:]), " ")
}

// FileID is the magic identifier at the start of every archive.
const FileID ID = 0x5449423436464649 // "IFF64BIT"

// Text identifiers. The compressed variants hold a stream payload; see
// package documentation.
const (
	ASCII     ID = 0x2020204949435341 // "ASCII"
	UTF8      ID = 0x2020202038465455 // "UTF8"
	CompUTF8  ID = 0x38465455504D4F43 // "COMPUTF8"
	UTF16     ID = 0x2020203631465455 // "UTF16"
	CompUTF16 ID = 0x3631465455504D43 // "CMPUTF16"
	UTF32     ID = 0x2020203233465455 // "UTF32"
	CompUTF32 ID = 0x3233465455504D43 // "CMPUTF32"
	ZstdUTF8  ID = 0x384654554454535A // "ZSTDUTF8"
	LZ4UTF8   ID = 0x2038465455345A4C // "LZ4UTF8"
)

// Structural and descriptive identifiers.
const (
	// Folder holds chunk data and properties for that data. Nest folders for
	// hierarchical data such as directory trees.
	Folder ID = 0x20205245444C4F46 // "FOLDER"

	Version    ID = 0x204E4F4953524556 // "VERSION"
	Name       ID = 0x20202020454D414E // "NAME"
	Prop       ID = 0x20202020504F5250 // "PROP"
	Value      ID = 0x20202045554C4156 // "VALUE"
	RelFile    ID = 0x20454C49464C4552 // "RELFILE"
	Annotation ID = 0x202020204F4E4E41 // "ANNO"
	Author     ID = 0x2020524F48545541 // "AUTHOR"
	Origin     ID = 0x20204E494749524F // "ORIGIN"
)
