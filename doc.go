// Package iff reads and writes IFF64 archives: chunked, self-describing
// container files in the spirit of RIFF and IFF.
//
// An archive is a file header followed by a sequence of chunks. Every chunk
// starts with a 16-byte header holding an 8-character identifier and a
// little-endian payload size. A chunk is either a leaf, whose payload is raw
// bytes, or a container, whose payload is a sequence of child chunks.
// Whether an identifier is a container is decided by the archive's
// container registry; [Folder] is registered by default.
//
// # Reading
//
// Opening an archive scans chunk headers only. Payloads are read on demand
// with [Archive.Load] or all at once with [Archive.LoadAll]:
//
//	a, err := iff.Open("data.iff")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	for _, c := range a.Chunks() {
//	    if err := a.Load(c); err != nil {
//	        return err
//	    }
//	    fmt.Println(c.ID(), len(c.Data()))
//	}
//
// # Writing
//
//	a, err := iff.Create("data.iff")
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	a.AddChunkData(iff.UTF8, []byte("hello"))
//	dir := a.AddChunk(iff.Folder)
//	dir.AddChildData(iff.Name, []byte("notes.txt"))
//	dir.AddChildData(iff.CompUTF8, notes)
//	err = a.Save()
//
// Chunks whose identifier has a registered codec ([CompUTF8], [CompUTF16],
// [CompUTF32], [ZstdUTF8], [LZ4UTF8] by default) are compressed while they
// are written. Empty chunks are never written.
//
// # Hooks
//
// A [Hook] replaces the default payload handling for one identifier. Hooks
// are consulted before codecs and raw handling on both load and save.
package iff
