package iff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Urethramancer/iff/internal/testutil"
)

var archiveID = MakeID("ARCHIVE")

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "test.iff")
	a, err := Create(path, WithContainers(archiveID))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	require.True(t, a.OK())

	a.AddChunkData(UTF8, []byte("This is some testdata."))
	a.AddChunkData(UTF8, []byte("More testdata."))
	c := a.AddChunk(archiveID)
	c.AddChildData(UTF8, []byte("Yet more testdata."))
	c.AddChildData(UTF8, []byte("Even more testdata!"))
	c = a.AddChunk(Folder)
	c.AddChildData(UTF8, []byte("So much testdata!"))
	c.AddChildData(UTF8, []byte("This is deeply nested."))

	wantSize := a.FileSize()
	wantChunks := a.NumChunks()
	assert.Equal(t, uint64(256), wantSize)
	assert.Equal(t, 4, wantChunks)

	require.NoError(t, a.Save())
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(wantSize), info.Size())

	require.NoError(t, a.Reopen(ModeRead))
	require.True(t, a.OK())
	assert.Equal(t, wantChunks, a.NumChunks())
	assert.Equal(t, wantSize, a.FileSize())

	require.NoError(t, a.LoadAll())
	assert.Equal(t, "This is some testdata.", string(a.Chunk(0).Data()))
	assert.Equal(t, "More testdata.", string(a.Chunk(1).Data()))
	assert.Equal(t, archiveID, a.Chunk(2).ID())
	assert.Equal(t, "Yet more testdata.", string(a.Chunk(2).Child(0).Data()))
	assert.Equal(t, "Even more testdata!", string(a.Chunk(2).Child(1).Data()))
	assert.Equal(t, Folder, a.Chunk(3).ID())
	assert.Equal(t, "So much testdata!", string(a.Chunk(3).Child(0).Data()))
	assert.Equal(t, "This is deeply nested.", string(a.Chunk(3).Child(1).Data()))
}

func TestFileHeaderLayout(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "header.iff")
	a, err := Create(path)
	require.NoError(t, err)
	a.AddChunkData(Name, []byte("abc"))
	require.NoError(t, a.Save())
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, raw, 16+16+3)
	assert.Equal(t, "IFF64BIT", string(raw[0:8]))
	assert.Equal(t, uint64(19), binary.LittleEndian.Uint64(raw[8:16]))
	assert.Equal(t, "NAME    ", string(raw[16:24]))
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(raw[24:32]))
	assert.Equal(t, "abc", string(raw[32:]))
}

// buildTree adds leaves and containers nested depth levels deep, including
// empty containers, and returns every leaf payload in creation order.
func buildTree(parent *Chunk, depth int, seed uint64) [][]byte {
	var leaves [][]byte
	for i := range 3 {
		data := testutil.RandomBytes(int(seed%97)+i*13+1, seed+uint64(i))
		child := parent.AddChild(UTF8)
		child.SetData(data)
		leaves = append(leaves, data)
	}
	parent.AddChild(Folder) // empty container
	if depth > 0 {
		sub := parent.AddChild(Folder)
		leaves = append(leaves, buildTree(sub, depth-1, seed*31+7)...)
	}
	return leaves
}

func collectLeaves(c *Chunk) [][]byte {
	if !c.IsContainer() {
		return [][]byte{c.Data()}
	}
	var out [][]byte
	for _, child := range c.Children() {
		out = append(out, collectLeaves(child)...)
	}
	return out
}

func TestRoundTripNestedTree(t *testing.T) {
	t.Parallel()

	for _, depth := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprint(depth), func(t *testing.T) {
			t.Parallel()

			path := testutil.ArchivePath(t, "tree.iff")
			a, err := Create(path)
			require.NoError(t, err)
			t.Cleanup(func() { a.Close() })

			top := a.AddChunk(Folder)
			want := buildTree(top, depth, 11)
			a.AddChunkData(Author, []byte("someone"))
			requireConsistentSizes(t, top)

			wantSize := a.FileSize()
			require.NoError(t, a.Save())
			require.NoError(t, a.Reopen(ModeRead))

			assert.Equal(t, 2, a.NumChunks())
			assert.Equal(t, wantSize, a.FileSize())
			require.NoError(t, a.LoadAll())

			var got [][]byte
			for _, c := range a.Chunks() {
				got = append(got, collectLeaves(c)...)
			}
			assert.Equal(t, append(want, []byte("someone")), got)
		})
	}
}

func TestEmptyChunksAreNotSaved(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "empty.iff")
	a, err := Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	a.AddChunk(UTF8)
	a.AddChunkData(Name, []byte("kept"))
	a.AddChunk(Folder)
	f := a.AddChunk(Folder)
	f.AddChild(Annotation)
	f.AddChildData(Value, []byte("v"))

	assert.Equal(t, 4, a.NumChunks())
	assert.Equal(t, uint64(16+(16+4)+(16+16+1)), a.FileSize())

	require.NoError(t, a.Save())
	require.NoError(t, a.Reopen(ModeRead))
	require.Equal(t, 2, a.NumChunks())
	assert.Equal(t, Name, a.Chunk(0).ID())
	assert.Equal(t, Folder, a.Chunk(1).ID())
	require.Equal(t, 1, a.Chunk(1).NumChildren())
	assert.Equal(t, Value, a.Chunk(1).Child(0).ID())
}

func TestOpenRejectsBadMagic(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "bad.iff")
	require.NoError(t, os.WriteFile(path, []byte("RIFF64BI\x00\x00\x00\x00\x00\x00\x00\x00 extra"), 0o644))

	_, err := Open(path)
	require.ErrorIs(t, err, ErrBadMagic)

	good := testutil.ArchivePath(t, "good.iff")
	a, err := Create(good)
	require.NoError(t, err)
	a.AddChunkData(UTF8, []byte("x"))
	require.NoError(t, a.Save())
	require.Equal(t, 1, a.NumChunks())

	// Reopen against a bad file leaves the archive closed and empty.
	a.path = path
	err = a.Reopen(ModeRead)
	require.ErrorIs(t, err, ErrBadMagic)
	require.ErrorIs(t, a.Err(), ErrBadMagic)
	assert.False(t, a.OK())
	assert.Zero(t, a.NumChunks())
	require.ErrorIs(t, a.LoadAll(), ErrClosed)
	require.ErrorIs(t, a.Save(), ErrClosed)

	// A successful reopen recovers.
	a.path = good
	require.NoError(t, a.Reopen(ModeRead))
	assert.True(t, a.OK())
	require.NoError(t, a.Err())
	assert.Equal(t, 1, a.NumChunks())
	require.NoError(t, a.Close())
}

func TestOpenShortFileIsEmpty(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "short.iff")
	require.NoError(t, os.WriteFile(path, []byte("IFF64"), 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.OK())
	assert.Zero(t, a.NumChunks())
	assert.Equal(t, uint64(HeaderSize), a.FileSize())
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(testutil.ArchivePath(t, "missing.iff"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenRejectsInconsistentSizes(t *testing.T) {
	t.Parallel()

	header := func(id ID, size uint64) []byte {
		var h [16]byte
		binary.LittleEndian.PutUint64(h[0:8], uint64(id))
		binary.LittleEndian.PutUint64(h[8:16], size)
		return h[:]
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{
			name: "declared size past end of file",
			data: append(header(FileID, 100), header(UTF8, 0)...),
			want: ErrTruncated,
		},
		{
			name: "chunk larger than file payload",
			data: append(header(FileID, 16), header(UTF8, 50)...),
			want: ErrCorrupt,
		},
		{
			name: "stray bytes after last chunk",
			data: append(append(header(FileID, 20), header(UTF8, 0)...), 1, 2, 3, 4),
			want: ErrCorrupt,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testutil.ArchivePath(t, "bad.iff")
			require.NoError(t, os.WriteFile(path, tt.data, 0o644))
			_, err := Open(path)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSaveReadOnly(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "ro.iff")
	a, err := Create(path)
	require.NoError(t, err)
	a.AddChunkData(UTF8, []byte("x"))
	require.NoError(t, a.Save())
	require.NoError(t, a.Reopen(ModeRead))
	defer a.Close()

	require.ErrorIs(t, a.Save(), ErrReadOnly)
}

func TestSaveTwiceRewrites(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "twice.iff")
	a, err := Create(path)
	require.NoError(t, err)
	defer a.Close()

	a.AddChunkData(CompUTF8, testutil.TextBytes(10_000))
	a.AddChunkData(UTF8, []byte("tail"))
	require.NoError(t, a.Save())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, a.Save())
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, uint64(len(second)), a.FileSize())
}

func TestSaveReloadsClearedChunks(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "cleared.iff")
	a, err := Create(path)
	require.NoError(t, err)
	defer a.Close()

	c := a.AddChunkData(UTF8, []byte("written once"))
	require.NoError(t, a.Save())

	c.Clear()
	assert.False(t, c.Loaded())
	assert.False(t, c.Empty(), "saved chunks keep their size")

	require.NoError(t, a.Save())
	assert.Equal(t, "written once", string(c.Data()))

	c.Clear()
	require.NoError(t, a.Load(c))
	assert.Equal(t, "written once", string(c.Data()))
}

func TestSaveAfterModifyingSavedChunks(t *testing.T) {
	t.Parallel()

	setData := func(_ *testing.T, _ *Archive, c *Chunk) { c.SetData([]byte("cccccccc")) }
	clearData := func(_ *testing.T, _ *Archive, c *Chunk) { c.Clear() }
	save := func(t *testing.T, a *Archive, _ *Chunk) { require.NoError(t, a.Save()) }
	appendData := func(t *testing.T, _ *Archive, c *Chunk) {
		_, err := c.AppendData([]byte("cc"))
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		steps []func(*testing.T, *Archive, *Chunk)
		want  []string
	}{
		{name: "clear unchanged", steps: []func(*testing.T, *Archive, *Chunk){clearData}, want: []string{"aaaa", "bbbb"}},
		{name: "set data", steps: []func(*testing.T, *Archive, *Chunk){setData}, want: []string{"cccccccc", "bbbb"}},
		{name: "set data then clear", steps: []func(*testing.T, *Archive, *Chunk){setData, clearData}, want: []string{"bbbb"}},
		{name: "append then clear", steps: []func(*testing.T, *Archive, *Chunk){appendData, clearData}, want: []string{"bbbb"}},
		{name: "set data, save, clear", steps: []func(*testing.T, *Archive, *Chunk){setData, save, clearData}, want: []string{"cccccccc", "bbbb"}},
	}
	for _, tt := range tests {
		for _, nested := range []bool{false, true} {
			t.Run(fmt.Sprintf("%s/nested=%t", tt.name, nested), func(t *testing.T) {
				t.Parallel()

				a, err := Create(testutil.ArchivePath(t, "modified.iff"))
				require.NoError(t, err)
				defer a.Close()

				var first *Chunk
				if nested {
					dir := a.AddChunk(Folder)
					first = dir.AddChildData(UTF8, []byte("aaaa"))
					dir.AddChildData(UTF8, []byte("bbbb"))
				} else {
					first = a.AddChunkData(UTF8, []byte("aaaa"))
					a.AddChunkData(UTF8, []byte("bbbb"))
				}
				require.NoError(t, a.Save())

				for _, step := range tt.steps {
					step(t, a, first)
				}
				require.NoError(t, a.Save())

				require.NoError(t, a.Reopen(ModeRead))
				require.NoError(t, a.LoadAll())
				var got []string
				for _, c := range a.Chunks() {
					for _, p := range collectLeaves(c) {
						got = append(got, string(p))
					}
				}
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestCompressedRoundTrip(t *testing.T) {
	t.Parallel()

	for _, id := range []ID{CompUTF8, CompUTF16, CompUTF32, ZstdUTF8, LZ4UTF8} {
		for _, size := range []int{1, 4095, DefaultWindowSize, 500_000} {
			t.Run(fmt.Sprintf("%s/%d", id, size), func(t *testing.T) {
				t.Parallel()

				path := testutil.ArchivePath(t, "comp.iff")
				a, err := Create(path)
				require.NoError(t, err)
				defer a.Close()

				text := testutil.TextBytes(size)
				a.AddChunkData(id, text)
				dir := a.AddChunk(Folder)
				dir.AddChildData(Name, []byte("inside"))
				dir.AddChildData(id, text)
				a.AddChunkData(UTF8, []byte("sibling"))

				require.NoError(t, a.Save())
				savedSize := a.FileSize()
				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.Equal(t, int64(savedSize), info.Size(), "sizes track compressed payloads after save")

				require.NoError(t, a.Reopen(ModeRead))
				require.Equal(t, 3, a.NumChunks())
				assert.Equal(t, savedSize, a.FileSize())
				require.NoError(t, a.LoadAll())

				got, err := a.Chunk(0).Decompressed()
				require.NoError(t, err)
				assert.Equal(t, text, got)

				got, err = a.Chunk(1).Child(1).Decompressed()
				require.NoError(t, err)
				assert.Equal(t, text, got)

				assert.Equal(t, "inside", string(a.Chunk(1).Child(0).Data()))
				assert.Equal(t, "sibling", string(a.Chunk(2).Data()))
			})
		}
	}
}

func TestCodecOverride(t *testing.T) {
	t.Parallel()

	blob := MakeID("BLOB")
	path := testutil.ArchivePath(t, "codec.iff")
	a, err := Create(path, WithCodec(blob, CodecZstd), WithCompressionLevel(3), WithWindowSize(8<<10))
	require.NoError(t, err)
	data := testutil.TextBytes(50_000)
	a.AddChunkData(blob, data)
	require.NoError(t, a.Save())
	require.NoError(t, a.Close())

	r, err := Open(path, WithCodec(blob, CodecZstd))
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.LoadAll())
	assert.Less(t, len(r.Chunk(0).Data()), len(data))
	got, err := r.Chunk(0).Decompressed()
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestContainerRegistration(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "reg.iff")
	a, err := Create(path)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.RegisterContainer(archiveID))
	assert.True(t, a.IsContainer(archiveID))
	c := a.AddChunk(archiveID)
	c.AddChildData(UTF8, []byte("child"))
	require.NoError(t, a.Save())

	// Without the registration the container reads back as an opaque leaf.
	require.NoError(t, a.UnregisterContainer(archiveID))
	require.NoError(t, a.Reopen(ModeRead))
	require.NoError(t, a.LoadAll())
	leaf := a.Chunk(0)
	assert.False(t, leaf.IsContainer())
	assert.Len(t, leaf.Data(), 16+5)

	// Registering again decodes the loaded payload in place.
	require.NoError(t, a.RegisterContainer(archiveID))
	require.True(t, leaf.IsContainer())
	assert.Equal(t, "child", string(leaf.Child(0).Data()))
	assert.Equal(t, leaf.Offset()+HeaderSize, leaf.Child(0).Offset())
}

func TestRegistrationChangesExistingChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// before runs on the reopened archive before the registry changes.
		before   func(*testing.T, *Archive)
		register bool
	}{
		{name: "register scanned", register: true},
		{name: "register loaded", register: true, before: func(t *testing.T, a *Archive) { require.NoError(t, a.LoadAll()) }},
		{name: "unregister scanned"},
		{name: "unregister loaded", before: func(t *testing.T, a *Archive) { require.NoError(t, a.LoadAll()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := testutil.ArchivePath(t, "change.iff")
			w, err := Create(path)
			require.NoError(t, err)
			require.NoError(t, w.RegisterContainer(archiveID))
			c := w.AddChunk(archiveID)
			c.AddChildData(Name, []byte("first"))
			c.AddChildData(UTF8, []byte("second"))
			w.AddChunkData(UTF8, []byte("tail"))
			require.NoError(t, w.Save())
			require.NoError(t, w.Close())

			var opts []Option
			if !tt.register {
				opts = append(opts, WithContainers(archiveID))
			}
			a, err := Open(path, opts...)
			require.NoError(t, err)
			defer a.Close()
			require.Equal(t, !tt.register, a.Chunk(0).IsContainer())
			if tt.before != nil {
				tt.before(t, a)
			}

			if tt.register {
				require.NoError(t, a.RegisterContainer(archiveID))
			} else {
				require.NoError(t, a.UnregisterContainer(archiveID))
			}

			c = a.Chunk(0)
			require.Equal(t, tt.register, c.IsContainer())
			assert.Equal(t, uint64(2*HeaderSize+5+6), c.Size())
			require.NoError(t, a.LoadAll())
			if tt.register {
				require.Equal(t, 2, c.NumChildren())
				assert.Equal(t, "first", string(c.Child(0).Data()))
				assert.Equal(t, "second", string(c.Child(1).Data()))
			} else {
				assert.Zero(t, c.NumChildren())
				assert.Len(t, c.Data(), 2*HeaderSize+5+6)
			}
			assert.Equal(t, "tail", string(a.Chunk(1).Data()))
		})
	}
}

func TestAddChildRegistersContainer(t *testing.T) {
	t.Parallel()

	bundle := MakeID("BUNDLE")
	path := testutil.ArchivePath(t, "bundle.iff")
	a, err := Create(path)
	require.NoError(t, err)
	defer a.Close()

	c := a.AddChunkData(bundle, []byte("replaced"))
	c.AddChildData(Name, []byte("kept"))
	assert.True(t, a.IsContainer(bundle))
	require.NoError(t, a.Save())

	require.NoError(t, a.Reopen(ModeRead))
	require.NoError(t, a.LoadAll())
	c = a.Chunk(0)
	require.True(t, c.IsContainer())
	require.Equal(t, 1, c.NumChildren())
	assert.Equal(t, "kept", string(c.Child(0).Data()))
}

func TestUnregisterInMemoryContainer(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "mem.iff")
	a, err := Create(path)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.RegisterContainer(archiveID))
	c := a.AddChunk(archiveID)
	c.AddChildData(UTF8, []byte("child"))

	require.NoError(t, a.UnregisterContainer(archiveID))
	require.False(t, c.IsContainer())
	want := encodeChunk(t, UTF8, "child")
	assert.Equal(t, want, c.Data())
	require.NoError(t, a.Save())

	require.NoError(t, a.Reopen(ModeRead))
	require.NoError(t, a.LoadAll())
	assert.Equal(t, want, a.Chunk(0).Data())
}

func TestFileSizeSaturates(t *testing.T) {
	t.Parallel()

	a, err := Create(testutil.ArchivePath(t, "huge.iff"))
	require.NoError(t, err)
	defer a.Close()

	a.AddChunkData(UTF8, []byte("small"))
	assert.Equal(t, uint64(16+16+5), a.FileSize())

	// Sizes this large cannot be allocated; forge one on the leaf.
	huge := a.AddChunk(UTF8)
	huge.size = ^uint64(0) - 8
	assert.Equal(t, ^uint64(0), a.FileSize())
	assert.Equal(t, ^uint64(0), a.Size())
}

func TestLazyLoad(t *testing.T) {
	t.Parallel()

	path := testutil.ArchivePath(t, "lazy.iff")
	a, err := Create(path)
	require.NoError(t, err)
	a.AddChunkData(UTF8, []byte("one"))
	a.AddChunkData(UTF8, []byte("two"))
	a.AddChunkData(UTF8, []byte("three"))
	require.NoError(t, a.Save())
	require.NoError(t, a.Reopen(ModeRead))
	defer a.Close()

	for _, c := range a.Chunks() {
		assert.False(t, c.Loaded())
		assert.Nil(t, c.Data())
	}
	third := a.Chunk(2)
	require.NoError(t, a.Load(third))
	assert.Equal(t, "three", string(third.Data()))
	assert.False(t, a.Chunk(0).Loaded())
	assert.Equal(t, int64(16+16+3+16+3+16), third.Offset())

	other, err := Create(testutil.ArchivePath(t, "other.iff"))
	require.NoError(t, err)
	defer other.Close()
	require.ErrorIs(t, other.Load(third), ErrForeignChunk)
	require.ErrorIs(t, a.Load(nil), ErrForeignChunk)
}

func TestProgressAndLogging(t *testing.T) {
	t.Parallel()

	var events []ProgressEvent
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	path := testutil.ArchivePath(t, "progress.iff")
	a, err := Create(path,
		WithLogger(logger),
		WithProgress(func(e ProgressEvent) { events = append(events, e) }),
	)
	require.NoError(t, err)
	defer a.Close()

	a.AddChunkData(UTF8, []byte("a"))
	a.AddChunk(UTF8)
	a.AddChunkData(UTF8, []byte("bb"))
	require.NoError(t, a.Save())

	require.Len(t, events, 2)
	assert.Equal(t, StageSaving, events[1].Stage)
	assert.Equal(t, uint64(17+18), events[1].BytesDone)
	assert.Equal(t, events[1].BytesTotal, events[1].BytesDone)
	assert.Equal(t, 3, events[1].ChunksDone)
	assert.Equal(t, 3, events[1].ChunksTotal)

	events = nil
	require.NoError(t, a.Reopen(ModeRead))
	require.Len(t, events, 2)
	assert.Equal(t, StageScanning, events[0].Stage)

	events = nil
	require.NoError(t, a.LoadAll())
	require.Len(t, events, 2)
	assert.Equal(t, StageLoading, events[1].Stage)

	assert.Contains(t, logs.String(), "saved archive")
	assert.Contains(t, logs.String(), "skipped empty chunk")
	assert.Contains(t, logs.String(), "opened archive")
}

func TestModeAndStageStrings(t *testing.T) {
	assert.Equal(t, "read", ModeRead.String())
	assert.Equal(t, "write", ModeWrite.String())
	assert.Equal(t, "unknown", Mode(9).String())
	assert.Equal(t, "scanning", StageScanning.String())
	assert.Equal(t, "loading", StageLoading.String())
	assert.Equal(t, "saving", StageSaving.String())
	assert.Equal(t, "unknown", ProgressStage(9).String())
}
