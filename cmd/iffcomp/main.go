// Command iffcomp packs files into an IFF64 archive as compressed text
// chunks, reopens the archive and verifies each file's digest.
package main

import (
	_ "crypto/sha256" // registers the digest algorithm
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"charm.land/log/v2"
	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/cobra"

	"github.com/Urethramancer/iff"
)

const (
	exitUsage = 1
	exitFail  = 2
)

var errDigestMismatch = errors.New("digest mismatch")

// exitError carries the process exit status for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// chunkIDs maps each codec to the identifier its chunks are stored under.
var chunkIDs = map[iff.Codec]iff.ID{
	iff.CodecZlib: iff.CompUTF8,
	iff.CodecZstd: iff.ZstdUTF8,
	iff.CodecLZ4:  iff.LZ4UTF8,
}

type compOptions struct {
	archive string
	files   []string
	codec   iff.Codec
	level   int
}

type entry struct {
	Name   string
	Size   int
	Digest digest.Digest
}

type result struct {
	Chunks  int
	Size    uint64
	Entries []entry
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "iffcomp",
		Short:         "Pack files into a compressed IFF64 archive",
		Long:          "Store each input as a FOLDER holding its NAME and compressed contents, then reopen the archive and verify every payload.",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadCompOptions(cmd)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			cmd.SilenceUsage = true

			verbose, _ := cmd.Flags().GetBool("verbose")
			res, err := runComp(opts, newLogger(cmd.ErrOrStderr(), verbose))
			if err != nil {
				return &exitError{code: exitFail, err: err}
			}
			cmd.Printf("%s: %d chunks, %s\n", opts.archive, res.Chunks, humanize.IBytes(res.Size))
			for _, e := range res.Entries {
				cmd.Printf("  %s  %s  %s\n", e.Digest, humanize.IBytes(uint64(e.Size)), e.Name) //nolint:gosec // len is non-negative
			}
			return nil
		},
	}
	cmd.Flags().StringP("archive", "a", "", "Path of the archive to create")
	cmd.Flags().StringArrayP("file", "f", nil, "File to add (repeatable)")
	cmd.Flags().String("codec", "zlib", "Compression codec: zlib, zstd or lz4")
	cmd.Flags().Int("level", 0, "Codec-specific compression level (0 for default)")
	cmd.Flags().BoolP("verbose", "v", false, "Log archive operations")
	return cmd
}

func loadCompOptions(cmd *cobra.Command) (compOptions, error) {
	archive, _ := cmd.Flags().GetString("archive")
	files, _ := cmd.Flags().GetStringArray("file")
	codecName, _ := cmd.Flags().GetString("codec")
	level, _ := cmd.Flags().GetInt("level")

	if archive == "" {
		return compOptions{}, errors.New("--archive is required")
	}
	if len(files) == 0 {
		return compOptions{}, errors.New("at least one --file is required")
	}
	codec, err := iff.ParseCodec(codecName)
	if err != nil {
		return compOptions{}, err
	}
	return compOptions{archive: archive, files: files, codec: codec, level: level}, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{Prefix: "iffcomp"})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	}
	return slog.New(handler)
}

// runComp writes every input to the archive, reopens it and checks that each
// payload decompresses to the digest recorded when it was added.
func runComp(opts compOptions, logger *slog.Logger) (result, error) {
	id := chunkIDs[opts.codec]
	a, err := iff.Create(opts.archive,
		iff.WithLogger(logger),
		iff.WithCompressionLevel(opts.level),
	)
	if err != nil {
		return result{}, err
	}
	defer a.Close()

	for _, path := range opts.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return result{}, err
		}
		dir := a.AddChunk(iff.Folder)
		dir.AddChildData(iff.Name, []byte(filepath.Base(path)))
		dir.AddChildData(id, data)
		if err := dir.SetProperty("digest", digest.FromBytes(data).String()); err != nil {
			return result{}, err
		}
	}

	if err := a.Save(); err != nil {
		return result{}, fmt.Errorf("save: %w", err)
	}
	if err := a.Reopen(iff.ModeRead); err != nil {
		return result{}, fmt.Errorf("reopen: %w", err)
	}
	if err := a.LoadAll(); err != nil {
		return result{}, fmt.Errorf("load: %w", err)
	}

	res := result{Chunks: a.NumChunks(), Size: a.FileSize()}
	for _, dir := range a.Chunks() {
		e, err := verifyEntry(dir, id)
		if err != nil {
			return res, err
		}
		res.Entries = append(res.Entries, e)
	}
	return res, nil
}

func verifyEntry(dir *iff.Chunk, id iff.ID) (entry, error) {
	name := dir.Find(iff.Name)
	if name == nil {
		return entry{}, fmt.Errorf("folder at offset %d: missing %s chunk", dir.Offset(), iff.Name)
	}
	// Empty inputs are not saved, so their body chunk is absent.
	var data []byte
	if body := dir.Find(id); body != nil {
		var err error
		if data, err = body.Decompressed(); err != nil {
			return entry{}, fmt.Errorf("%s: %w", name.Data(), err)
		}
	}

	var recorded string
	if err := dir.Property("digest", &recorded); err != nil {
		return entry{}, fmt.Errorf("%s: %w", name.Data(), err)
	}
	want, err := digest.Parse(recorded)
	if err != nil {
		return entry{}, fmt.Errorf("%s: %w", name.Data(), err)
	}
	if got := want.Algorithm().FromBytes(data); got != want {
		return entry{}, fmt.Errorf("%w: %s: recorded %s, got %s", errDigestMismatch, name.Data(), want, got)
	}
	return entry{Name: string(name.Data()), Size: len(data), Digest: want}, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "iffcomp:", err)
		code := exitUsage
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}
