// Command ifftest builds a small nested archive, saves it, reopens it and
// checks that the chunk count, file size and payloads survive the round trip.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"charm.land/log/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Urethramancer/iff"
)

const (
	exitUsage = 1
	exitFail  = 2
)

var errMismatch = errors.New("round-trip mismatch")

var archiveID = iff.MakeID("ARCHIVE")

// exitError carries the process exit status for an error.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

type report struct {
	WantSize, GotSize     uint64
	WantChunks, GotChunks int
	Mismatched            []string
}

func (r report) OK() bool {
	return r.WantSize == r.GotSize && r.WantChunks == r.GotChunks && len(r.Mismatched) == 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ifftest",
		Short:         "Round-trip a nested IFF64 archive",
		Long:          "Build an archive with nested containers, save it, reopen it and compare chunk counts, sizes and payloads.",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("test")
			verbose, _ := cmd.Flags().GetBool("verbose")
			if path == "" {
				return &exitError{code: exitUsage, err: errors.New("--test is required")}
			}
			cmd.SilenceUsage = true

			r, err := runTest(path, newLogger(cmd.ErrOrStderr(), verbose))
			if err != nil {
				return &exitError{code: exitFail, err: err}
			}
			printReport(cmd, r)
			if !r.OK() {
				return &exitError{code: exitFail, err: errMismatch}
			}
			cmd.Println("ifftest: ok")
			return nil
		},
	}
	cmd.Flags().String("test", "", "Path of the archive to create")
	cmd.Flags().BoolP("verbose", "v", false, "Log archive operations")
	return cmd
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	handler := log.NewWithOptions(w, log.Options{Prefix: "ifftest"})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	}
	return slog.New(handler)
}

// runTest writes the demonstration archive to path and verifies it.
func runTest(path string, logger *slog.Logger) (report, error) {
	a, err := iff.Create(path, iff.WithLogger(logger))
	if err != nil {
		return report{}, err
	}
	defer a.Close()

	if err := a.RegisterContainer(archiveID); err != nil {
		return report{}, err
	}
	a.AddChunkData(iff.UTF8, []byte("This is some testdata."))
	a.AddChunkData(iff.UTF8, []byte("More testdata."))
	c := a.AddChunk(archiveID)
	c.AddChildData(iff.UTF8, []byte("Yet more testdata."))
	c.AddChildData(iff.UTF8, []byte("Even more testdata!"))
	c = a.AddChunk(iff.Folder)
	c.AddChildData(iff.UTF8, []byte("So much testdata!"))
	c.AddChildData(iff.UTF8, []byte("This is deeply nested."))

	r := report{WantSize: a.FileSize(), WantChunks: a.NumChunks()}
	want := payloads(a)

	if err := a.Save(); err != nil {
		return r, fmt.Errorf("save: %w", err)
	}
	if err := a.Reopen(iff.ModeRead); err != nil {
		return r, fmt.Errorf("reopen: %w", err)
	}
	r.GotSize, r.GotChunks = a.FileSize(), a.NumChunks()
	if err := a.LoadAll(); err != nil {
		return r, fmt.Errorf("load: %w", err)
	}

	got := payloads(a)
	for i := range max(len(want), len(got)) {
		if i >= len(want) || i >= len(got) || want[i] != got[i] {
			r.Mismatched = append(r.Mismatched, fmt.Sprintf("leaf %d", i))
		}
	}
	return r, nil
}

// payloads returns every leaf payload of a in depth-first order.
func payloads(a *iff.Archive) []string {
	var out []string
	var walk func(c *iff.Chunk)
	walk = func(c *iff.Chunk) {
		if !c.IsContainer() {
			out = append(out, string(c.Data()))
			return
		}
		for _, child := range c.Children() {
			walk(child)
		}
	}
	for _, c := range a.Chunks() {
		walk(c)
	}
	return out
}

func printReport(cmd *cobra.Command, r report) {
	cmd.Printf("expected: %d chunks, %s (%d bytes)\n", r.WantChunks, humanize.IBytes(r.WantSize), r.WantSize)
	cmd.Printf("reopened: %d chunks, %s (%d bytes)\n", r.GotChunks, humanize.IBytes(r.GotSize), r.GotSize)
	for _, m := range r.Mismatched {
		cmd.Printf("  payload differs: %s\n", m)
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ifftest:", err)
		code := exitUsage
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}
