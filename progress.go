package iff

// ProgressEvent represents a progress update during scan, load, or save.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// ID is the top-level chunk just processed.
	ID ID

	// BytesDone is the number of bytes completed in the current operation.
	BytesDone uint64

	// BytesTotal is the total bytes for the current operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// ChunksDone is the number of top-level chunks completed.
	ChunksDone int

	// ChunksTotal is the number of top-level chunks.
	// Zero indicates the total is unknown (e.g., during scanning).
	ChunksTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageScanning indicates chunk headers are being read.
	StageScanning ProgressStage = iota

	// StageLoading indicates chunk payloads are being read into memory.
	StageLoading

	// StageSaving indicates chunks are being written.
	StageSaving
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageScanning:
		return "scanning"
	case StageLoading:
		return "loading"
	case StageSaving:
		return "saving"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates. It is called synchronously from
// the goroutine running the operation.
type ProgressFunc func(ProgressEvent)
