package segment

import (
	"errors"
	"fmt"
	"time"
)

// Segment is one finalized (or currently open) chunk of encoded media on disk.
type Segment struct {
	Sequence  uint64        `json:"sequence"`
	Duration  float64       `json:"duration"`
	FilePath  string        `json:"path"`
	StartTime time.Duration `json:"start_time"`
	Size      int64         `json:"size"`
}

var (
	// ErrSegmentAlreadyOpen is returned by StartNewSegment while another segment is open.
	ErrSegmentAlreadyOpen = errors.New("segment already open")

	// ErrNoActiveSegment is returned by writes and finishes when no segment is open.
	ErrNoActiveSegment = errors.New("no active segment")

	// ErrSegmentIO matches every *IOError via errors.Is.
	ErrSegmentIO = errors.New("segment io error")
)

// IOError describes a failed filesystem operation on a segment file or directory.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("segment %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is reports ErrSegmentIO so callers can classify without a type assertion.
func (e *IOError) Is(target error) bool { return target == ErrSegmentIO }

// FileName returns the deterministic file name for a sequence number.
func FileName(seq uint64) string {
	return fmt.Sprintf("segment%d.ts", seq)
}
