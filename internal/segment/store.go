package segment

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store owns the segment files of one stream. It is written by a single
// goroutine (the ingest task); the mutex only protects against Cleanup
// running concurrently from a teardown path.
type Store struct {
	dir string
	now func() time.Time
	log *slog.Logger

	mu      sync.Mutex
	nextSeq uint64
	open    *openSegment
	removed bool
}

type openSegment struct {
	seg     Segment
	file    *os.File
	started time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock used for elapsed-time durations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for cleanup failures.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// NewStore creates dir (and parents) and returns a Store writing into it.
func NewStore(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir: dir,
		now: time.Now,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return s, nil
}

// Dir returns the segment directory.
func (s *Store) Dir() string { return s.dir }

// Path returns the absolute on-disk path of seg.
func (s *Store) Path(seg Segment) string {
	return filepath.Join(s.dir, seg.FilePath)
}

// Open returns the descriptor of the open segment, if any.
func (s *Store) Open() (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		return Segment{}, false
	}
	return s.open.seg, true
}

// StartNewSegment opens segment<N>.ts for append, N being the next sequence.
func (s *Store) StartNewSegment(startTime time.Duration) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		return Segment{}, ErrSegmentAlreadyOpen
	}
	if s.removed {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return Segment{}, &IOError{Op: "mkdir", Path: s.dir, Err: err}
		}
		s.removed = false
	}

	seg := Segment{
		Sequence:  s.nextSeq,
		FilePath:  FileName(s.nextSeq),
		StartTime: startTime,
	}
	path := s.Path(seg)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0o644)
	if err != nil {
		return Segment{}, &IOError{Op: "create", Path: path, Err: err}
	}

	s.nextSeq++
	s.open = &openSegment{seg: seg, file: f, started: s.now()}
	return seg, nil
}

// WriteEncodedData appends p to the open segment.
func (s *Store) WriteEncodedData(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open == nil {
		return ErrNoActiveSegment
	}
	n, err := s.open.file.Write(p)
	s.open.seg.Size += int64(n)
	if err != nil {
		return &IOError{Op: "write", Path: s.open.file.Name(), Err: err}
	}
	return nil
}

// FinishCurrentSegment closes the open segment, using the wall-clock time
// elapsed since StartNewSegment as its duration.
func (s *Store) FinishCurrentSegment() (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open == nil {
		return Segment{}, ErrNoActiveSegment
	}
	return s.finishLocked(s.now().Sub(s.open.started))
}

// FinishCurrentSegmentAt closes the open segment with a duration derived from
// media timestamps. If end does not lie after the segment's start time the
// elapsed wall-clock time is used instead.
func (s *Store) FinishCurrentSegmentAt(end time.Duration) (Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open == nil {
		return Segment{}, ErrNoActiveSegment
	}
	d := end - s.open.seg.StartTime
	if d <= 0 {
		d = s.now().Sub(s.open.started)
	}
	return s.finishLocked(d)
}

func (s *Store) finishLocked(d time.Duration) (Segment, error) {
	open := s.open
	s.open = nil

	seg := open.seg
	seg.Duration = d.Seconds()
	if err := open.file.Close(); err != nil {
		return seg, &IOError{Op: "close", Path: open.file.Name(), Err: err}
	}
	return seg, nil
}

// Remove deletes a finalized segment file. A missing file is not an error.
func (s *Store) Remove(seg Segment) error {
	path := s.Path(seg)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// Cleanup closes any open segment and deletes the segment directory.
// Safe to call repeatedly; failures are logged, never returned.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open != nil {
		if err := s.open.file.Close(); err != nil {
			s.log.Warn("close open segment during cleanup",
				slog.String("path", s.open.file.Name()),
				slog.String("error", err.Error()))
		}
		s.open = nil
	}
	if s.removed {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		s.log.Error("remove segment directory",
			slog.String("dir", s.dir),
			slog.String("error", err.Error()))
		return
	}
	s.removed = true
}
