package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"mirrorcast/internal/platform/metrics"
	"mirrorcast/internal/playlist"
	"mirrorcast/internal/segment"
)

var (
	// ErrNotFound is returned for a sequence or variant the window does not hold.
	ErrNotFound = errors.New("not found")

	// ErrStreamEnded is returned by Submit and End once the stream was ended.
	ErrStreamEnded = errors.New("stream has ended")

	// ErrStopped is returned when the ingest task is not running.
	ErrStopped = errors.New("ingest task stopped")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("ingest task already running")

	// ErrInvalidSettings is returned by UpdateSettings for a non-positive duration.
	ErrInvalidSettings = errors.New("invalid stream settings")
)

// Mode selects how the media playlist evolves.
type Mode int

const (
	// Live keeps a sliding window of PlaylistLength segments.
	Live Mode = iota
	// Event keeps every segment and turns into VOD when the stream ends.
	Event
)

func (m Mode) String() string {
	if m == Event {
		return "event"
	}
	return "live"
}

// ParseMode maps "live" or "event" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "live":
		return Live, nil
	case "event":
		return Event, nil
	}
	return Live, fmt.Errorf("unknown playlist mode %q", s)
}

// Chunk is one piece of encoded media handed to the ingest task.
type Chunk struct {
	Data []byte
	// Timestamp is the media time of the first byte.
	Timestamp time.Duration
	// Keyframe marks a chunk a new segment may start at.
	Keyframe bool
}

// Stats is a point-in-time view of the ingest task and window.
type Stats struct {
	Mode              string  `json:"mode"`
	WindowSegments    int     `json:"window_segments"`
	OldestSequence    *uint64 `json:"oldest_sequence,omitempty"`
	NewestSequence    *uint64 `json:"newest_sequence,omitempty"`
	SegmentOpen       bool    `json:"segment_open"`
	SegmentsFinalized uint64  `json:"segments_finalized"`
	SegmentsEvicted   uint64  `json:"segments_evicted"`
	BytesIngested     int64   `json:"bytes_ingested"`
	MediaTimeSeconds  float64 `json:"media_time_seconds"`
	TargetDuration    float64 `json:"target_duration_seconds"`
	Ended             bool    `json:"ended"`
}

// Settings are the ingest parameters that can change while streaming.
type Settings struct {
	TargetSegmentDuration float64 `json:"segment_duration"`
}

type msgKind int

const (
	msgChunk msgKind = iota
	msgFlush
	msgEnd
	msgSettings
)

type message struct {
	kind     msgKind
	chunk    Chunk
	settings Settings
	reply    chan error
}

// Service is the single writer of a segment.Store. Run owns the store and
// the window's write side; everything else talks to it through messages.
type Service struct {
	store *segment.Store
	cfg   atomic.Pointer[playlist.Config]

	mode          Mode
	variants      []playlist.Variant
	log           *slog.Logger
	met           *metrics.Metrics
	cleanupOnExit bool
	persist       bool
	now           func() time.Time

	window  *Window
	started time.Time
	msgs    chan message
	done    chan struct{}
	running atomic.Bool
	ended   atomic.Bool

	finalized atomic.Uint64
	evicted   atomic.Uint64
	bytes     atomic.Int64
}

// Option configures a Service.
type Option func(*Service)

// WithMode sets Live (default) or Event.
func WithMode(m Mode) Option { return func(s *Service) { s.mode = m } }

// WithVariants sets the variants listed by the master playlist.
func WithVariants(v []playlist.Variant) Option {
	return func(s *Service) { s.variants = append([]playlist.Variant(nil), v...) }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option { return func(s *Service) { s.log = log } }

// WithMetrics records ingest counters in m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.met = m } }

// WithCleanupOnExit removes the segment directory when Run returns.
func WithCleanupOnExit(on bool) Option { return func(s *Service) { s.cleanupOnExit = on } }

// WithPlaylistFile writes the media playlist to <dir>/index.m3u8 after
// every change to the window.
func WithPlaylistFile(on bool) Option { return func(s *Service) { s.persist = on } }

// WithClock overrides the clock behind MediaTime.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a Service writing into store. Call Run to start it.
func NewService(store *segment.Store, cfg playlist.Config, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   slog.New(slog.DiscardHandler),
		now:   time.Now,
		msgs:  make(chan message),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cfg.Store(&cfg)
	limit := cfg.PlaylistLength
	if s.mode == Event {
		limit = 0
	}
	s.window = NewWindow(limit)
	s.started = s.now()
	return s
}

// Window exposes the rolling window for read-only use.
func (s *Service) Window() *Window { return s.window }

// Mode returns the playlist mode.
func (s *Service) Mode() Mode { return s.mode }

// Run processes ingest messages until ctx is cancelled. On exit the open
// segment is finished and, if configured, the segment directory removed.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	cfg := s.cfg.Load()
	s.log.Info("ingest task started",
		slog.String("dir", s.store.Dir()),
		slog.String("mode", s.mode.String()),
		slog.Float64("target_duration", cfg.TargetSegmentDuration),
		slog.Int("playlist_length", cfg.PlaylistLength))

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case m := <-s.msgs:
			m.reply <- s.handle(m)
		}
	}
}

// Submit hands c to the ingest task and waits until it has been written.
func (s *Service) Submit(ctx context.Context, c Chunk) error {
	if s.ended.Load() {
		return ErrStreamEnded
	}
	return s.send(ctx, message{kind: msgChunk, chunk: c})
}

// Flush finishes the open segment, if any, so it becomes visible.
func (s *Service) Flush(ctx context.Context) error {
	return s.send(ctx, message{kind: msgFlush})
}

// End flushes and marks the stream ended. Event playlists become VOD.
func (s *Service) End(ctx context.Context) error {
	if s.ended.Load() {
		return ErrStreamEnded
	}
	return s.send(ctx, message{kind: msgEnd})
}

// UpdateSettings changes the target segment duration. The open segment and
// every later one rotate against the new target.
func (s *Service) UpdateSettings(ctx context.Context, st Settings) error {
	if st.TargetSegmentDuration <= 0 {
		return fmt.Errorf("segment_duration %v: %w", st.TargetSegmentDuration, ErrInvalidSettings)
	}
	return s.send(ctx, message{kind: msgSettings, settings: st})
}

// Settings returns the settings in effect.
func (s *Service) Settings() Settings {
	return Settings{TargetSegmentDuration: s.cfg.Load().TargetSegmentDuration}
}

func (s *Service) send(ctx context.Context, m message) error {
	m.reply = make(chan error, 1)
	select {
	case s.msgs <- m:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-m.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) handle(m message) error {
	if s.window.Ended() {
		return ErrStreamEnded
	}
	switch m.kind {
	case msgChunk:
		return s.write(m.chunk)
	case msgFlush:
		return s.flush()
	case msgEnd:
		if err := s.flush(); err != nil {
			return err
		}
		s.window.SetEnded()
		s.ended.Store(true)
		s.writePlaylist()
		s.log.Info("stream ended", slog.Int("window_segments", s.window.Len()))
		return nil
	case msgSettings:
		cfg := *s.cfg.Load()
		prev := cfg.TargetSegmentDuration
		cfg.TargetSegmentDuration = m.settings.TargetSegmentDuration
		s.cfg.Store(&cfg)
		s.writePlaylist()
		s.log.Info("settings updated",
			slog.Float64("previous_target_duration", prev),
			slog.Float64("target_duration", cfg.TargetSegmentDuration))
		return nil
	}
	return nil
}

func (s *Service) write(c Chunk) error {
	open, ok := s.store.Open()
	switch {
	case !ok:
		if _, err := s.store.StartNewSegment(c.Timestamp); err != nil {
			return err
		}
	case c.Keyframe && (c.Timestamp-open.StartTime).Seconds() >= s.cfg.Load().TargetSegmentDuration:
		seg, err := s.store.FinishCurrentSegmentAt(c.Timestamp)
		if err != nil {
			return err
		}
		s.finalize(seg)
		if _, err := s.store.StartNewSegment(c.Timestamp); err != nil {
			return err
		}
	}

	if err := s.store.WriteEncodedData(c.Data); err != nil {
		s.log.Error("segment write failed", slog.Any("error", err))
		return err
	}
	s.bytes.Add(int64(len(c.Data)))
	s.met.AddIngestBytes(len(c.Data))
	return nil
}

func (s *Service) flush() error {
	if _, ok := s.store.Open(); !ok {
		return nil
	}
	seg, err := s.store.FinishCurrentSegment()
	if err != nil {
		return err
	}
	s.finalize(seg)
	return nil
}

// finalize publishes seg and deletes whatever fell out of the window.
func (s *Service) finalize(seg segment.Segment) {
	evicted := s.window.Append(seg)
	s.finalized.Add(1)
	s.met.ObserveSegment(seg.Duration)
	s.log.Debug("segment finalized",
		slog.Uint64("sequence", seg.Sequence),
		slog.Float64("duration", seg.Duration),
		slog.Int64("size", seg.Size))

	for _, old := range evicted {
		if err := s.store.Remove(old); err != nil {
			s.log.Warn("evicted segment not removed",
				slog.Uint64("sequence", old.Sequence),
				slog.Any("error", err))
		}
	}
	s.evicted.Add(uint64(len(evicted)))
	s.met.AddEvicted(len(evicted))
	s.writePlaylist()
}

func (s *Service) shutdown() {
	if err := s.flush(); err != nil {
		s.log.Error("final segment not finished", slog.Any("error", err))
	}
	if s.cleanupOnExit {
		s.store.Cleanup()
	}
	s.log.Info("ingest task stopped",
		slog.Uint64("segments_finalized", s.finalized.Load()),
		slog.Bool("cleaned_up", s.cleanupOnExit))
}

// MediaTime is the time since the service was created. HTTP ingest uses it
// to timestamp chunks.
func (s *Service) MediaTime() time.Duration {
	return s.now().Sub(s.started)
}

// MediaPlaylist renders the current window.
func (s *Service) MediaPlaylist() string {
	segs, ended := s.window.Snapshot()
	cfg := *s.cfg.Load()
	switch {
	case s.mode == Event && ended:
		return playlist.VOD(segs, cfg)
	case s.mode == Event:
		return playlist.Event(segs, cfg)
	default:
		return playlist.Media(segs, cfg)
	}
}

// HasVariants reports whether a master playlist is configured.
func (s *Service) HasVariants() bool { return len(s.variants) > 0 }

// MasterPlaylist renders the variant list. A non-empty lease is appended to
// every variant URI so players keep presenting it on reload.
func (s *Service) MasterPlaylist(lease string) (string, bool) {
	if len(s.variants) == 0 {
		return "", false
	}
	variants := s.variants
	if lease != "" {
		variants = make([]playlist.Variant, len(s.variants))
		for i, v := range s.variants {
			v.PlaylistPath += "?lease=" + url.QueryEscape(lease)
			variants[i] = v
		}
	}
	return playlist.Master(variants), true
}

// VariantPlaylist renders the media playlist behind a variant path. The
// encoder produces one rendition, so every variant shares the window.
func (s *Service) VariantPlaylist(name string) (string, error) {
	for _, v := range s.variants {
		if v.PlaylistPath == name || strings.TrimSuffix(v.PlaylistPath, ".m3u8") == name {
			return s.MediaPlaylist(), nil
		}
	}
	return "", fmt.Errorf("variant %q: %w", name, ErrNotFound)
}

// Segment resolves seq to its file. Sequences outside the window are
// ErrNotFound even if the file still exists.
func (s *Service) Segment(seq uint64) (string, segment.Segment, error) {
	seg, ok := s.window.Lookup(seq)
	if !ok {
		return "", segment.Segment{}, fmt.Errorf("segment %d: %w", seq, ErrNotFound)
	}
	return s.store.Path(seg), seg, nil
}

// Stats returns counters for the stats and admin endpoints.
func (s *Service) Stats() Stats {
	segs, ended := s.window.Snapshot()
	_, open := s.store.Open()
	st := Stats{
		Mode:              s.mode.String(),
		WindowSegments:    len(segs),
		SegmentOpen:       open,
		SegmentsFinalized: s.finalized.Load(),
		SegmentsEvicted:   s.evicted.Load(),
		BytesIngested:     s.bytes.Load(),
		MediaTimeSeconds:  s.MediaTime().Seconds(),
		TargetDuration:    s.cfg.Load().TargetSegmentDuration,
		Ended:             ended,
	}
	if n := len(segs); n > 0 {
		oldest, newest := segs[0].Sequence, segs[n-1].Sequence
		st.OldestSequence, st.NewestSequence = &oldest, &newest
	}
	return st
}
