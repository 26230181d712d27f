package live

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mirrorcast/internal/playlist"
	"mirrorcast/internal/segment"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc   *Service
	store *segment.Store
	clock *clock
	stop  func() error
}

func start(t *testing.T, cfg playlist.Config, opts ...Option) *harness {
	t.Helper()
	c := newClock()
	store, err := segment.NewStore(t.TempDir(), segment.WithClock(c.now))
	require.NoError(t, err)

	svc := NewService(store, cfg, append([]Option{WithClock(c.now)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.Run(ctx) }()

	var once sync.Once
	var runErr error
	stop := func() error {
		once.Do(func() {
			cancel()
			runErr = <-errc
		})
		return runErr
	}
	t.Cleanup(func() { _ = stop() })
	return &harness{svc: svc, store: store, clock: c, stop: stop}
}

func liveConfig() playlist.Config {
	return playlist.Config{TargetSegmentDuration: 2, PlaylistLength: 3}
}

// feed submits one keyframe chunk per second of media time in [from, to).
func feed(t *testing.T, svc *Service, from, to int) {
	t.Helper()
	for s := from; s < to; s++ {
		err := svc.Submit(context.Background(), Chunk{
			Data:      make([]byte, 188),
			Timestamp: time.Duration(s) * time.Second,
			Keyframe:  true,
		})
		require.NoError(t, err)
	}
}

func TestService_rotates_at_target_duration(t *testing.T) {
	h := start(t, liveConfig())

	// Seconds 0..6 produce segments [0,2) [2,4) [4,6) and leave [6,..) open.
	feed(t, h.svc, 0, 7)

	segs, _ := h.svc.Window().Snapshot()
	require.Len(t, segs, 3)
	for i, s := range segs {
		assert.Equal(t, uint64(i), s.Sequence)
		assert.InDelta(t, 2.0, s.Duration, 1e-9)
		assert.Equal(t, int64(2*188), s.Size)
	}
	open, ok := h.store.Open()
	require.True(t, ok)
	assert.Equal(t, uint64(3), open.Sequence)
	assert.Equal(t, 6*time.Second, open.StartTime)
}

func TestService_UpdateSettings_changes_rotation(t *testing.T) {
	h := start(t, liveConfig())
	ctx := context.Background()

	feed(t, h.svc, 0, 3) // [0,2) finalized, [2,..) open
	require.NoError(t, h.svc.UpdateSettings(ctx, Settings{TargetSegmentDuration: 4}))
	assert.Equal(t, 4.0, h.svc.Settings().TargetSegmentDuration)
	assert.Equal(t, 4.0, h.svc.Stats().TargetDuration)

	feed(t, h.svc, 3, 7)
	segs, _ := h.svc.Window().Snapshot()
	require.Len(t, segs, 2)
	assert.InDelta(t, 2.0, segs[0].Duration, 1e-9)
	assert.InDelta(t, 4.0, segs[1].Duration, 1e-9)
	assert.Contains(t, h.svc.MediaPlaylist(), "#EXT-X-TARGETDURATION:4\n")

	err := h.svc.UpdateSettings(ctx, Settings{TargetSegmentDuration: 0})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, 4.0, h.svc.Settings().TargetSegmentDuration)

	require.NoError(t, h.svc.End(ctx))
	assert.ErrorIs(t, h.svc.UpdateSettings(ctx, Settings{TargetSegmentDuration: 6}), ErrStreamEnded)
}

func TestService_non_keyframe_does_not_rotate(t *testing.T) {
	h := start(t, liveConfig())
	ctx := context.Background()

	require.NoError(t, h.svc.Submit(ctx, Chunk{Data: []byte{1}, Timestamp: 0, Keyframe: true}))
	require.NoError(t, h.svc.Submit(ctx, Chunk{Data: []byte{2}, Timestamp: 5 * time.Second}))
	assert.Equal(t, 0, h.svc.Window().Len())

	require.NoError(t, h.svc.Submit(ctx, Chunk{Data: []byte{3}, Timestamp: 6 * time.Second, Keyframe: true}))
	segs, _ := h.svc.Window().Snapshot()
	require.Len(t, segs, 1)
	assert.InDelta(t, 6.0, segs[0].Duration, 1e-9)
}

func TestService_evicts_and_deletes(t *testing.T) {
	h := start(t, liveConfig())
	feed(t, h.svc, 0, 11) // five finalized segments, window keeps 2..4

	segs, _ := h.svc.Window().Snapshot()
	require.Len(t, segs, 3)
	assert.Equal(t, uint64(2), segs[0].Sequence)

	for _, seq := range []uint64{0, 1} {
		_, err := os.Stat(filepath.Join(h.store.Dir(), segment.FileName(seq)))
		assert.True(t, os.IsNotExist(err), "segment%d.ts should be deleted", seq)

		_, _, err = h.svc.Segment(seq)
		assert.ErrorIs(t, err, ErrNotFound)
	}

	path, s, err := h.svc.Segment(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), s.Sequence)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	assert.Contains(t, h.svc.MediaPlaylist(), "#EXT-X-MEDIA-SEQUENCE:2\n")

	st := h.svc.Stats()
	assert.Equal(t, uint64(5), st.SegmentsFinalized)
	assert.Equal(t, uint64(2), st.SegmentsEvicted)
	assert.Equal(t, int64(11*188), st.BytesIngested)
	require.NotNil(t, st.OldestSequence)
	assert.Equal(t, uint64(2), *st.OldestSequence)
	assert.Equal(t, uint64(4), *st.NewestSequence)
	assert.True(t, st.SegmentOpen)
}

func TestService_Flush_uses_wall_clock(t *testing.T) {
	h := start(t, liveConfig())
	ctx := context.Background()

	require.NoError(t, h.svc.Submit(ctx, Chunk{Data: []byte{1}, Keyframe: true}))
	h.clock.advance(1500 * time.Millisecond)
	require.NoError(t, h.svc.Flush(ctx))

	segs, _ := h.svc.Window().Snapshot()
	require.Len(t, segs, 1)
	assert.InDelta(t, 1.5, segs[0].Duration, 1e-9)

	require.NoError(t, h.svc.Flush(ctx), "flush without an open segment is a no-op")
	assert.Equal(t, 1, h.svc.Window().Len())
}

func TestService_event_mode_becomes_vod(t *testing.T) {
	h := start(t, liveConfig(), WithMode(Event))
	ctx := context.Background()
	feed(t, h.svc, 0, 11)

	assert.Equal(t, 5, h.svc.Window().Len(), "event mode never evicts")
	p := h.svc.MediaPlaylist()
	assert.Contains(t, p, "#EXT-X-PLAYLIST-TYPE:EVENT\n")
	assert.NotContains(t, p, "#EXT-X-ENDLIST")

	require.NoError(t, h.svc.End(ctx))
	p = h.svc.MediaPlaylist()
	assert.Contains(t, p, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	assert.True(t, strings.HasSuffix(p, "#EXT-X-ENDLIST\n"))
	assert.Equal(t, 6, h.svc.Window().Len(), "End finishes the open segment")

	assert.ErrorIs(t, h.svc.Submit(ctx, Chunk{Data: []byte{1}}), ErrStreamEnded)
	assert.ErrorIs(t, h.svc.End(ctx), ErrStreamEnded)
	assert.True(t, h.svc.Stats().Ended)
}

func TestService_live_mode_end(t *testing.T) {
	h := start(t, liveConfig())
	feed(t, h.svc, 0, 3)
	require.NoError(t, h.svc.End(context.Background()))

	p := h.svc.MediaPlaylist()
	assert.NotContains(t, p, "#EXT-X-PLAYLIST-TYPE")
	assert.Equal(t, 2, h.svc.Window().Len())
}

func TestService_persists_playlist(t *testing.T) {
	h := start(t, liveConfig(), WithPlaylistFile(true))
	feed(t, h.svc, 0, 5)

	data, err := os.ReadFile(h.svc.PlaylistPath())
	require.NoError(t, err)
	assert.Equal(t, h.svc.MediaPlaylist(), string(data))
	assert.Equal(t, filepath.Join(h.store.Dir(), "index.m3u8"), h.svc.PlaylistPath())
}

func TestService_shutdown_finishes_and_cleans_up(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := start(t, liveConfig(), WithCleanupOnExit(true))
	feed(t, h.svc, 0, 3)
	dir := h.store.Dir()

	require.NoError(t, h.stop())

	assert.Equal(t, 2, h.svc.Window().Len(), "open segment finished on shutdown")
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "segment directory removed")

	err = h.svc.Submit(context.Background(), Chunk{Data: []byte{1}})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestService_shutdown_keeps_files(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := start(t, liveConfig())
	feed(t, h.svc, 0, 3)
	require.NoError(t, h.stop())

	_, err := os.Stat(filepath.Join(h.store.Dir(), segment.FileName(1)))
	assert.NoError(t, err)
}

func TestService_Run_twice(t *testing.T) {
	h := start(t, liveConfig())
	// Make sure the first Run is up before racing it.
	require.NoError(t, h.svc.Flush(context.Background()))
	assert.ErrorIs(t, h.svc.Run(context.Background()), ErrAlreadyRunning)
}

func TestService_Submit_respects_context(t *testing.T) {
	store, err := segment.NewStore(t.TempDir())
	require.NoError(t, err)
	svc := NewService(store, liveConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, svc.Submit(ctx, Chunk{}), context.Canceled, "Run was never started")
}

func TestService_variants(t *testing.T) {
	variants := []playlist.Variant{
		{Bandwidth: 2_000_000, Width: 1280, Height: 720, PlaylistPath: "720p.m3u8"},
		{Bandwidth: 800_000, Width: 640, Height: 360, PlaylistPath: "360p.m3u8"},
	}
	h := start(t, liveConfig(), WithVariants(variants))
	feed(t, h.svc, 0, 3)

	require.True(t, h.svc.HasVariants())
	master, ok := h.svc.MasterPlaylist("")
	require.True(t, ok)
	assert.Equal(t, playlist.Master(variants), master)

	leased, _ := h.svc.MasterPlaylist("abc")
	assert.Contains(t, leased, "720p.m3u8?lease=abc\n")
	assert.Contains(t, leased, "360p.m3u8?lease=abc\n")

	p, err := h.svc.VariantPlaylist("720p")
	require.NoError(t, err)
	assert.Equal(t, h.svc.MediaPlaylist(), p)

	_, err = h.svc.VariantPlaylist("1080p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_no_variants(t *testing.T) {
	h := start(t, liveConfig())
	_, ok := h.svc.MasterPlaylist("")
	assert.False(t, ok)
	_, err := h.svc.VariantPlaylist("720p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_MediaTime(t *testing.T) {
	h := start(t, liveConfig())
	h.clock.advance(3 * time.Second)
	assert.Equal(t, 3*time.Second, h.svc.MediaTime())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("EVENT")
	require.NoError(t, err)
	assert.Equal(t, Event, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Live, m)

	_, err = ParseMode("vod")
	assert.Error(t, err)
}
