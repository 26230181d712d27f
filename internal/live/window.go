package live

import (
	"sort"
	"sync"

	"mirrorcast/internal/segment"
)

// Window is the rolling list of finalized segments that playlists are
// rendered from. It is appended to by the ingest task and read concurrently
// by HTTP handlers.
type Window struct {
	mu       sync.RWMutex
	limit    int
	segments []segment.Segment
	ended    bool
}

// NewWindow returns a window holding at most limit segments. A limit <= 0
// keeps every segment.
func NewWindow(limit int) *Window {
	return &Window{limit: limit}
}

// Append adds seg at the live edge and returns the segments that fell off
// the front. Sequences at or below the newest retained one are ignored so a
// replayed segment cannot corrupt the window.
func (w *Window) Append(seg segment.Segment) (evicted []segment.Segment) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.segments); n > 0 && seg.Sequence <= w.segments[n-1].Sequence {
		return nil
	}
	w.segments = append(w.segments, seg)

	if w.limit > 0 && len(w.segments) > w.limit {
		drop := len(w.segments) - w.limit
		evicted = make([]segment.Segment, drop)
		copy(evicted, w.segments[:drop])
		// Copy down so the backing array does not grow without bound.
		w.segments = append(w.segments[:0], w.segments[drop:]...)
	}
	return evicted
}

// Snapshot returns a copy of the retained segments, oldest first, and the
// ended flag.
func (w *Window) Snapshot() ([]segment.Segment, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.segments) == 0 {
		return nil, w.ended
	}
	out := make([]segment.Segment, len(w.segments))
	copy(out, w.segments)
	return out, w.ended
}

// Lookup returns the retained segment with the given sequence.
func (w *Window) Lookup(seq uint64) (segment.Segment, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	i := sort.Search(len(w.segments), func(i int) bool { return w.segments[i].Sequence >= seq })
	if i == len(w.segments) || w.segments[i].Sequence != seq {
		return segment.Segment{}, false
	}
	return w.segments[i], true
}

// Len returns the number of retained segments.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.segments)
}

// Ended reports whether the stream has been ended.
func (w *Window) Ended() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ended
}

// SetEnded marks the stream ended. Ending twice is a no-op.
func (w *Window) SetEnded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ended = true
}
