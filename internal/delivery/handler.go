package delivery

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"mirrorcast/internal/access"
	"mirrorcast/internal/auth"
	"mirrorcast/internal/live"
	"mirrorcast/internal/platform/metrics"
	"mirrorcast/internal/segment"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"

	// LeaseHeader carries the access lease when the query parameter is not used.
	LeaseHeader = "X-Stream-Lease"
	// LeaseQueryParam carries the access lease on playlist URLs.
	LeaseQueryParam = "lease"

	// tsPacketSize is the MPEG-TS packet size; ingest chunks are multiples of it.
	tsPacketSize   = 188
	ingestChunkLen = tsPacketSize * 348
)

// Config wires the handler to its collaborators.
type Config struct {
	Service *live.Service
	Gateway *auth.Gateway

	// Access enables single-session admission. Nil disables the lease check.
	Access *access.Controller

	// Login verifies /admin/login credentials. Nil disables the route.
	Login      *auth.BasicAuth
	Sessions   auth.SessionStore
	SessionTTL time.Duration

	PublicURL      string
	LoginRateLimit int
	MaxIngestBytes int64
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Handler exposes the stream, ingest and admin endpoints using go-chi.
type Handler struct {
	svc        *live.Service
	gateway    *auth.Gateway
	access     *access.Controller
	login      *auth.BasicAuth
	sessions   auth.SessionStore
	sessionTTL time.Duration
	publicURL  string
	loginLimit int
	maxIngest  int64
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewHandler returns a Handler. Metrics may be nil to disable metric
// recording (e.g. in tests).
func NewHandler(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	limit := cfg.LoginRateLimit
	if limit <= 0 {
		limit = 10
	}
	return &Handler{
		svc:        cfg.Service,
		gateway:    cfg.Gateway,
		access:     cfg.Access,
		login:      cfg.Login,
		sessions:   cfg.Sessions,
		sessionTTL: ttl,
		publicURL:  strings.TrimSuffix(cfg.PublicURL, "/"),
		loginLimit: limit,
		maxIngest:  cfg.MaxIngestBytes,
		log:        log,
		metrics:    cfg.Metrics,
	}
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// GetIndex handles GET /stream/index.m3u8: the master playlist when variants
// are configured, the media playlist otherwise.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	lease, ok := h.checkLease(w, r)
	if !ok {
		return
	}
	if m3u8, ok := h.svc.MasterPlaylist(lease); ok {
		writePlaylist(w, m3u8)
		return
	}
	writePlaylist(w, h.svc.MediaPlaylist())
}

// GetStreamFile handles GET /stream/{file}: variant playlists and segments.
func (h *Handler) GetStreamFile(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")

	if seq, ok := parseSegmentName(file); ok {
		h.serveSegment(w, r, seq)
		return
	}
	if name, ok := strings.CutSuffix(file, ".m3u8"); ok && name != "" {
		if _, ok := h.checkLease(w, r); !ok {
			return
		}
		m3u8, err := h.svc.VariantPlaylist(name)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writePlaylist(w, m3u8)
		return
	}
	h.writeError(w, r, fmt.Errorf("%s: %w", file, live.ErrNotFound))
}

// parseSegmentName accepts "segment<N>.ts".
func parseSegmentName(file string) (uint64, bool) {
	rest, ok := strings.CutPrefix(file, "segment")
	if !ok {
		return 0, false
	}
	digits, ok := strings.CutSuffix(rest, ".ts")
	if !ok || digits == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || segment.FileName(seq) != file {
		return 0, false
	}
	return seq, true
}

// checkLease touches the caller's lease. It writes the error response and
// returns false when the request must not proceed.
func (h *Handler) checkLease(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.access == nil {
		return "", true
	}
	id := r.URL.Query().Get(LeaseQueryParam)
	if id == "" {
		id = r.Header.Get(LeaseHeader)
	}
	if id == "" {
		h.writeError(w, r, access.ErrNoSession)
		return "", false
	}
	if _, err := h.access.Touch(id); err != nil {
		if errors.Is(err, access.ErrStreamBusy) {
			h.metrics.IncAccessDenied()
		}
		h.writeError(w, r, err)
		return "", false
	}
	return id, true
}

func writePlaylist(w http.ResponseWriter, m3u8 string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, m3u8)
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request, seq uint64) {
	path, _, err := h.svc.Segment(seq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		// Evicted between the lookup and the open.
		h.writeError(w, r, fmt.Errorf("segment %d: %w", seq, live.ErrNotFound))
		return
	}
	if err != nil {
		h.writeError(w, r, &segment.IOError{Op: "open", Path: path, Err: err})
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		h.writeError(w, r, &segment.IOError{Op: "stat", Path: path, Err: err})
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	header := r.Header.Get("Range")
	if header == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		_, _ = io.Copy(w, f)
		return
	}

	rng, err := ParseRange(header, size)
	if err != nil {
		w.Header().Set("Content-Range", Format416ContentRange(size))
		h.writeError(w, r, err)
		return
	}
	if _, err := f.Seek(rng.Start, io.SeekStart); err != nil {
		h.writeError(w, r, &segment.IOError{Op: "seek", Path: path, Err: err})
		return
	}
	w.Header().Set("Content-Range", FormatContentRange(rng, size))
	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = io.CopyN(w, f, rng.Length())
}

// RequestSession handles POST /stream/session.
func (h *Handler) RequestSession(w http.ResponseWriter, r *http.Request) {
	tok, err := h.access.RequestAccess()
	if err != nil {
		h.metrics.IncAccessDenied()
		h.log.Info("stream access refused", slog.String("remote_addr", r.RemoteAddr))
		h.writeError(w, r, err)
		return
	}
	h.log.Info("stream access granted", slog.Time("expires_at", tok.ExpiresAt))
	writeJSON(w, http.StatusCreated, tok)
}

// ReleaseSession handles DELETE /stream/session/{token}.
func (h *Handler) ReleaseSession(w http.ResponseWriter, r *http.Request) {
	h.access.ReleaseAccess(chi.URLParam(r, "token"))
	w.WriteHeader(http.StatusNoContent)
}

// GetURL handles GET /stream/url.
func (h *Handler) GetURL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"url": h.publicURL + "/stream/index.m3u8"})
}

// GetStats handles GET /stream/stats.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// Ingest handles POST /ingest. The body is split into MPEG-TS aligned
// chunks, each stamped with the service media clock.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if h.maxIngest > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxIngest)
	}

	buf := make([]byte, ingestChunkLen)
	var total int64
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			chunk := live.Chunk{Data: buf[:n], Timestamp: h.svc.MediaTime(), Keyframe: true}
			if serr := h.svc.Submit(r.Context(), chunk); serr != nil {
				h.writeError(w, r, serr)
				return
			}
			total += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
				return
			}
			h.log.Warn("ingest body read failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ingest body read failed"})
			return
		}
	}

	h.log.Debug("ingest complete", slog.Int64("bytes", total))
	writeJSON(w, http.StatusOK, map[string]int64{"bytes": total})
}

// Metrics serves the Prometheus exposition with fresh gauges.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler(func() {
		h.metrics.SetWindowSegments(h.svc.Window().Len())
		h.metrics.SetSessionHeld(h.access != nil && h.access.Held())
	}).ServeHTTP(w, r)
}
