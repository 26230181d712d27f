package logger

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RequestKind classifies a request path for the access log: "playlist",
// "segment", "ingest", "admin" or "api".
func RequestKind(path string) string {
	switch {
	case strings.HasSuffix(path, ".m3u8"):
		return "playlist"
	case strings.HasSuffix(path, ".ts"):
		return "segment"
	case path == "/ingest":
		return "ingest"
	case strings.HasPrefix(path, "/admin/"):
		return "admin"
	default:
		return "api"
	}
}

// RequestLogger returns a chi-compatible middleware that logs one line per
// request. Segment requests carry the Range header when present; server
// errors are logged at error level.
func RequestLogger(log *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r)

			kind := RequestKind(r.URL.Path)
			attrs := []slog.Attr{
				slog.String("kind", kind),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrap.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.Int("size", wrap.size),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			}
			if rng := r.Header.Get("Range"); rng != "" && kind == "segment" {
				attrs = append(attrs, slog.String("range", rng))
			}
			level := slog.LevelInfo
			if wrap.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			log.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}
