package delivery

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"mirrorcast/internal/access"
	"mirrorcast/internal/auth"
	"mirrorcast/internal/live"
	"mirrorcast/internal/segment"
)

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, segment.ErrSegmentAlreadyOpen),
		errors.Is(err, segment.ErrNoActiveSegment),
		errors.Is(err, segment.ErrSegmentIO):
		return http.StatusInternalServerError
	case errors.Is(err, access.ErrStreamBusy), errors.Is(err, live.ErrStreamEnded):
		return http.StatusConflict
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRange):
		return http.StatusRequestedRangeNotSatisfiable
	case errors.Is(err, live.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrNoSession), errors.Is(err, ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, live.ErrInvalidSettings):
		return http.StatusBadRequest
	case errors.Is(err, live.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error": msg}. Server errors are logged and their
// details kept out of the body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
