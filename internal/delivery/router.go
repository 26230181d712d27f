package delivery

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"mirrorcast/internal/platform/logger"
	"mirrorcast/internal/platform/metrics"
)

// NewRouter mounts every endpoint of h. /health and /metrics are public;
// /admin/login is rate limited per client IP; everything else requires a
// credential accepted by the gateway. /ingest and the rest of /admin also
// require an operator credential (basic or an admin session).
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(h.log))
	r.Use(metrics.RequestMiddleware(h.metrics, "/metrics"))
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.Get("/health", h.Health)
	if h.metrics != nil {
		r.Get("/metrics", h.Metrics)
	}
	if h.login != nil && h.sessions != nil {
		r.With(loginRateLimit(h.loginLimit)).Post("/admin/login", h.Login)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.gateway.Middleware)

		r.Route("/stream", func(r chi.Router) {
			r.Get("/index.m3u8", h.GetIndex)
			r.Get("/url", h.GetURL)
			r.Get("/stats", h.GetStats)
			if h.access != nil {
				r.Post("/session", h.RequestSession)
				r.Delete("/session/{token}", h.ReleaseSession)
			}
			r.Get("/{file}", h.GetStreamFile)
		})

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Post("/ingest", h.Ingest)
			r.Route("/admin", func(r chi.Router) {
				if h.sessions != nil {
					r.Post("/logout", h.Logout)
				}
				r.Get("/status", h.Status)
				r.Post("/keys", h.RotateKey)
				r.Post("/tokens", h.IssueToken)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)
				r.Post("/stream/end", h.EndStream)
			})
		})
	})
	return r
}

func loginRateLimit(perMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Minute.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many login attempts"})
		}),
	)
}
