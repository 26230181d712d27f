package delivery

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"mirrorcast/internal/access"
	"mirrorcast/internal/auth"
	"mirrorcast/internal/live"
)

// ErrNotAdmin is returned when an authenticated caller lacks operator
// credentials.
var ErrNotAdmin = errors.New("operator credentials required")

// adminMethods are the methods that identify the operator: the configured
// basic account and sessions issued by /admin/login. API keys and signed
// tokens are handed to viewers and never reach operator routes.
var adminMethods = map[auth.Method]bool{
	auth.MethodBasic:   true,
	auth.MethodSession: true,
}

// requireAdmin runs after the gateway and rejects callers whose method is
// not an operator method with 403.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := auth.UserFromContext(r.Context())
		if !ok || !adminMethods[u.Method] {
			h.metrics.IncAuthFailures()
			attrs := []any{slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr)}
			if ok {
				attrs = append(attrs, slog.String("method", string(u.Method)), slog.String("user", u.ID))
			}
			h.log.Info("operator route refused", attrs...)
			h.writeError(w, r, ErrNotAdmin)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login handles POST /admin/login. Credentials come from a Basic
// Authorization header or a JSON body and are exchanged for a session token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if user, pass, ok := r.BasicAuth(); ok {
		c = credentials{Username: user, Password: pass}
	} else if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "credentials required"})
		return
	}

	if !h.login.Check(c.Username, c.Password) {
		h.metrics.IncAuthFailures()
		h.log.Info("admin login rejected",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("username", c.Username))
		h.writeError(w, r, auth.ErrUnauthenticated)
		return
	}

	s, err := h.sessions.Issue(r.Context(), c.Username, h.sessionTTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.log.Info("admin login", slog.String("username", c.Username))
	writeJSON(w, http.StatusOK, loginResponse{Token: s.ID, ExpiresAt: s.ExpiresAt})
}

// Logout handles POST /admin/logout. The token is read from the query
// parameter used by session authentication or from a JSON body.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get(auth.SessionQueryParam)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		token = body.Token
	}
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token required"})
		return
	}
	if err := h.sessions.Revoke(r.Context(), token); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	User          *auth.User     `json:"user,omitempty"`
	AuthMethods   []auth.Method  `json:"auth_methods"`
	AccessControl bool           `json:"access_control"`
	Access        *access.Status `json:"access,omitempty"`
	Stream        live.Stats     `json:"stream"`
}

// Status handles GET /admin/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFromContext(r.Context())
	resp := statusResponse{
		User:          u,
		AuthMethods:   h.gateway.Methods(),
		AccessControl: h.access != nil,
		Stream:        h.svc.Stats(),
	}
	if h.access != nil {
		st := h.access.Status()
		resp.Access = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// RotateKey handles POST /admin/keys. The new key is only ever returned here.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	keys := h.gateway.APIKey()
	if keys == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "api_key authentication is not enabled"})
		return
	}
	key, err := keys.Rotate()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if u, ok := auth.UserFromContext(r.Context()); ok {
		h.log.Info("api key rotated", slog.String("by", u.ID))
	}
	writeJSON(w, http.StatusCreated, map[string]string{"api_key": key})
}

// IssueToken handles POST /admin/tokens: a signed viewer token valid for
// the session TTL. The optional JSON body names the subject.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	signer := h.gateway.JWT()
	if signer == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "jwt authentication is not enabled"})
		return
	}
	var body struct {
		Subject string `json:"subject"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Subject == "" {
		body.Subject = "viewer"
	}
	tok, exp, err := signer.Sign(body.Subject, h.sessionTTL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loginResponse{Token: tok, ExpiresAt: exp.UTC()})
}

// GetSettings handles GET /admin/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// UpdateSettings handles PUT /admin/settings with a JSON Settings body and
// responds with the settings now in effect.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var st live.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid settings body"})
		return
	}
	if err := h.svc.UpdateSettings(r.Context(), st); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Settings())
}

// EndStream handles POST /admin/stream/end.
func (h *Handler) EndStream(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.End(r.Context()); err != nil {
		if !errors.Is(err, live.ErrStreamEnded) {
			h.log.Error("end stream failed", slog.String("error", err.Error()))
		}
		h.writeError(w, r, err)
		return
	}
	h.log.Info("stream ended by admin")
	w.WriteHeader(http.StatusNoContent)
}
