package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	// ErrNoMethods is returned by NewGateway for an empty method list.
	ErrNoMethods = errors.New("no authentication methods configured")

	// ErrUnknownMethod is returned by NewGateway for an unsupported method name.
	ErrUnknownMethod = errors.New("unknown authentication method")
)

// Options carries the settings each method needs. Only the fields for the
// configured methods are read.
type Options struct {
	BasicUser     string
	BasicPassword string

	APIKey string

	Sessions SessionStore

	JWTSecret string
	JWTIssuer string

	PlatformVerifier IdentityVerifier
	PlatformAccounts []string

	Logger *slog.Logger

	// OnFailure is called for each rejected request, e.g. to count it.
	OnFailure func(r *http.Request)
}

// Gateway tries its authenticators in configured order.
type Gateway struct {
	handlers  []Authenticator
	log       *slog.Logger
	onFailure func(r *http.Request)

	basic  *BasicAuth
	apiKey *APIKeyAuth
	jwt    *JWTAuth
}

// NewGateway builds one handler per method, preserving order.
func NewGateway(methods []Method, opts Options) (*Gateway, error) {
	if len(methods) == 0 {
		return nil, ErrNoMethods
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	g := &Gateway{log: log, onFailure: opts.OnFailure}

	for _, m := range methods {
		switch m {
		case MethodBasic:
			if opts.BasicUser == "" || opts.BasicPassword == "" {
				return nil, fmt.Errorf("%s: user and password required", m)
			}
			g.basic = NewBasicAuth(opts.BasicUser, opts.BasicPassword)
			g.handlers = append(g.handlers, g.basic)
		case MethodAPIKey:
			if opts.APIKey == "" {
				return nil, fmt.Errorf("%s: key required", m)
			}
			g.apiKey = NewAPIKeyAuth(opts.APIKey)
			g.handlers = append(g.handlers, g.apiKey)
		case MethodSession:
			if opts.Sessions == nil {
				return nil, fmt.Errorf("%s: session store required", m)
			}
			g.handlers = append(g.handlers, NewSessionAuth(opts.Sessions, log))
		case MethodJWT:
			if opts.JWTSecret == "" {
				return nil, fmt.Errorf("%s: secret required", m)
			}
			g.jwt = NewJWTAuth(opts.JWTSecret, opts.JWTIssuer)
			g.handlers = append(g.handlers, g.jwt)
		case MethodPlatform:
			if opts.PlatformVerifier == nil || len(opts.PlatformAccounts) == 0 {
				return nil, fmt.Errorf("%s: verifier and accounts required", m)
			}
			g.handlers = append(g.handlers, NewPlatformAuth(opts.PlatformVerifier, opts.PlatformAccounts, log))
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, m)
		}
	}
	return g, nil
}

// Methods returns the configured methods in order.
func (g *Gateway) Methods() []Method {
	out := make([]Method, len(g.handlers))
	for i, h := range g.handlers {
		out[i] = h.Method()
	}
	return out
}

// Basic returns the basic handler, nil if basic is not configured.
func (g *Gateway) Basic() *BasicAuth { return g.basic }

// APIKey returns the api key handler, nil if api_key is not configured.
func (g *Gateway) APIKey() *APIKeyAuth { return g.apiKey }

// JWT returns the signed-token handler, nil if jwt is not configured.
func (g *Gateway) JWT() *JWTAuth { return g.jwt }

// Authenticate returns the first user any handler accepts.
func (g *Gateway) Authenticate(r *http.Request) (*User, error) {
	for _, h := range g.handlers {
		if u := h.Authenticate(r); u != nil {
			return u, nil
		}
	}
	return nil, ErrUnauthenticated
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// in the request context otherwise.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := g.Authenticate(r)
		if err != nil {
			g.log.Debug("request rejected",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr))
			if g.onFailure != nil {
				g.onFailure(r)
			}
			if g.basic != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="mirrorcast"`)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
