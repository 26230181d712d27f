// Package auth verifies request credentials. Each supported method is an
// Authenticator; a Gateway tries the configured ones in order and accepts
// the request on the first success.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Method names an authentication method as it appears in configuration.
type Method string

const (
	MethodBasic    Method = "basic"
	MethodAPIKey   Method = "api_key"
	MethodSession  Method = "session"
	MethodJWT      Method = "jwt"
	MethodPlatform Method = "platform"
)

// Request locations shared by clients and the admin API.
const (
	APIKeyHeader      = "X-API-Key"
	APIKeyQueryParam  = "api_key"
	SessionQueryParam = "token"
	PlatformHeader    = "X-Platform-Identity"
)

// ErrUnauthenticated is returned when no configured method accepted the request.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the identity established for one request.
type User struct {
	Method    Method     `json:"method"`
	ID        string     `json:"id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Authenticator checks one kind of credential. It returns nil when the
// request does not carry a valid credential of its kind; it never fails.
type Authenticator interface {
	Method() Method
	Authenticate(r *http.Request) *User
}

type userKey struct{}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by the gateway middleware.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	return u, ok && u != nil
}
