package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	id  Identity
	err error
}

func (s stubVerifier) Verify(context.Context, string) (Identity, error) { return s.id, s.err }

func allMethodsGateway(t *testing.T) (*Gateway, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	g, err := NewGateway(
		[]Method{MethodBasic, MethodAPIKey, MethodSession, MethodJWT, MethodPlatform},
		Options{
			BasicUser:        "admin",
			BasicPassword:    "s3cret",
			APIKey:           "key-123",
			Sessions:         store,
			JWTSecret:        "jwt-secret",
			PlatformVerifier: stubVerifier{id: Identity{AccountID: "acct-1"}},
			PlatformAccounts: []string{"acct-1"},
		})
	require.NoError(t, err)
	return g, store
}

func TestNewGateway_validation(t *testing.T) {
	_, err := NewGateway(nil, Options{})
	assert.ErrorIs(t, err, ErrNoMethods)

	_, err = NewGateway([]Method{"kerberos"}, Options{})
	assert.ErrorIs(t, err, ErrUnknownMethod)

	_, err = NewGateway([]Method{MethodBasic}, Options{BasicUser: "admin"})
	assert.Error(t, err)

	_, err = NewGateway([]Method{MethodSession}, Options{})
	assert.Error(t, err)

	_, err = NewGateway([]Method{MethodPlatform}, Options{PlatformVerifier: stubVerifier{}})
	assert.Error(t, err)
}

func TestGateway_preserves_order(t *testing.T) {
	g, err := NewGateway([]Method{MethodAPIKey, MethodBasic}, Options{
		APIKey: "k", BasicUser: "u", BasicPassword: "p",
	})
	require.NoError(t, err)
	assert.Equal(t, []Method{MethodAPIKey, MethodBasic}, g.Methods())
}

func TestGateway_basic(t *testing.T) {
	g, _ := allMethodsGateway(t)

	r := httptest.NewRequest(http.MethodGet, "/stream/index.m3u8", nil)
	r.SetBasicAuth("admin", "s3cret")
	u, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodBasic, u.Method)
	assert.Equal(t, "admin", u.ID)
}

func TestGateway_wrong_password_never_authenticates(t *testing.T) {
	g, _ := allMethodsGateway(t)

	r := httptest.NewRequest(http.MethodGet, "/stream/index.m3u8", nil)
	r.SetBasicAuth("admin", "wrong")
	u, err := g.Authenticate(r)
	assert.Nil(t, u)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateway_bcrypt_password(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	g, err := NewGateway([]Method{MethodBasic}, Options{BasicUser: "admin", BasicPassword: hash})
	require.NoError(t, err)

	ok := httptest.NewRequest(http.MethodGet, "/", nil)
	ok.SetBasicAuth("admin", "hunter2")
	_, err = g.Authenticate(ok)
	assert.NoError(t, err)

	bad := httptest.NewRequest(http.MethodGet, "/", nil)
	bad.SetBasicAuth("admin", hash)
	_, err = g.Authenticate(bad)
	assert.ErrorIs(t, err, ErrUnauthenticated, "the hash itself is not a password")
}

func TestGateway_api_key_header_and_query(t *testing.T) {
	g, _ := allMethodsGateway(t)

	h := httptest.NewRequest(http.MethodGet, "/", nil)
	h.Header.Set(APIKeyHeader, "key-123")
	u, err := g.Authenticate(h)
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, u.Method)

	q := httptest.NewRequest(http.MethodGet, "/?api_key=key-123", nil)
	u, err = g.Authenticate(q)
	require.NoError(t, err)
	assert.Equal(t, MethodAPIKey, u.Method)

	wrong := httptest.NewRequest(http.MethodGet, "/?api_key=nope", nil)
	_, err = g.Authenticate(wrong)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	stale := httptest.NewRequest(http.MethodGet, "/?api_key=key-123", nil)
	stale.Header.Set(APIKeyHeader, "old-key")
	u, err = g.Authenticate(stale)
	require.NoError(t, err, "a valid query key is accepted next to a wrong header")
	assert.Equal(t, MethodAPIKey, u.Method)
}

func TestAPIKey_rotate(t *testing.T) {
	g, _ := allMethodsGateway(t)

	newKey, err := g.APIKey().Rotate()
	require.NoError(t, err)
	assert.Len(t, newKey, 64)

	old := httptest.NewRequest(http.MethodGet, "/?api_key=key-123", nil)
	_, err = g.Authenticate(old)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	fresh := httptest.NewRequest(http.MethodGet, "/?api_key="+newKey, nil)
	_, err = g.Authenticate(fresh)
	assert.NoError(t, err)
}

func TestGateway_session_token(t *testing.T) {
	g, store := allMethodsGateway(t)

	s, err := store.Issue(context.Background(), "admin", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/?token="+s.ID, nil)
	u, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodSession, u.Method)
	assert.Equal(t, "admin", u.ID)
	require.NotNil(t, u.ExpiresAt)

	require.NoError(t, store.Revoke(context.Background(), s.ID))
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateway_jwt(t *testing.T) {
	g, _ := allMethodsGateway(t)
	signer := NewJWTAuth("jwt-secret", "")

	tok, _, err := signer.Sign("viewer-7", time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	u, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodJWT, u.Method)
	assert.Equal(t, "viewer-7", u.ID)
}

func TestGateway_platform(t *testing.T) {
	g, _ := allMethodsGateway(t)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(PlatformHeader, "assertion")
	u, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodPlatform, u.Method)
	assert.Equal(t, "acct-1", u.ID)
}

func TestPlatform_rejections(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(PlatformHeader, "assertion")

	foreign := NewPlatformAuth(stubVerifier{id: Identity{AccountID: "acct-2"}}, []string{"acct-1"}, discard())
	assert.Nil(t, foreign.Authenticate(r))

	failing := NewPlatformAuth(stubVerifier{err: errors.New("remote down")}, []string{"acct-1"}, discard())
	assert.Nil(t, failing.Authenticate(r))

	missing := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, foreign.Authenticate(missing))
}

func TestGateway_first_success_wins(t *testing.T) {
	g, _ := allMethodsGateway(t)

	r := httptest.NewRequest(http.MethodGet, "/?api_key=key-123", nil)
	r.SetBasicAuth("admin", "s3cret")
	u, err := g.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, MethodBasic, u.Method, "basic is configured first")
}

func TestGateway_only_configured_methods(t *testing.T) {
	g, err := NewGateway([]Method{MethodBasic}, Options{BasicUser: "admin", BasicPassword: "pw"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/?api_key=anything", nil)
	_, err = g.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGateway_Middleware(t *testing.T) {
	failures := 0
	g, err := NewGateway([]Method{MethodBasic}, Options{
		BasicUser: "admin", BasicPassword: "pw",
		OnFailure: func(*http.Request) { failures++ },
	})
	require.NoError(t, err)

	var seen *User
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.JSONEq(t, `{"error":"unauthenticated"}`, rec.Body.String())
	assert.Equal(t, 1, failures)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "admin", seen.ID)
}
