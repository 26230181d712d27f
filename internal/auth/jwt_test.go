package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_sign_and_verify(t *testing.T) {
	a := NewJWTAuth("secret", "mirrorcast")

	tok, exp, err := a.Sign("viewer", time.Minute)
	require.NoError(t, err)

	claims, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "viewer", claims.Subject)
	assert.Equal(t, "mirrorcast", claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	assert.True(t, exp.Equal(claims.ExpiresAt.Time), "returned expiry %v, claim %v", exp, claims.ExpiresAt.Time)
}

func TestJWT_rejections(t *testing.T) {
	a := NewJWTAuth("secret", "mirrorcast")

	expired, _, err := a.Sign("viewer", -time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	other, _, err := NewJWTAuth("other-secret", "mirrorcast").Sign("viewer", time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(other)
	assert.Error(t, err)

	wrongIssuer, _, err := NewJWTAuth("secret", "someone-else").Sign("viewer", time.Minute)
	require.NoError(t, err)
	_, err = a.Verify(wrongIssuer)
	assert.Error(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "viewer"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = a.Verify(unsigned)
	assert.Error(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+expired)
	assert.Nil(t, a.Authenticate(r))

	r.Header.Set("Authorization", "Basic abc")
	assert.Nil(t, a.Authenticate(r))
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["assertion"] {
		case "good":
			_ = json.NewEncoder(w).Encode(Identity{AccountID: "acct-1"})
		case "empty":
			_ = json.NewEncoder(w).Encode(Identity{})
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	v := &HTTPVerifier{URL: srv.URL, Client: srv.Client()}
	a := NewPlatformAuth(v, []string{"acct-1"}, discard())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(PlatformHeader, "good")
	u := a.Authenticate(r)
	require.NotNil(t, u)
	assert.Equal(t, "acct-1", u.ID)

	r.Header.Set(PlatformHeader, "bad")
	assert.Nil(t, a.Authenticate(r))

	r.Header.Set(PlatformHeader, "empty")
	assert.Nil(t, a.Authenticate(r))
}
