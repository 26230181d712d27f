package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync/atomic"
)

// APIKeyAuth accepts a key from the X-API-Key header or the api_key query
// parameter. The key can be replaced at runtime.
type APIKeyAuth struct {
	key atomic.Pointer[string]
}

// NewAPIKeyAuth returns an APIKeyAuth accepting key.
func NewAPIKeyAuth(key string) *APIKeyAuth {
	a := &APIKeyAuth{}
	a.key.Store(&key)
	return a
}

func (a *APIKeyAuth) Method() Method { return MethodAPIKey }

// Authenticate accepts the request when either location carries the key.
func (a *APIKeyAuth) Authenticate(r *http.Request) *User {
	expected := *a.key.Load()
	if expected == "" {
		return nil
	}
	for _, got := range []string{r.Header.Get(APIKeyHeader), r.URL.Query().Get(APIKeyQueryParam)} {
		if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1 {
			return &User{Method: MethodAPIKey, ID: "api-key"}
		}
	}
	return nil
}

// Rotate installs a freshly generated key and returns it. The previous key
// stops working immediately.
func (a *APIKeyAuth) Rotate() (string, error) {
	key, err := GenerateKey()
	if err != nil {
		return "", err
	}
	a.key.Store(&key)
	return key, nil
}

// GenerateKey returns 32 random bytes hex-encoded.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
