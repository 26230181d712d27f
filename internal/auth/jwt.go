package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTAuth accepts HS256 bearer tokens signed with a shared secret.
type JWTAuth struct {
	secret []byte
	issuer string
}

// NewJWTAuth returns a JWTAuth. An empty issuer disables the issuer check.
func NewJWTAuth(secret, issuer string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret), issuer: issuer}
}

func (a *JWTAuth) Method() Method { return MethodJWT }

func (a *JWTAuth) Authenticate(r *http.Request) *User {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil
	}
	claims, err := a.Verify(strings.TrimSpace(header[len("Bearer "):]))
	if err != nil || claims.Subject == "" {
		return nil
	}
	u := &User{Method: MethodJWT, ID: claims.Subject}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time
		u.ExpiresAt = &exp
	}
	return u
}

// Sign issues a token for subject valid for ttl. The returned time is the
// exp claim as encoded in the token.
func (a *JWTAuth) Sign(subject string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	exp := jwt.NewNumericDate(now.Add(ttl))
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: exp,
		ID:        uuid.NewString(),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp.Time, nil
}

// Verify parses and validates a token.
func (a *JWTAuth) Verify(token string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token not valid")
	}
	return claims, nil
}
