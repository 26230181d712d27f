package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth compares an Authorization: Basic pair with configured credentials.
// A password starting with "$2" is treated as a bcrypt hash.
type BasicAuth struct {
	user     string
	password string
	hashed   bool
}

// NewBasicAuth returns a BasicAuth for the given pair.
func NewBasicAuth(user, password string) *BasicAuth {
	return &BasicAuth{
		user:     user,
		password: password,
		hashed:   strings.HasPrefix(password, "$2"),
	}
}

func (a *BasicAuth) Method() Method { return MethodBasic }

func (a *BasicAuth) Authenticate(r *http.Request) *User {
	user, pass, ok := r.BasicAuth()
	if !ok || !a.Check(user, pass) {
		return nil
	}
	return &User{Method: MethodBasic, ID: user}
}

// Check reports whether user and pass match the configured pair.
func (a *BasicAuth) Check(user, pass string) bool {
	if a.password == "" || user == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.user)) == 1
	var passOK bool
	if a.hashed {
		passOK = bcrypt.CompareHashAndPassword([]byte(a.password), []byte(pass)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	}
	return userOK && passOK
}

// HashPassword returns a bcrypt hash usable as a configured password.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
