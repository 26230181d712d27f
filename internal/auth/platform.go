package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultVerifyTimeout = 3 * time.Second

// Identity is a platform account vouched for by the identity provider.
type Identity struct {
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IdentityVerifier validates an opaque platform identity assertion.
type IdentityVerifier interface {
	Verify(ctx context.Context, assertion string) (Identity, error)
}

// PlatformAuth accepts requests whose X-Platform-Identity assertion is
// verified and belongs to one of the allowed accounts.
type PlatformAuth struct {
	verifier IdentityVerifier
	accounts map[string]struct{}
	timeout  time.Duration
	log      *slog.Logger
}

// NewPlatformAuth returns a PlatformAuth bound to the given accounts.
func NewPlatformAuth(v IdentityVerifier, accounts []string, log *slog.Logger) *PlatformAuth {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return &PlatformAuth{verifier: v, accounts: set, timeout: defaultVerifyTimeout, log: log}
}

func (a *PlatformAuth) Method() Method { return MethodPlatform }

func (a *PlatformAuth) Authenticate(r *http.Request) *User {
	assertion := r.Header.Get(PlatformHeader)
	if assertion == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	id, err := a.verifier.Verify(ctx, assertion)
	if err != nil {
		a.log.Debug("platform identity rejected", slog.String("error", err.Error()))
		return nil
	}
	if _, ok := a.accounts[id.AccountID]; !ok {
		a.log.Debug("platform account not allowed", slog.String("account_id", id.AccountID))
		return nil
	}
	u := &User{Method: MethodPlatform, ID: id.AccountID}
	if !id.ExpiresAt.IsZero() {
		exp := id.ExpiresAt
		u.ExpiresAt = &exp
	}
	return u
}

// HTTPVerifier asks a remote endpoint to validate assertions. The endpoint
// receives {"assertion": "..."} and answers 200 with an Identity body.
type HTTPVerifier struct {
	URL    string
	Client *http.Client
}

// Verify implements IdentityVerifier.
func (v *HTTPVerifier) Verify(ctx context.Context, assertion string) (Identity, error) {
	body, err := json.Marshal(map[string]string{"assertion": assertion})
	if err != nil {
		return Identity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		return Identity{}, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("verify identity: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("verify identity: status %d", resp.StatusCode)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, fmt.Errorf("decode identity: %w", err)
	}
	if id.AccountID == "" {
		return Identity{}, fmt.Errorf("verify identity: empty account id")
	}
	if !id.ExpiresAt.IsZero() && time.Now().After(id.ExpiresAt) {
		return Identity{}, fmt.Errorf("verify identity: assertion expired")
	}
	return id, nil
}
