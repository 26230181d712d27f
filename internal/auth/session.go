package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTTL is returned when a session is issued with a non-positive lifetime.
var ErrInvalidTTL = errors.New("session ttl must be positive")

// Session is an entry of the session registry.
type Session struct {
	ID        string    `json:"token"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore is the registry of live sessions. Implementations can be
// in-memory or remote; expired sessions must never be returned by Lookup.
type SessionStore interface {
	Issue(ctx context.Context, subject string, ttl time.Duration) (Session, error)
	Lookup(ctx context.Context, id string) (Session, bool, error)
	Revoke(ctx context.Context, id string) error
}

// SessionAuth accepts the token query parameter when it names a live session.
type SessionAuth struct {
	store SessionStore
	log   *slog.Logger
}

// NewSessionAuth returns a SessionAuth backed by store.
func NewSessionAuth(store SessionStore, log *slog.Logger) *SessionAuth {
	return &SessionAuth{store: store, log: log}
}

func (a *SessionAuth) Method() Method { return MethodSession }

func (a *SessionAuth) Authenticate(r *http.Request) *User {
	id := r.URL.Query().Get(SessionQueryParam)
	if id == "" {
		return nil
	}
	s, ok, err := a.store.Lookup(r.Context(), id)
	if err != nil {
		a.log.Warn("session lookup failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	exp := s.ExpiresAt
	return &User{Method: MethodSession, ID: s.Subject, ExpiresAt: &exp}
}

// MemoryStore is a concurrency-safe in-memory SessionStore. Expired entries
// are dropped when they are next looked up.
type MemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, sessions: make(map[string]Session)}
}

// Issue implements SessionStore.Issue.
func (m *MemoryStore) Issue(_ context.Context, subject string, ttl time.Duration) (Session, error) {
	if ttl <= 0 {
		return Session{}, ErrInvalidTTL
	}
	now := m.now()
	s := Session{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Lookup implements SessionStore.Lookup.
func (m *MemoryStore) Lookup(_ context.Context, id string) (Session, bool, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Session{}, false, nil
	}
	if !m.now().Before(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return Session{}, false, nil
	}
	return s, true, nil
}

// Revoke implements SessionStore.Revoke.
func (m *MemoryStore) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}
