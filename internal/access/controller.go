// Package access implements single-slot admission control for playback.
// At most one lease is valid at a time; an unreleased lease lapses after
// the idle timeout and is reclaimed lazily by the next request.
package access

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTimeout applies when a non-positive timeout is configured.
const DefaultIdleTimeout = 30 * time.Second

var (
	// ErrStreamBusy is returned while another client holds a live lease.
	ErrStreamBusy = errors.New("stream busy")

	// ErrNoSession is returned when a token is presented but no lease is held.
	ErrNoSession = errors.New("no active stream session")
)

// Token is a playback lease.
type Token struct {
	ID        string    `json:"token"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Status is a point-in-time view of the controller.
type Status struct {
	Held      bool       `json:"held"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Controller is safe for concurrent use.
type Controller struct {
	idle  time.Duration
	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	holder *Token
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// New returns an idle Controller with the given idle timeout.
func New(idleTimeout time.Duration, opts ...Option) *Controller {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	c := &Controller{
		idle:  idleTimeout,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IdleTimeout returns the configured idle timeout.
func (c *Controller) IdleTimeout() time.Duration { return c.idle }

// RequestAccess grants the lease if nobody holds a live one.
func (c *Controller) RequestAccess() (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.liveLocked(now) {
		return Token{}, ErrStreamBusy
	}
	t := Token{
		ID:        c.newID(),
		IssuedAt:  now,
		ExpiresAt: now.Add(c.idle),
	}
	c.holder = &t
	return t, nil
}

// ReleaseAccess frees the lease if id is the current holder. Stale or
// unknown tokens are ignored.
func (c *Controller) ReleaseAccess(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder != nil && c.holder.ID == id {
		c.holder = nil
	}
}

// Touch extends a live lease held by id and returns the refreshed token.
func (c *Controller) Touch(id string) (Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.liveLocked(now) {
		return Token{}, ErrNoSession
	}
	if c.holder.ID != id {
		return Token{}, ErrStreamBusy
	}
	c.holder.ExpiresAt = now.Add(c.idle)
	return *c.holder, nil
}

// Held reports whether a live lease exists.
func (c *Controller) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(c.now())
}

// Status returns the current state without exposing the token id.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.liveLocked(c.now()) {
		return Status{}
	}
	issued, expires := c.holder.IssuedAt, c.holder.ExpiresAt
	return Status{Held: true, IssuedAt: &issued, ExpiresAt: &expires}
}

// liveLocked drops an expired holder and reports whether one remains.
// Caller must hold c.mu.
func (c *Controller) liveLocked(now time.Time) bool {
	if c.holder == nil {
		return false
	}
	if !now.Before(c.holder.ExpiresAt) {
		c.holder = nil
		return false
	}
	return true
}
