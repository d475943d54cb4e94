// internal/tokens/coordinator.go
package tokens

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"gatekit/pkg/problems"
)

// ErrNoSession is returned when EnsureValid is called before a bundle was
// installed (or after logout).
var ErrNoSession = errors.New("no token bundle")

func init() {
	problems.Register(ErrNoSession, 401, "not-authenticated", "sign in required")
}

// DefaultBuffer is how long before access expiry a refresh becomes due.
const DefaultBuffer = 60 * time.Second

// Bundle is the persisted part of a delegated session: the refresh token and
// the absolute expiry timestamps. The access token itself never lands here.
type Bundle struct {
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// flight is the shared handle for one in-progress refresh. All concurrent
// callers wait on done and read the same outcome.
type flight struct {
	done  chan struct{}
	token string
	err   error
}

// Coordinator serializes token refreshes for one bundle. At most one network
// refresh is in flight at any time; concurrent callers share its outcome.
// This matters because the provider rotates refresh tokens on use — a second
// parallel refresh would present the revoked token and get invalid_grant.
//
// Construct one per session/bundle and inject it; no package-level instance.
type Coordinator struct {
	client *EndpointClient
	buffer time.Duration
	log    *zap.SugaredLogger
	now    func() time.Time

	mu       sync.Mutex
	bundle   Bundle
	access   string // last minted access token, valid until AccessExpiresAt
	inflight *flight
}

func NewCoordinator(client *EndpointClient, buffer time.Duration, log *zap.SugaredLogger) *Coordinator {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Coordinator{client: client, buffer: buffer, log: log, now: time.Now}
}

// SetBundle installs a fresh bundle (login or re-authentication). Any cached
// access token is discarded.
func (c *Coordinator) SetBundle(b Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundle = b
	c.access = ""
}

// SetGrant installs the bundle derived from a token-endpoint grant and caches
// its access token.
func (c *Coordinator) SetGrant(g *Grant) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyGrantLocked(g, now)
}

// Clear destroys the bundle (logout).
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundle = Bundle{}
	c.access = ""
}

// EnsureValid returns an access token that is valid for at least the buffer
// window. When a refresh is due it performs exactly one network exchange,
// shared with every concurrent caller. ErrRefreshChainExpired is terminal:
// the bundle is destroyed and the caller must force re-authentication.
func (c *Coordinator) EnsureValid(ctx context.Context) (string, error) {
	c.mu.Lock()

	// Join an in-progress refresh rather than starting a second one.
	if f := c.inflight; f != nil {
		c.mu.Unlock()
		refreshJoined.Inc()
		return c.await(ctx, f)
	}

	now := c.now()
	if c.access != "" && now.Before(c.bundle.AccessExpiresAt.Add(-c.buffer)) {
		tok := c.access
		c.mu.Unlock()
		return tok, nil
	}

	if c.bundle.RefreshToken == "" {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	if !c.bundle.RefreshExpiresAt.IsZero() && !now.Before(c.bundle.RefreshExpiresAt) {
		c.bundle = Bundle{}
		c.access = ""
		c.mu.Unlock()
		return "", ErrRefreshChainExpired
	}

	// Won the start-refresh election; publish the flight handle before
	// releasing the lock so every later caller joins it.
	f := &flight{done: make(chan struct{})}
	c.inflight = f
	refreshToken := c.bundle.RefreshToken
	c.mu.Unlock()

	c.refresh(ctx, f, refreshToken)
	return f.token, f.err
}

// refresh performs the network exchange and broadcasts the outcome. The call
// is detached from the initiating caller's cancellation: once a refresh is in
// flight, every waiter receives its result.
func (c *Coordinator) refresh(ctx context.Context, f *flight, refreshToken string) {
	g, err := c.client.Refresh(context.WithoutCancel(ctx), refreshToken)

	c.mu.Lock()
	if err != nil {
		if errors.Is(err, ErrRefreshChainExpired) {
			// Terminal: the chain is dead, drop the bundle.
			c.bundle = Bundle{}
			c.access = ""
			refreshFailures.WithLabelValues("chain_expired").Inc()
		} else {
			refreshFailures.WithLabelValues("transient").Inc()
		}
		f.err = err
	} else {
		c.applyGrantLocked(g, c.now())
		f.token = c.access
		refreshSuccess.Inc()
	}
	// Clear the handle on success or failure so the next due refresh
	// starts a new flight.
	c.inflight = nil
	c.mu.Unlock()

	close(f.done)
	if f.err != nil {
		c.log.Warnw("token refresh failed", "err", f.err)
	}
}

func (c *Coordinator) applyGrantLocked(g *Grant, now time.Time) {
	c.access = g.AccessToken
	c.bundle.AccessExpiresAt = now.Add(time.Duration(g.ExpiresIn) * time.Second)
	if g.RefreshToken != "" {
		c.bundle.RefreshToken = g.RefreshToken
	}
	if g.RefreshExpiresIn > 0 {
		c.bundle.RefreshExpiresAt = now.Add(time.Duration(g.RefreshExpiresIn) * time.Second)
	}
}

func (c *Coordinator) await(ctx context.Context, f *flight) (string, error) {
	select {
	case <-f.done:
		return f.token, f.err
	case <-ctx.Done():
		// The waiter gives up; the refresh itself keeps running.
		return "", ctx.Err()
	}
}

// Bundle returns a copy of the current bundle, for session persistence.
func (c *Coordinator) Bundle() Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bundle
}
