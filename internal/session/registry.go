package session

import (
	"crypto/rand"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	gocache "github.com/patrickmn/go-cache"

	"github.com/hpungsan/claimdesk/internal/errors"
)

// Registry holds server-side sessions. A session unused for the TTL expires
// and is closed, which discards its pending proposals.
type Registry struct {
	cache  *gocache.Cache
	agent  Agent
	logger *slog.Logger
}

// NewRegistry creates a registry whose sessions expire after ttl of inactivity.
func NewRegistry(agent Agent, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cleanup := ttl / 2
	if cleanup < time.Second {
		cleanup = time.Second
	}

	c := gocache.New(ttl, cleanup)
	c.OnEvicted(func(id string, v any) {
		if s, ok := v.(*Session); ok {
			s.Close()
		}
	})
	return &Registry{cache: c, agent: agent, logger: logger}
}

// Create opens a new session for a claim. The caller checks the claim exists.
func (r *Registry) Create(claimID int64) *Session {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0)).String()
	s := New(id, claimID, r.agent, r.logger)
	r.cache.SetDefault(id, s)
	r.logger.Info("session opened", "session_id", id, "claim_id", claimID)
	return s
}

// Get returns a live session and refreshes its expiry.
func (r *Registry) Get(id string) (*Session, error) {
	v, ok := r.cache.Get(id)
	if !ok {
		return nil, errors.NewNotFound("session", id)
	}
	s := v.(*Session)
	r.cache.SetDefault(id, s)
	return s, nil
}

// Delete closes and removes a session.
func (r *Registry) Delete(id string) error {
	if _, ok := r.cache.Get(id); !ok {
		return errors.NewNotFound("session", id)
	}
	// OnEvicted closes the session
	r.cache.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.ItemCount()
}

// CloseAll closes every session, for server shutdown.
func (r *Registry) CloseAll() {
	for id := range r.cache.Items() {
		r.cache.Delete(id)
	}
}
