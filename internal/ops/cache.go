package ops

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/hpungsan/claimdesk/internal/claim"
)

// ArtifactCache is a TTL-bounded LRU of artifact listings keyed by claim id.
// Entries are invalidated whenever an operation writes a version.
// Proposal generation never reads from it.
//
// Readers take a Stamp before loading from the database and pass it to Set;
// a listing loaded before any later Invalidate is not stored.
type ArtifactCache struct {
	mu  sync.Mutex
	gen uint64
	lru *expirable.LRU[int64, []*claim.Artifact]
}

// NewArtifactCache returns nil (caching disabled) when size is not positive.
func NewArtifactCache(size int, ttl time.Duration) *ArtifactCache {
	if size <= 0 {
		return nil
	}
	return &ArtifactCache{lru: expirable.NewLRU[int64, []*claim.Artifact](size, nil, ttl)}
}

func (c *ArtifactCache) Get(claimID int64) ([]*claim.Artifact, bool) {
	if c == nil {
		return nil, false
	}
	artifacts, ok := c.lru.Get(claimID)
	if ok {
		artifactCacheHitsTotal.Inc()
		return artifacts, true
	}
	artifactCacheMissesTotal.Inc()
	return nil, false
}

// Stamp returns the current invalidation generation.
func (c *ArtifactCache) Stamp() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Set stores artifacts unless an Invalidate happened since stamp was taken.
func (c *ArtifactCache) Set(claimID int64, stamp uint64, artifacts []*claim.Artifact) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if stamp != c.gen {
		return
	}
	c.lru.Add(claimID, artifacts)
}

func (c *ArtifactCache) Invalidate(claimID int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.lru.Remove(claimID)
}
