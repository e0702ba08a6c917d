package ops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/claimdesk/internal/claim"
)

func TestArtifactCache_SetAfterInvalidateIsDropped(t *testing.T) {
	cache := NewArtifactCache(8, time.Minute)
	stale := []*claim.Artifact{{ID: 1, ClaimID: 7, Type: claim.ArtifactSummary}}

	// A listing read before an accept commits must not be cached after it
	stamp := cache.Stamp()
	cache.Invalidate(7)
	cache.Set(7, stamp, stale)

	_, ok := cache.Get(7)
	require.False(t, ok)

	cache.Set(7, cache.Stamp(), stale)
	got, ok := cache.Get(7)
	require.True(t, ok)
	require.Equal(t, stale, got)
}

func TestArtifactCache_Disabled(t *testing.T) {
	cache := NewArtifactCache(0, time.Minute)
	require.Nil(t, cache)

	cache.Set(1, cache.Stamp(), []*claim.Artifact{})
	cache.Invalidate(1)
	_, ok := cache.Get(1)
	require.False(t, ok)
}
