package ops

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/config"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// newTestDeps opens a fresh database with in-memory blobs and the keyword generator.
func newTestDeps(t *testing.T) (*Deps, *blob.MemoryStore) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	blobs := blob.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDeps(database, config.DefaultConfig(), blobs, agent.NewKeywordGenerator(), logger), blobs
}

func createTestClaim(t *testing.T, d *Deps) *claim.Claim {
	t.Helper()
	c, err := CreateClaim(context.Background(), d, CreateClaimInput{Title: "Kitchen water damage"})
	require.NoError(t, err)
	return c
}

func uploadText(t *testing.T, d *Deps, claimID int64, filename, content string) *claim.File {
	t.Helper()
	f, err := UploadFile(context.Background(), d, UploadFileInput{
		ClaimID:  claimID,
		Filename: filename,
		Content:  strings.NewReader(content),
	})
	require.NoError(t, err)
	return f
}

func requireCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	var dErr *errors.DeskError
	require.ErrorAs(t, err, &dErr)
	require.Equal(t, code, dErr.Code, "message: %s", dErr.Message)
}

func TestBoundLimit(t *testing.T) {
	tests := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, DefaultListLimit, 0},
		{-5, -1, DefaultListLimit, 0},
		{50, 10, 50, 10},
		{1000, 0, MaxListLimit, 0},
	}
	for _, tt := range tests {
		gotLimit, gotOffset := boundLimit(tt.limit, tt.offset)
		if gotLimit != tt.wantLimit || gotOffset != tt.wantOffset {
			t.Errorf("boundLimit(%d, %d) = (%d, %d), want (%d, %d)",
				tt.limit, tt.offset, gotLimit, gotOffset, tt.wantLimit, tt.wantOffset)
		}
	}
}

func TestCleanOptionalString(t *testing.T) {
	blank := "   "
	padded := " CLM-1 "

	if got := cleanOptionalString(nil); got != nil {
		t.Errorf("cleanOptionalString(nil) = %v, want nil", *got)
	}
	if got := cleanOptionalString(&blank); got != nil {
		t.Errorf("cleanOptionalString(blank) = %q, want nil", *got)
	}
	if got := cleanOptionalString(&padded); got == nil || *got != "CLM-1" {
		t.Errorf("cleanOptionalString(padded) = %v, want CLM-1", got)
	}
}

func TestNewDeps_CacheFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ArtifactCacheSize = 0

	d := NewDeps(nil, cfg, blob.NewMemoryStore(), agent.NewKeywordGenerator(), nil)
	if d.Artifacts != nil {
		t.Error("cache should be disabled when size is 0")
	}
	if d.Logger == nil {
		t.Error("logger should default to slog.Default")
	}
}
