package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// ListArtifacts returns a claim's artifacts with current versions inlined.
// Results are served from the artifact cache when enabled; callers must not
// modify them.
func ListArtifacts(_ context.Context, d *Deps, claimID int64) ([]*claim.Artifact, error) {
	if err := requireID("claim_id", claimID); err != nil {
		return nil, err
	}
	if artifacts, ok := d.Artifacts.Get(claimID); ok {
		return artifacts, nil
	}
	stamp := d.Artifacts.Stamp()

	if _, err := db.GetClaim(d.DB, claimID); err != nil {
		return nil, err
	}
	artifacts, err := db.ListArtifacts(d.DB, claimID)
	if err != nil {
		return nil, err
	}
	d.Artifacts.Set(claimID, stamp, artifacts)
	return artifacts, nil
}

// GetArtifact returns one artifact with its current version inlined.
func GetArtifact(_ context.Context, d *Deps, claimID, artifactID int64) (*claim.Artifact, error) {
	if err := requireID("artifact_id", artifactID); err != nil {
		return nil, err
	}
	return db.GetArtifact(d.DB, claimID, artifactID)
}

// ArtifactHistoryOutput contains an artifact and its versions, oldest first.
type ArtifactHistoryOutput struct {
	Artifact *claim.Artifact          `json:"artifact"`
	Versions []*claim.ArtifactVersion `json:"versions"`
}

// ArtifactHistory returns every version of an artifact.
func ArtifactHistory(ctx context.Context, d *Deps, claimID, artifactID int64) (*ArtifactHistoryOutput, error) {
	a, err := GetArtifact(ctx, d, claimID, artifactID)
	if err != nil {
		return nil, err
	}
	versions, err := db.ListVersions(d.DB, a.ID)
	if err != nil {
		return nil, err
	}
	return &ArtifactHistoryOutput{Artifact: a, Versions: versions}, nil
}

// UpdateArtifactInput contains parameters for the UpdateArtifact operation.
type UpdateArtifactInput struct {
	ClaimID    int64
	ArtifactID int64
	Content    string

	// ExpectedVersionID, when set, makes the edit conditional on the
	// artifact still being at that version. Zero means the artifact must
	// have no content yet.
	ExpectedVersionID *int64
}

// UpdateArtifact appends a user-authored version (a direct edit).
func UpdateArtifact(ctx context.Context, d *Deps, input UpdateArtifactInput) (*claim.Artifact, error) {
	if err := requireID("claim_id", input.ClaimID); err != nil {
		return nil, err
	}
	if err := requireID("artifact_id", input.ArtifactID); err != nil {
		return nil, err
	}

	var updated *claim.Artifact
	err := db.WithTx(ctx, d.DB, func(tx *sql.Tx) error {
		a, err := db.GetArtifact(tx, input.ClaimID, input.ArtifactID)
		if err != nil {
			return err
		}

		expected := a.CurrentVersionID
		if input.ExpectedVersionID != nil {
			if !sameVersion(a.CurrentVersionID, *input.ExpectedVersionID) {
				return errors.NewConflict(a.Type)
			}
		}

		v := &claim.ArtifactVersion{
			Content:   input.Content,
			CreatedBy: claim.AuthorUser,
			Metadata:  map[string]any{"source": "user", "command": "direct_edit"},
			CreatedAt: time.Now().Unix(),
		}
		if err := db.AppendVersion(tx, a.ID, expected, v); err != nil {
			if err == db.ErrStaleTarget {
				return errors.NewConflict(a.Type)
			}
			return err
		}

		a.CurrentVersionID = &v.ID
		a.CurrentVersion = v
		a.UpdatedAt = v.CreatedAt
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.Artifacts.Invalidate(input.ClaimID)
	d.Logger.Info("artifact edited", "claim_id", input.ClaimID, "artifact_id", updated.ID, "version_id", *updated.CurrentVersionID)
	return updated, nil
}

// sameVersion compares a current version pointer to an expected id,
// where 0 stands for "no version".
func sameVersion(current *int64, expected int64) bool {
	if current == nil {
		return expected == 0
	}
	return *current == expected
}
