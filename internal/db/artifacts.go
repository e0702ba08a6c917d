package db

import (
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// artifactSelect selects an artifact with its current version inlined.
const artifactSelect = `
	SELECT a.id, a.claim_id, a.type, a.title, a.current_version_id, a.created_at, a.updated_at,
		v.id, v.content, v.created_by, v.metadata_json, v.created_at
	FROM artifacts a
	LEFT JOIN artifact_versions v ON v.id = a.current_version_id
`

// CreateArtifact inserts an artifact without content and sets a.ID.
// Returns ErrUniqueConstraint if the claim already has an artifact of that type.
func CreateArtifact(q Querier, a *claim.Artifact) error {
	result, err := q.Exec(`
		INSERT INTO artifacts (claim_id, type, title, current_version_id, created_at, updated_at)
		VALUES (?, ?, ?, NULL, ?, ?)
	`, a.ClaimID, a.Type, a.Title, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return dbError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return dbError(err)
	}
	a.ID = id
	a.CurrentVersionID = nil
	a.CurrentVersion = nil
	return nil
}

// GetArtifact retrieves an artifact by id within a claim, current version inlined.
func GetArtifact(q Querier, claimID, artifactID int64) (*claim.Artifact, error) {
	row := q.QueryRow(artifactSelect+` WHERE a.id = ? AND a.claim_id = ?`, artifactID, claimID)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("artifact", strconv.FormatInt(artifactID, 10))
	}
	if err != nil {
		return nil, dbError(err)
	}
	return a, nil
}

// GetArtifactByType returns the claim's artifact of the given type, or nil if none exists.
func GetArtifactByType(q Querier, claimID int64, artifactType string) (*claim.Artifact, error) {
	row := q.QueryRow(artifactSelect+` WHERE a.claim_id = ? AND a.type = ?`, claimID, artifactType)

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err)
	}
	return a, nil
}

// ListArtifacts returns a claim's artifacts with current versions inlined.
func ListArtifacts(q Querier, claimID int64) ([]*claim.Artifact, error) {
	rows, err := q.Query(artifactSelect+` WHERE a.claim_id = ? ORDER BY a.id`, claimID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	artifacts := []*claim.Artifact{}
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, dbError(err)
		}
		artifacts = append(artifacts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return artifacts, nil
}

// AppendVersion inserts v as a new version of artifactID and repoints
// current_version_id to it, but only if the artifact's current version is
// still expectedCurrent (nil meaning no content yet). On mismatch it returns
// ErrStaleTarget; the caller must roll back so the inserted row is discarded.
func AppendVersion(q Querier, artifactID int64, expectedCurrent *int64, v *claim.ArtifactVersion) error {
	var metadata sql.NullString
	if len(v.Metadata) > 0 {
		data, err := json.Marshal(v.Metadata)
		if err != nil {
			return dbError(err)
		}
		metadata = sql.NullString{String: string(data), Valid: true}
	}

	result, err := q.Exec(`
		INSERT INTO artifact_versions (artifact_id, content, created_by, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, artifactID, v.Content, v.CreatedBy, metadata, v.CreatedAt)
	if err != nil {
		return dbError(err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return dbError(err)
	}

	// Compare-and-swap on the version pointer
	result, err = q.Exec(`
		UPDATE artifacts
		SET current_version_id = ?, updated_at = ?
		WHERE id = ? AND current_version_id IS ?
	`, id, v.CreatedAt, artifactID, toNullInt64(expectedCurrent))
	if err != nil {
		return dbError(err)
	}
	if err := checkAffected(result, ErrStaleTarget); err != nil {
		return err
	}

	v.ID = id
	v.ArtifactID = artifactID
	return nil
}

// ListVersions returns an artifact's history, oldest first.
func ListVersions(q Querier, artifactID int64) ([]*claim.ArtifactVersion, error) {
	rows, err := q.Query(`
		SELECT id, artifact_id, content, created_by, metadata_json, created_at
		FROM artifact_versions
		WHERE artifact_id = ?
		ORDER BY id
	`, artifactID)
	if err != nil {
		return nil, dbError(err)
	}
	defer rows.Close()

	versions := []*claim.ArtifactVersion{}
	for rows.Next() {
		var (
			v        claim.ArtifactVersion
			metadata sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.ArtifactID, &v.Content, &v.CreatedBy, &metadata, &v.CreatedAt); err != nil {
			return nil, dbError(err)
		}
		if err := decodeMetadata(metadata, &v); err != nil {
			return nil, dbError(err)
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(err)
	}
	return versions, nil
}

func scanArtifact(row scanner) (*claim.Artifact, error) {
	var (
		a          claim.Artifact
		currentID  sql.NullInt64
		vID        sql.NullInt64
		vContent   sql.NullString
		vCreatedBy sql.NullString
		vMetadata  sql.NullString
		vCreatedAt sql.NullInt64
	)

	err := row.Scan(
		&a.ID, &a.ClaimID, &a.Type, &a.Title, &currentID, &a.CreatedAt, &a.UpdatedAt,
		&vID, &vContent, &vCreatedBy, &vMetadata, &vCreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.CurrentVersionID = fromNullInt64(currentID)
	if vID.Valid {
		v := &claim.ArtifactVersion{
			ID:         vID.Int64,
			ArtifactID: a.ID,
			Content:    vContent.String,
			CreatedBy:  vCreatedBy.String,
			CreatedAt:  vCreatedAt.Int64,
		}
		if err := decodeMetadata(vMetadata, v); err != nil {
			return nil, err
		}
		a.CurrentVersion = v
	}
	return &a, nil
}

func decodeMetadata(ns sql.NullString, v *claim.ArtifactVersion) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), &v.Metadata)
}
