package ops

import (
	"context"
	"database/sql"
	stderrors "errors"
	"strconv"
	"time"

	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// createdFileMimeType is the type given to files created by a proposal.
const createdFileMimeType = "text/plain; charset=utf-8"

// AcceptInput contains parameters for the Accept operation.
type AcceptInput struct {
	ClaimID  int64
	Proposal *proposal.Proposal
}

// Accept applies one proposal to the content store. The target's live
// content must still equal the proposal's OldContent; otherwise the accept
// fails with CONFLICT and nothing is written. The check and the write are a
// single compare-and-swap on the artifact's current version or the file's
// revision.
func Accept(ctx context.Context, d *Deps, input AcceptInput) (*proposal.Applied, error) {
	p := input.Proposal
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := requireID("claim_id", input.ClaimID); err != nil {
		return nil, err
	}

	applied, err := d.accept(ctx, input.ClaimID, p)
	acceptsTotal.WithLabelValues(string(p.Type), outcome(err)).Inc()
	if err != nil {
		level := d.Logger.Warn
		if !errors.Is(err, errors.ErrConflict) && !errors.Is(err, errors.ErrNotFound) && !errors.Is(err, errors.ErrUnsupportedTarget) {
			level = d.Logger.Error
		}
		level("accept failed", "claim_id", input.ClaimID, "type", p.Type, "target", p.TargetName, "token", p.Token, "error", err)
		return nil, err
	}

	if p.Type == proposal.TypeArtifact {
		d.Artifacts.Invalidate(input.ClaimID)
	}
	d.Logger.Info("proposal accepted",
		"claim_id", input.ClaimID,
		"type", applied.Type,
		"target_id", applied.TargetID,
		"target", applied.TargetName,
		"created", applied.Created,
		"token", p.Token,
	)
	return applied, nil
}

func (d *Deps) accept(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	if _, err := db.GetClaim(d.DB, claimID); err != nil {
		return nil, err
	}
	switch p.Type {
	case proposal.TypeArtifact:
		return d.acceptArtifact(ctx, claimID, p)
	case proposal.TypeFile:
		if p.IsCreate() {
			return d.createFile(ctx, claimID, p)
		}
		return d.replaceFile(ctx, claimID, p)
	}
	return nil, errors.NewInvalidRequest("invalid proposal type " + strconv.Quote(string(p.Type)))
}

// acceptArtifact resolves, compares and appends inside one immediate transaction.
func (d *Deps) acceptArtifact(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	var applied *proposal.Applied

	err := db.WithTx(ctx, d.DB, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		created := false

		var a *claim.Artifact
		if p.TargetID != nil {
			found, err := db.GetArtifact(tx, claimID, *p.TargetID)
			if errors.Is(err, errors.ErrNotFound) {
				return errors.NewNotFound("artifact", p.TargetName)
			}
			if err != nil {
				return err
			}
			a = found
		} else {
			artifactType := claim.Normalize(p.TargetName)
			if artifactType == "" {
				return errors.NewInvalidRequest("target_name must name an artifact type")
			}
			found, err := db.GetArtifactByType(tx, claimID, artifactType)
			if err != nil {
				return err
			}
			if found == nil {
				a = &claim.Artifact{
					ClaimID:   claimID,
					Type:      artifactType,
					Title:     claim.TitleFor(artifactType),
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := db.CreateArtifact(tx, a); err != nil {
					if err == db.ErrUniqueConstraint {
						return errors.NewConflict(p.TargetName)
					}
					return err
				}
				created = true
			} else {
				// Someone created it since; the staleness check below decides
				a = found
			}
		}

		if a.CurrentContent() != p.OldContent {
			return errors.NewConflict(p.TargetName)
		}

		v := &claim.ArtifactVersion{
			Content:   p.NewContent,
			CreatedBy: claim.AuthorAgent,
			Metadata:  agentMetadata(p),
			CreatedAt: now,
		}
		if err := db.AppendVersion(tx, a.ID, a.CurrentVersionID, v); err != nil {
			if err == db.ErrStaleTarget {
				return errors.NewConflict(p.TargetName)
			}
			return err
		}

		artifactID, versionID := a.ID, v.ID
		applied = &proposal.Applied{
			Status:     proposal.StatusAccepted,
			Type:       proposal.TypeArtifact,
			TargetID:   a.ID,
			TargetName: a.Type,
			Created:    created,
			ArtifactID: &artifactID,
			VersionID:  &versionID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// replaceFile rewrites a text file. New bytes go under a fresh key so the
// old content stays readable until the revision compare-and-swap commits.
func (d *Deps) replaceFile(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	f, err := db.GetFile(d.DB, claimID, *p.TargetID)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.NewNotFound("file", p.TargetName)
	}
	if err != nil {
		return nil, err
	}
	if !claim.IsText(f.MimeType) {
		return nil, errors.NewUnsupportedTarget(f.Filename)
	}

	data, err := d.Blobs.Get(ctx, f.StoragePath)
	if stderrors.Is(err, blob.ErrNotFound) {
		// A concurrent accept may have replaced the content and removed the old object
		if current, lookupErr := db.GetFile(d.DB, claimID, f.ID); lookupErr == nil && current.Revision != f.Revision {
			return nil, errors.NewConflict(p.TargetName)
		}
		return nil, errors.NewNotFound("file", p.TargetName)
	}
	if err != nil {
		return nil, storageError(err)
	}
	live, err := claim.ExtractText(data, f.MimeType)
	if err != nil || live != p.OldContent {
		return nil, errors.NewConflict(p.TargetName)
	}

	key := blob.NewKey(claimID, f.Filename)
	content := []byte(p.NewContent)
	if err := d.Blobs.Put(ctx, key, content, f.MimeType); err != nil {
		return nil, storageError(err)
	}

	revision, err := db.ReplaceFileContent(d.DB, f.ID, f.Revision, key, int64(len(content)))
	if err != nil {
		d.deleteBlob(ctx, key)
		if err == db.ErrStaleTarget {
			return nil, errors.NewConflict(p.TargetName)
		}
		return nil, err
	}
	d.deleteBlob(ctx, f.StoragePath)

	fileID := f.ID
	return &proposal.Applied{
		Status:     proposal.StatusAccepted,
		Type:       proposal.TypeFile,
		TargetID:   f.ID,
		TargetName: f.Filename,
		FileID:     &fileID,
		Revision:   &revision,
	}, nil
}

// createFile adds a new text file. A file with the same name appearing
// since the proposal was generated is a conflict.
func (d *Deps) createFile(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	name, err := cleanFilename(p.TargetName)
	if err != nil {
		return nil, err
	}
	if p.OldContent != "" {
		return nil, errors.NewInvalidRequest("a file creation proposal must have empty old_content")
	}

	content := []byte(p.NewContent)
	if int64(len(content)) > d.Cfg.MaxUploadBytes {
		return nil, errors.NewPayloadTooLarge(d.Cfg.MaxUploadBytes)
	}

	key := blob.NewKey(claimID, name)
	if err := d.Blobs.Put(ctx, key, content, createdFileMimeType); err != nil {
		return nil, storageError(err)
	}

	f := &claim.File{
		ClaimID:     claimID,
		Filename:    name,
		MimeType:    createdFileMimeType,
		SizeBytes:   int64(len(content)),
		StoragePath: key,
		CreatedAt:   time.Now().Unix(),
	}
	err = db.WithTx(ctx, d.DB, func(tx *sql.Tx) error {
		existing, err := db.FindFileByName(tx, claimID, name)
		if err != nil {
			return err
		}
		if existing != nil {
			return errors.NewConflict(name)
		}
		return db.InsertFile(tx, f)
	})
	if err != nil {
		d.deleteBlob(ctx, key)
		return nil, err
	}

	fileID, revision := f.ID, f.Revision
	return &proposal.Applied{
		Status:     proposal.StatusAccepted,
		Type:       proposal.TypeFile,
		TargetID:   f.ID,
		TargetName: f.Filename,
		Created:    true,
		FileID:     &fileID,
		Revision:   &revision,
	}, nil
}

func agentMetadata(p *proposal.Proposal) map[string]any {
	m := map[string]any{"source": "agent", "command": "user_request"}
	if p.Token != "" {
		m["proposal_token"] = p.Token
	}
	return m
}
