// Package agent holds the proposal generators: the collaborators that turn an
// instruction or a summary trigger into intended changes. Generators never
// touch storage; they read a ClaimContext snapshot and return Changes.
package agent

import (
	"context"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// FileText is a readable claim file with its extracted text.
type FileText struct {
	File *claim.File
	Text string
}

// ClaimContext is the read-only content snapshot a generator works from.
type ClaimContext struct {
	Claim     *claim.Claim
	Files     []FileText
	Artifacts []*claim.Artifact
}

// Artifact returns the context's artifact of the given type, or nil.
func (cc *ClaimContext) Artifact(artifactType string) *claim.Artifact {
	for _, a := range cc.Artifacts {
		if a.Type == artifactType {
			return a
		}
	}
	return nil
}

// File returns the readable file with the given id, or nil.
func (cc *ClaimContext) File(id int64) *FileText {
	for i := range cc.Files {
		if cc.Files[i].File.ID == id {
			return &cc.Files[i]
		}
	}
	return nil
}

// Change is an intended edit. Artifact changes name the artifact type in
// Target; file changes name the file by FileID, or by Target alone when the
// file is to be created. The caller resolves the current content and
// computes the diff.
type Change struct {
	Type       proposal.Type
	Target     string
	FileID     int64
	NewContent string
}

// Generator produces changes for a claim.
type Generator interface {
	// Name identifies the generator in logs and metrics.
	Name() string

	// Interpret maps a free-text instruction to zero or more changes.
	// No changes is a normal outcome, not an error.
	Interpret(ctx context.Context, cc *ClaimContext, message string) ([]Change, error)

	// Summarize writes a summary of the claim's files. Returns "" when there
	// is nothing to summarize.
	Summarize(ctx context.Context, cc *ClaimContext) (string, error)
}
