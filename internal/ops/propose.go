package ops

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// ProposalsOutput is the result of Chat and GenerateSummary. An empty list is
// a normal outcome: the generator found nothing actionable.
type ProposalsOutput struct {
	Proposals []*proposal.Proposal `json:"proposals"`
}

// ChatInput contains parameters for the Chat operation.
type ChatInput struct {
	ClaimID int64
	Message string // required
}

// Chat turns a free-text instruction into proposals. It never writes.
func Chat(ctx context.Context, d *Deps, input ChatInput) (*ProposalsOutput, error) {
	message := strings.TrimSpace(input.Message)
	if message == "" {
		return nil, errors.NewInvalidRequest("message is required")
	}
	if err := requireID("claim_id", input.ClaimID); err != nil {
		return nil, err
	}

	cc, err := loadClaimContext(ctx, d, input.ClaimID)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(ctx, d.Cfg.GenerationTimeout())
	defer cancel()

	start := time.Now()
	changes, err := d.Generator.Interpret(genCtx, cc, message)
	observeGeneration("chat", d.Generator.Name(), start, err)
	if err != nil {
		return nil, d.generationError("chat", input.ClaimID, err)
	}

	out := &ProposalsOutput{Proposals: buildProposals(cc, changes)}
	countProposals("chat", out.Proposals)
	d.Logger.Info("chat handled", "claim_id", input.ClaimID, "generator", d.Generator.Name(), "proposals", len(out.Proposals))
	return out, nil
}

// GenerateSummary proposes a new or updated summary artifact. A claim with
// no readable files yields no proposals.
func GenerateSummary(ctx context.Context, d *Deps, claimID int64) (*ProposalsOutput, error) {
	if err := requireID("claim_id", claimID); err != nil {
		return nil, err
	}

	cc, err := loadClaimContext(ctx, d, claimID)
	if err != nil {
		return nil, err
	}
	if len(cc.Files) == 0 {
		return &ProposalsOutput{Proposals: []*proposal.Proposal{}}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, d.Cfg.GenerationTimeout())
	defer cancel()

	start := time.Now()
	content, err := d.Generator.Summarize(genCtx, cc)
	observeGeneration("generate_summary", d.Generator.Name(), start, err)
	if err != nil {
		return nil, d.generationError("generate_summary", claimID, err)
	}

	var changes []agent.Change
	if content != "" {
		changes = []agent.Change{{Type: proposal.TypeArtifact, Target: claim.ArtifactSummary, NewContent: content}}
	}

	out := &ProposalsOutput{Proposals: buildProposals(cc, changes)}
	countProposals("generate_summary", out.Proposals)
	d.Logger.Info("summary generated", "claim_id", claimID, "generator", d.Generator.Name(), "proposals", len(out.Proposals))
	return out, nil
}

// loadClaimContext reads the claim's current content for a generator.
// Files that cannot be read as text are skipped with a warning.
func loadClaimContext(ctx context.Context, d *Deps, claimID int64) (*agent.ClaimContext, error) {
	c, err := db.GetClaim(d.DB, claimID)
	if err != nil {
		return nil, err
	}
	files, err := db.ListFiles(d.DB, claimID)
	if err != nil {
		return nil, err
	}
	// Read artifacts directly so proposal snapshots never come from a stale cache
	artifacts, err := db.ListArtifacts(d.DB, claimID)
	if err != nil {
		return nil, err
	}

	cc := &agent.ClaimContext{Claim: c, Artifacts: artifacts}
	for _, f := range files {
		data, err := d.Blobs.Get(ctx, f.StoragePath)
		if stderrors.Is(err, blob.ErrNotFound) {
			d.Logger.Warn("file content missing, skipping", "claim_id", claimID, "file_id", f.ID, "filename", f.Filename)
			continue
		}
		if err != nil {
			return nil, storageError(err)
		}

		text, err := claim.ExtractText(data, f.MimeType)
		if err != nil {
			d.Logger.Warn("file not readable as text, skipping", "claim_id", claimID, "file_id", f.ID, "filename", f.Filename, "error", err)
			continue
		}
		cc.Files = append(cc.Files, agent.FileText{File: f, Text: text})
	}
	return cc, nil
}

// buildProposals resolves each change against the context snapshot and
// computes its diff. Changes that would not alter content are dropped.
func buildProposals(cc *agent.ClaimContext, changes []agent.Change) []*proposal.Proposal {
	proposals := []*proposal.Proposal{}
	seen := map[string]bool{}

	for _, c := range changes {
		var p *proposal.Proposal

		switch c.Type {
		case proposal.TypeArtifact:
			target := claim.Normalize(c.Target)
			if target == "" {
				continue
			}
			var targetID *int64
			existing := cc.Artifact(target)
			if existing != nil {
				id := existing.ID
				targetID = &id
			}
			old := existing.CurrentContent()
			if old == c.NewContent {
				continue
			}
			p = proposal.New(proposal.TypeArtifact, targetID, target, old, c.NewContent, "current_"+target, "proposed_"+target)

		case proposal.TypeFile:
			ft := cc.File(c.FileID)
			if ft == nil && c.FileID == 0 {
				ft = fileByName(cc, c.Target)
			}
			if ft == nil {
				name, err := cleanFilename(c.Target)
				if c.FileID != 0 || err != nil {
					continue
				}
				p = proposal.New(proposal.TypeFile, nil, name, "", c.NewContent, name, name)
				break
			}
			if !claim.IsText(ft.File.MimeType) || ft.Text == c.NewContent {
				continue
			}
			id := ft.File.ID
			p = proposal.New(proposal.TypeFile, &id, ft.File.Filename, ft.Text, c.NewContent, ft.File.Filename, ft.File.Filename)

		default:
			continue
		}

		// One proposal per target per response; the last change wins
		key := p.TargetKey()
		if seen[key] {
			for i, prev := range proposals {
				if prev.TargetKey() == key {
					proposals[i] = p
				}
			}
			continue
		}
		seen[key] = true
		proposals = append(proposals, p)
	}
	return proposals
}

func fileByName(cc *agent.ClaimContext, name string) *agent.FileText {
	name, err := cleanFilename(name)
	if err != nil {
		return nil
	}
	for i := range cc.Files {
		if cc.Files[i].File.Filename == name {
			return &cc.Files[i]
		}
	}
	return nil
}

// generationError logs the generator failure and returns the client-facing error.
func (d *Deps) generationError(operation string, claimID int64, err error) error {
	var dErr *errors.DeskError
	if stderrors.As(err, &dErr) {
		return dErr
	}
	d.Logger.Error("generation failed", "operation", operation, "claim_id", claimID, "generator", d.Generator.Name(), "error", err)
	return errors.NewAgentUnavailable(err)
}

func countProposals(operation string, proposals []*proposal.Proposal) {
	for _, p := range proposals {
		proposalsGeneratedTotal.WithLabelValues(operation, string(p.Type)).Inc()
	}
}
