package ops

import (
	"context"

	"github.com/hpungsan/claimdesk/internal/proposal"
)

// Local runs the proposal operations in-process. It satisfies the agent
// contract a conversation session calls into; client.Client is the remote
// equivalent.
type Local struct {
	Deps *Deps
}

func (l *Local) Chat(ctx context.Context, claimID int64, message string) ([]*proposal.Proposal, error) {
	out, err := Chat(ctx, l.Deps, ChatInput{ClaimID: claimID, Message: message})
	if err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

func (l *Local) GenerateSummary(ctx context.Context, claimID int64) ([]*proposal.Proposal, error) {
	out, err := GenerateSummary(ctx, l.Deps, claimID)
	if err != nil {
		return nil, err
	}
	return out.Proposals, nil
}

func (l *Local) Accept(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error) {
	return Accept(ctx, l.Deps, AcceptInput{ClaimID: claimID, Proposal: p})
}
