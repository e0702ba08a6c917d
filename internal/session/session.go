// Package session holds the conversation state for one claim-viewing context:
// an ordered transcript and the proposals emitted into it. A session allows
// one outstanding agent request at a time, so transcript order always
// matches request order.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// Agent is the proposal workflow a session drives. ops.Local runs it
// in-process; client.Client calls a remote server.
type Agent interface {
	Chat(ctx context.Context, claimID int64, message string) ([]*proposal.Proposal, error)
	GenerateSummary(ctx context.Context, claimID int64) ([]*proposal.Proposal, error)
	Accept(ctx context.Context, claimID int64, p *proposal.Proposal) (*proposal.Applied, error)
}

// State is the session's request state.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingAgent State = "awaiting_agent"
	StateClosed        State = "closed"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Status is a proposal's lifecycle state within the session.
type Status string

const (
	StatusProposed   Status = "proposed"
	StatusAccepted   Status = "accepted"
	StatusSuperseded Status = "superseded"
	StatusDiscarded  Status = "discarded"
)

// Transcript messages.
const (
	msgSummaryRequest  = "Generate or Update Summary via Agent"
	msgNoProposals     = `I couldn't understand that command. Try "create a summary" or "update file".`
	msgSummaryProposal = "Generated summary proposal. Review the changes below."
	msgNoSummary       = "No summary changes to propose. The current summary is up to date or no files could be read."
	msgChatFailed      = "Sorry, I encountered an error processing your request."
	msgSummaryFailed   = "Sorry, I encountered an error generating the summary."
)

// Turn is one transcript entry. Agent turns may carry proposals, the
// applied target of an accept, or the error that ended a request.
type Turn struct {
	Seq       int                  `json:"seq"`
	Role      Role                 `json:"role"`
	Content   string               `json:"content"`
	Proposals []*proposal.Proposal `json:"proposals,omitempty"`
	Applied   *proposal.Applied    `json:"applied,omitempty"`
	Error     *TurnError           `json:"error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// TurnError records an agent-side failure shown in the transcript.
type TurnError struct {
	Code   errors.ErrorCode `json:"code"`
	Detail string           `json:"detail"`
}

// Entry tracks one emitted proposal.
type Entry struct {
	Proposal *proposal.Proposal `json:"proposal"`
	Status   Status             `json:"status"`
	TurnSeq  int                `json:"turn_seq"`
}

// View is a point-in-time copy of a session.
type View struct {
	ID         string               `json:"id"`
	ClaimID    int64                `json:"claim_id"`
	State      State                `json:"state"`
	Transcript []Turn               `json:"transcript"`
	Pending    []*proposal.Proposal `json:"pending"`
	Proposals  []Entry              `json:"proposals"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Session is a ConversationSession for one claim.
type Session struct {
	ID      string
	ClaimID int64

	agent  Agent
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	transcript []Turn
	entries    map[string]*Entry
	order      []string
	cancel     context.CancelFunc // cancels the in-flight request, if any
	createdAt  time.Time
}

// New creates an idle session. A nil logger uses slog.Default.
func New(id string, claimID int64, agent Agent, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		ID:        id,
		ClaimID:   claimID,
		agent:     agent,
		logger:    logger.With("session_id", id, "claim_id", claimID),
		state:     StateIdle,
		entries:   map[string]*Entry{},
		createdAt: time.Now(),
	}
}

// SendMessage records the user's message and asks the agent for proposals.
// Agent failures are recorded as an agent turn, not returned. The returned
// error is for session-level failures: empty message, busy, closed.
func (s *Session) SendMessage(ctx context.Context, message string) (*Turn, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, errors.NewInvalidRequest("message is required")
	}

	reqCtx, err := s.begin(ctx, message)
	if err != nil {
		return nil, err
	}
	proposals, err := s.agent.Chat(reqCtx, s.ClaimID, message)

	return s.finishGeneration(proposals, err, func(n int) string {
		if n == 0 {
			return msgNoProposals
		}
		return fmt.Sprintf("I found %d proposal(s) for you to review.", n)
	}, msgChatFailed)
}

// GenerateSummary asks the agent for a new or updated summary proposal.
func (s *Session) GenerateSummary(ctx context.Context) (*Turn, error) {
	reqCtx, err := s.begin(ctx, msgSummaryRequest)
	if err != nil {
		return nil, err
	}
	proposals, err := s.agent.GenerateSummary(reqCtx, s.ClaimID)

	return s.finishGeneration(proposals, err, func(n int) string {
		if n == 0 {
			return msgNoSummary
		}
		return msgSummaryProposal
	}, msgSummaryFailed)
}

// Accept applies a pending proposal by token. On failure the proposal stays
// pending so the user can retry or discard it.
func (s *Session) Accept(ctx context.Context, token string) (*Turn, error) {
	s.mu.Lock()
	if err := s.checkReady(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	entry, err := s.pendingEntry(token)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	reqCtx := s.startRequest(ctx)
	p := entry.Proposal
	s.mu.Unlock()

	applied, acceptErr := s.agent.Accept(reqCtx, s.ClaimID, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		s.logger.Warn("dropping accept result for closed session", "token", token, "error", acceptErr)
		return nil, errors.NewSessionClosed(s.ID)
	}
	s.endRequest()

	if acceptErr != nil {
		dErr := errors.As(acceptErr)
		s.logger.Warn("accept failed", "token", token, "target", p.TargetName, "error", acceptErr)
		turn := s.appendTurn(Turn{
			Role:    RoleAgent,
			Content: "Error: " + dErr.Message,
			Error:   &TurnError{Code: dErr.Code, Detail: dErr.Message},
		})
		return turn, nil
	}

	entry.Status = StatusAccepted
	s.supersede(p, applied)
	turn := s.appendTurn(Turn{
		Role:    RoleAgent,
		Content: fmt.Sprintf("Accepted changes to %s.", p.TargetName),
		Applied: applied,
	})
	return turn, nil
}

// Discard drops a pending proposal without applying it.
func (s *Session) Discard(token string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, errors.NewSessionClosed(s.ID)
	}
	entry, err := s.pendingEntry(token)
	if err != nil {
		return nil, err
	}
	entry.Status = StatusDiscarded
	copied := *entry
	return &copied, nil
}

// Close ends the session. Pending proposals become discarded and any
// in-flight result is dropped when it arrives. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	for _, e := range s.entries {
		if e.Status == StatusProposed {
			e.Status = StatusDiscarded
		}
	}
	s.logger.Info("session closed")
}

// State returns the current request state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// View returns a copy of the session's transcript and proposals.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &View{
		ID:         s.ID,
		ClaimID:    s.ClaimID,
		State:      s.state,
		Transcript: append([]Turn(nil), s.transcript...),
		Pending:    []*proposal.Proposal{},
		Proposals:  make([]Entry, 0, len(s.order)),
		CreatedAt:  s.createdAt,
	}
	if v.Transcript == nil {
		v.Transcript = []Turn{}
	}
	for _, token := range s.order {
		e := s.entries[token]
		v.Proposals = append(v.Proposals, *e)
		if e.Status == StatusProposed {
			v.Pending = append(v.Pending, e.Proposal)
		}
	}
	return v
}

// Pending returns the proposals still awaiting a decision, in emission order.
func (s *Session) Pending() []*proposal.Proposal {
	return s.View().Pending
}

// begin moves Idle -> AwaitingAgent and records the user turn.
func (s *Session) begin(ctx context.Context, userContent string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkReady(); err != nil {
		return nil, err
	}
	reqCtx := s.startRequest(ctx)
	s.appendTurn(Turn{Role: RoleUser, Content: userContent})
	return reqCtx, nil
}

// finishGeneration moves back to Idle and records the agent turn.
func (s *Session) finishGeneration(proposals []*proposal.Proposal, err error, message func(int) string, failed string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		s.logger.Warn("dropping late agent result for closed session", "proposals", len(proposals), "error", err)
		return nil, errors.NewSessionClosed(s.ID)
	}
	s.endRequest()

	if err != nil {
		dErr := errors.As(err)
		s.logger.Warn("agent request failed", "error", err)
		return s.appendTurn(Turn{
			Role:    RoleAgent,
			Content: failed,
			Error:   &TurnError{Code: dErr.Code, Detail: dErr.Message},
		}), nil
	}

	turn := s.appendTurn(Turn{Role: RoleAgent, Content: message(len(proposals)), Proposals: proposals})
	for _, p := range proposals {
		s.register(p, turn.Seq)
	}
	return turn, nil
}

func (s *Session) checkReady() error {
	switch s.state {
	case StateClosed:
		return errors.NewSessionClosed(s.ID)
	case StateAwaitingAgent:
		return errors.NewSessionBusy(s.ID)
	}
	return nil
}

// startRequest must be called with mu held.
func (s *Session) startRequest(ctx context.Context) context.Context {
	reqCtx, cancel := context.WithCancel(ctx)
	s.state = StateAwaitingAgent
	s.cancel = cancel
	return reqCtx
}

// endRequest must be called with mu held.
func (s *Session) endRequest() {
	s.state = StateIdle
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// appendTurn must be called with mu held. It returns a copy of the stored turn.
func (s *Session) appendTurn(t Turn) *Turn {
	t.Seq = len(s.transcript) + 1
	t.CreatedAt = time.Now()
	s.transcript = append(s.transcript, t)
	copied := t
	return &copied
}

// register adds a new proposal. A pending proposal for the same target is
// replaced: only one proposal per target stays pending.
func (s *Session) register(p *proposal.Proposal, turnSeq int) {
	if p.Token == "" {
		p.Token = proposal.NewToken()
	}
	if _, exists := s.entries[p.Token]; exists {
		return
	}

	key := p.TargetKey()
	for _, e := range s.entries {
		if e.Status == StatusProposed && e.Proposal.TargetKey() == key {
			e.Status = StatusDiscarded
		}
	}
	s.entries[p.Token] = &Entry{Proposal: p, Status: StatusProposed, TurnSeq: turnSeq}
	s.order = append(s.order, p.Token)
}

// supersede marks other pending proposals for the accepted target.
func (s *Session) supersede(accepted *proposal.Proposal, applied *proposal.Applied) {
	keys := map[string]bool{accepted.TargetKey(): true}
	if applied != nil {
		id := applied.TargetID
		byID := &proposal.Proposal{Type: applied.Type, TargetID: &id}
		byName := &proposal.Proposal{Type: applied.Type, TargetName: applied.TargetName}
		keys[byID.TargetKey()] = true
		keys[byName.TargetKey()] = true
	}
	if accepted.TargetID == nil {
		byName := &proposal.Proposal{Type: accepted.Type, TargetName: accepted.TargetName}
		keys[byName.TargetKey()] = true
	}

	for _, e := range s.entries {
		if e.Status == StatusProposed && e.Proposal != accepted && keys[e.Proposal.TargetKey()] {
			e.Status = StatusSuperseded
		}
	}
}

// pendingEntry must be called with mu held.
func (s *Session) pendingEntry(token string) (*Entry, error) {
	entry, ok := s.entries[strings.TrimSpace(token)]
	if !ok {
		return nil, errors.NewNotFound("proposal", token)
	}
	if entry.Status != StatusProposed {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("proposal %s is %s", token, entry.Status))
	}
	return entry, nil
}
