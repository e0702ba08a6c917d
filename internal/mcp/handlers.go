package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps *ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps *ops.Deps) *Handlers {
	return &Handlers{deps: deps}
}

// Request types for each tool

// ClaimListRequest represents the arguments for claim_list.
type ClaimListRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// ClaimCreateRequest represents the arguments for claim_create.
type ClaimCreateRequest struct {
	Title           string  `json:"title"`
	ReferenceNumber *string `json:"reference_number,omitempty"`
}

// ClaimRequest identifies a claim.
type ClaimRequest struct {
	ClaimID int64 `json:"claim_id"`
}

// FileReadRequest represents the arguments for file_read.
type FileReadRequest struct {
	ClaimID int64 `json:"claim_id"`
	FileID  int64 `json:"file_id"`
}

// ArtifactHistoryRequest represents the arguments for artifact_history.
type ArtifactHistoryRequest struct {
	ClaimID    int64 `json:"claim_id"`
	ArtifactID int64 `json:"artifact_id"`
}

// AgentChatRequest represents the arguments for agent_chat.
type AgentChatRequest struct {
	ClaimID int64  `json:"claim_id"`
	Message string `json:"message"`
}

// AgentAcceptRequest represents the arguments for agent_accept. The
// proposal stays raw so it goes through wire-shape validation.
type AgentAcceptRequest struct {
	ClaimID  int64           `json:"claim_id"`
	Proposal json.RawMessage `json:"proposal"`
}

// FileReadOutput is a file's metadata with its extracted text.
type FileReadOutput struct {
	File *claim.File `json:"file"`
	Text string      `json:"text"`
}

// Handler implementations

// HandleClaimList handles the claim_list tool call.
func (h *Handlers) HandleClaimList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.ListClaims(ctx, h.deps, ops.ListClaimsInput{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClaimCreate handles the claim_create tool call.
func (h *Handlers) HandleClaimCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimCreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.CreateClaim(ctx, h.deps, ops.CreateClaimInput{
		Title:           input.Title,
		ReferenceNumber: input.ReferenceNumber,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleClaimGet handles the claim_get tool call.
func (h *Handlers) HandleClaimGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.GetClaim(ctx, h.deps, input.ClaimID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFileList handles the file_list tool call.
func (h *Handlers) HandleFileList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	files, err := ops.ListFiles(ctx, h.deps, input.ClaimID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": files})
}

// HandleFileRead handles the file_read tool call.
func (h *Handlers) HandleFileRead(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FileReadRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	f, data, err := ops.ReadFile(ctx, h.deps, input.ClaimID, input.FileID)
	if err != nil {
		return errorResult(err), nil
	}
	text, err := claim.ExtractText(data, f.MimeType)
	if err != nil {
		return errorResult(errors.NewUnsupportedTarget(f.Filename)), nil
	}
	return successResult(FileReadOutput{File: f, Text: text})
}

// HandleArtifactList handles the artifact_list tool call.
func (h *Handlers) HandleArtifactList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	artifacts, err := ops.ListArtifacts(ctx, h.deps, input.ClaimID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"items": artifacts})
}

// HandleArtifactHistory handles the artifact_history tool call.
func (h *Handlers) HandleArtifactHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ArtifactHistoryRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.ArtifactHistory(ctx, h.deps, input.ClaimID, input.ArtifactID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAgentChat handles the agent_chat tool call.
func (h *Handlers) HandleAgentChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AgentChatRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Chat(ctx, h.deps, ops.ChatInput{ClaimID: input.ClaimID, Message: input.Message})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAgentGenerateSummary handles the agent_generate_summary tool call.
func (h *Handlers) HandleAgentGenerateSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ClaimRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.GenerateSummary(ctx, h.deps, input.ClaimID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAgentAccept handles the agent_accept tool call.
func (h *Handlers) HandleAgentAccept(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AgentAcceptRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	p, err := proposal.Decode(input.Proposal)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := ops.Accept(ctx, h.deps, ops.AcceptInput{ClaimID: input.ClaimID, Proposal: p})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result with IsError set. Causes stay
// out of the payload; internal and unavailable errors carry only their
// generic message.
func errorResult(err error) *mcp.CallToolResult {
	dErr := errors.As(err)

	errorObj := map[string]any{
		"code":    dErr.Code,
		"message": dErr.Message,
		"status":  dErr.Status,
	}
	if dErr.Details != nil {
		errorObj["details"] = dErr.Details
	}

	content, _ := json.Marshal(map[string]any{"error": errorObj})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
