package mcp

import "github.com/mark3labs/mcp-go/mcp"

var claimListToolDef = mcp.NewTool("claim_list",
	mcp.WithDescription("List claims, newest first."),
	mcp.WithNumber("limit", mcp.Description("Maximum results (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Results to skip")),
	mcp.WithReadOnlyHintAnnotation(true),
)

var claimCreateToolDef = mcp.NewTool("claim_create",
	mcp.WithDescription("Create a claim."),
	mcp.WithString("title", mcp.Required(), mcp.Description("Human-readable claim title")),
	mcp.WithString("reference_number", mcp.Description("Optional external reference, e.g. a policy number")),
)

var claimGetToolDef = mcp.NewTool("claim_get",
	mcp.WithDescription("Get one claim by id."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fileListToolDef = mcp.NewTool("file_list",
	mcp.WithDescription("List the files uploaded to a claim."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var fileReadToolDef = mcp.NewTool("file_read",
	mcp.WithDescription("Read a file's extracted text. Scanned or encrypted PDFs have no readable text."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithNumber("file_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var artifactListToolDef = mcp.NewTool("artifact_list",
	mcp.WithDescription("List a claim's artifacts with their current versions."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var artifactHistoryToolDef = mcp.NewTool("artifact_history",
	mcp.WithDescription("List every version of an artifact, oldest first."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithNumber("artifact_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var agentChatToolDef = mcp.NewTool("agent_chat",
	mcp.WithDescription("Turn an instruction into change proposals for review. Nothing is applied until agent_accept."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithString("message", mcp.Required(), mcp.Description(`Instruction, e.g. "create a summary"`)),
	mcp.WithReadOnlyHintAnnotation(true),
)

var agentGenerateSummaryToolDef = mcp.NewTool("agent_generate_summary",
	mcp.WithDescription("Propose a new or updated summary artifact from the claim's files."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithReadOnlyHintAnnotation(true),
)

var agentAcceptToolDef = mcp.NewTool("agent_accept",
	mcp.WithDescription("Apply a proposal exactly as returned by agent_chat or agent_generate_summary. Fails with CONFLICT if the target changed since the proposal was generated."),
	mcp.WithNumber("claim_id", mcp.Required()),
	mcp.WithObject("proposal", mcp.Required(), mcp.Description("The proposal object, unmodified")),
	mcp.WithDestructiveHintAnnotation(false),
)
