package mcp

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/claimdesk/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"claim", "file", "artifact", "agent"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"claim_list": {
		def:     claimListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClaimList },
	},
	"claim_create": {
		def:     claimCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClaimCreate },
	},
	"claim_get": {
		def:     claimGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleClaimGet },
	},
	"file_list": {
		def:     fileListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileList },
	},
	"file_read": {
		def:     fileReadToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFileRead },
	},
	"artifact_list": {
		def:     artifactListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactList },
	},
	"artifact_history": {
		def:     artifactHistoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactHistory },
	},
	"agent_chat": {
		def:     agentChatToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAgentChat },
	},
	"agent_generate_summary": {
		def:     agentGenerateSummaryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAgentGenerateSummary },
	},
	"agent_accept": {
		def:     agentAcceptToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAgentAccept },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name
// ("agent_generate_summary" → "agent").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates an MCP server with the claimdesk tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded.
func NewServer(deps *ops.Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"claimdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(deps)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(deps.Cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range deps.Cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves MCP over stdio.
func Run(deps *ops.Deps, version string) error {
	return server.ServeStdio(NewServer(deps, version))
}
