package agent

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// AgentNote is appended to a file by the keyword generator's update command.
const AgentNote = "\n\n[Agent Note: File updated based on claim analysis]"

// previewChars is how much of each file the keyword summary quotes.
const previewChars = 500

// KeywordGenerator recognizes a small command vocabulary:
//
//	"create ... summary"           summary artifact proposal
//	"update|modify ... file"       agent note appended to the first text file
//
// Anything else yields no changes.
type KeywordGenerator struct{}

func NewKeywordGenerator() *KeywordGenerator {
	return &KeywordGenerator{}
}

func (g *KeywordGenerator) Name() string { return "keyword" }

func (g *KeywordGenerator) Interpret(ctx context.Context, cc *ClaimContext, message string) ([]Change, error) {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "create") && strings.Contains(msg, "summary"):
		content, err := g.Summarize(ctx, cc)
		if err != nil || content == "" {
			return nil, err
		}
		return []Change{{Type: proposal.TypeArtifact, Target: claim.ArtifactSummary, NewContent: content}}, nil

	case (strings.Contains(msg, "update") || strings.Contains(msg, "modify")) && strings.Contains(msg, "file"):
		// First text file only; PDFs and images are read-only
		for _, ft := range cc.Files {
			if claim.IsText(ft.File.MimeType) {
				return []Change{{
					Type:       proposal.TypeFile,
					Target:     ft.File.Filename,
					FileID:     ft.File.ID,
					NewContent: ft.Text + AgentNote,
				}}, nil
			}
		}
		return nil, nil
	}

	return nil, nil
}

func (g *KeywordGenerator) Summarize(_ context.Context, cc *ClaimContext) (string, error) {
	if len(cc.Files) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("# Claim Summary\n\n")
	b.WriteString("Generated from the following files:\n\n")
	for _, ft := range cc.Files {
		fmt.Fprintf(&b, "## %s\n\n", ft.File.Filename)
		fmt.Fprintf(&b, "%s\n\n", preview(ft.Text, previewChars))
	}
	b.WriteString("\n---\n")
	b.WriteString("*This summary was generated automatically. Review and edit as needed.*")
	return b.String(), nil
}

// preview returns the first n runes of s, with "..." if truncated.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
