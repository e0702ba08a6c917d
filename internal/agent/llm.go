package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/proposal"
)

// Completer sends one prompt to a language model and returns its text reply.
type Completer interface {
	Name() string
	Complete(ctx context.Context, system, prompt string, wantJSON bool) (string, error)
}

// maxContextChars caps how much of each document goes into a prompt.
const maxContextChars = 8000

const summarySystemPrompt = `You are an insurance claims assistant. You write concise, factual claim summaries in Markdown from the documents provided. Never invent facts that are not in the documents.`

const interpretSystemPrompt = `You are an insurance claims assistant that edits claim documents on request. You never apply changes yourself: you propose full replacement content that a human will review.
Reply with JSON only, in the form:
{"changes":[{"type":"artifact","target":"<artifact type, e.g. summary>","new_content":"<full text>"},{"type":"file","file_id":<id>,"new_content":"<full text>"}]}
To create a new text file, omit file_id and give "target":"<filename>".
Only text files can be changed. If the request is unclear or needs no change, reply {"changes":[]}.`

// LLMGenerator drives a language model through a Completer.
type LLMGenerator struct {
	completer Completer
	limiter   *rate.Limiter
}

// NewLLMGenerator wraps c. rps > 0 limits request rate; 0 means unlimited.
func NewLLMGenerator(c Completer, rps float64) *LLMGenerator {
	g := &LLMGenerator{completer: c}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

func (g *LLMGenerator) Name() string { return g.completer.Name() }

func (g *LLMGenerator) wait(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	return g.limiter.Wait(ctx)
}

func (g *LLMGenerator) Summarize(ctx context.Context, cc *ClaimContext) (string, error) {
	if len(cc.Files) == 0 {
		return "", nil
	}
	if err := g.wait(ctx); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\n", cc.Claim.Title)
	if existing := cc.Artifact(claim.ArtifactSummary); existing.CurrentContent() != "" {
		fmt.Fprintf(&b, "Current summary (revise it, keeping anything still accurate):\n%s\n\n", clip(existing.CurrentContent()))
	}
	b.WriteString("Documents:\n\n")
	writeFiles(&b, cc.Files)
	b.WriteString("Write the claim summary. Start with the heading \"# Claim Summary\".")

	out, err := g.completer.Complete(ctx, summarySystemPrompt, b.String(), false)
	if err != nil {
		return "", err
	}
	return stripFences(out), nil
}

func (g *LLMGenerator) Interpret(ctx context.Context, cc *ClaimContext, message string) ([]Change, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\n", cc.Claim.Title)
	b.WriteString("Files:\n\n")
	writeFiles(&b, cc.Files)
	b.WriteString("Artifacts:\n\n")
	for _, a := range cc.Artifacts {
		fmt.Fprintf(&b, "[artifact type=%s]\n%s\n\n", a.Type, clip(a.CurrentContent()))
	}
	fmt.Fprintf(&b, "Request: %s\n", message)

	out, err := g.completer.Complete(ctx, interpretSystemPrompt, b.String(), true)
	if err != nil {
		return nil, err
	}
	return parseChanges(cc, out)
}

type llmReply struct {
	Changes []struct {
		Type       string `json:"type"`
		Target     string `json:"target"`
		FileID     int64  `json:"file_id"`
		NewContent string `json:"new_content"`
	} `json:"changes"`
}

// parseChanges decodes a model reply, dropping changes that name unknown
// or non-text files. A file change without file_id creates a file named by target.
func parseChanges(cc *ClaimContext, out string) ([]Change, error) {
	var reply llmReply
	if err := json.Unmarshal([]byte(stripFences(out)), &reply); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}

	var changes []Change
	for _, c := range reply.Changes {
		switch proposal.Type(c.Type) {
		case proposal.TypeArtifact:
			target := claim.Normalize(c.Target)
			if target == "" {
				continue
			}
			changes = append(changes, Change{Type: proposal.TypeArtifact, Target: target, NewContent: c.NewContent})
		case proposal.TypeFile:
			if c.FileID == 0 {
				name := strings.TrimSpace(c.Target)
				if name == "" {
					continue
				}
				changes = append(changes, Change{Type: proposal.TypeFile, Target: name, NewContent: c.NewContent})
				continue
			}
			ft := cc.File(c.FileID)
			if ft == nil || !claim.IsText(ft.File.MimeType) {
				continue
			}
			changes = append(changes, Change{Type: proposal.TypeFile, Target: ft.File.Filename, FileID: ft.File.ID, NewContent: c.NewContent})
		}
	}
	return changes, nil
}

func writeFiles(b *strings.Builder, files []FileText) {
	for _, ft := range files {
		fmt.Fprintf(b, "[file id=%d name=%q type=%s]\n%s\n\n", ft.File.ID, ft.File.Filename, ft.File.MimeType, clip(ft.Text))
	}
}

func clip(s string) string {
	return preview(s, maxContextChars)
}

// stripFences removes a Markdown code fence wrapped around a whole reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
