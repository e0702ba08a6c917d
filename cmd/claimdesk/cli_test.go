package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/claim"
	"github.com/hpungsan/claimdesk/internal/config"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
)

// setupTestDeps creates dependencies backed by a temporary database.
func setupTestDeps(t *testing.T) *ops.Deps {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ops.NewDeps(database, config.DefaultConfig(), blob.NewMemoryStore(), agent.NewKeywordGenerator(), logger)
}

// runCLI runs one command and returns what it wrote.
func runCLI(t *testing.T, deps *ops.Deps, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(deps)
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"claimdesk"}, args...))
	return out.String(), err
}

// mustRunCLI runs a command that must succeed and decodes its JSON output into v.
func mustRunCLI(t *testing.T, deps *ops.Deps, stdin string, v any, args ...string) {
	t.Helper()
	out, err := runCLI(t, deps, stdin, args...)
	if err != nil {
		t.Fatalf("%s failed: %v", strings.Join(args, " "), err)
	}
	if v == nil {
		return
	}
	if err := json.Unmarshal([]byte(out), v); err != nil {
		t.Fatalf("failed to parse output: %v\nOutput: %s", err, out)
	}
}

// seedClaimWithNotes creates a claim with one uploaded text file.
func seedClaimWithNotes(t *testing.T, deps *ops.Deps) *claim.Claim {
	t.Helper()
	c, err := ops.CreateClaim(context.Background(), deps, ops.CreateClaimInput{Title: "Kitchen leak"})
	if err != nil {
		t.Fatalf("create claim: %v", err)
	}
	_, err = ops.UploadFile(context.Background(), deps, ops.UploadFileInput{
		ClaimID:  c.ID,
		Filename: "notes.txt",
		Content:  strings.NewReader("Water under the sink."),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return c
}

// TestCLIClaims tests claims create, list and get.
func TestCLIClaims(t *testing.T) {
	deps := setupTestDeps(t)

	var created claim.Claim
	mustRunCLI(t, deps, "", &created, "claims", "create", "--title=Kitchen leak", "--ref=POL-1")
	if created.ID == 0 {
		t.Fatal("expected non-zero ID")
	}
	if created.ReferenceNumber == nil || *created.ReferenceNumber != "POL-1" {
		t.Errorf("expected reference_number=POL-1, got %v", created.ReferenceNumber)
	}

	var listed ops.ListClaimsOutput
	mustRunCLI(t, deps, "", &listed, "claims", "list", "--limit=5")
	if len(listed.Items) != 1 {
		t.Fatalf("expected 1 claim, got %d", len(listed.Items))
	}

	var got claim.Claim
	mustRunCLI(t, deps, "", &got, "claims", "get", fmt.Sprint(created.ID))
	if got.Title != "Kitchen leak" {
		t.Errorf("expected title=Kitchen leak, got %q", got.Title)
	}
}

// TestCLIFiles tests upload, list, download and delete.
func TestCLIFiles(t *testing.T) {
	deps := setupTestDeps(t)
	c, err := ops.CreateClaim(context.Background(), deps, ops.CreateClaimInput{Title: "Hail"})
	if err != nil {
		t.Fatal(err)
	}
	claimID := fmt.Sprint(c.ID)

	path := filepath.Join(t.TempDir(), "estimate.txt")
	if err := os.WriteFile(path, []byte("Roof repair: 4200"), 0o600); err != nil {
		t.Fatal(err)
	}

	var f claim.File
	mustRunCLI(t, deps, "", &f, "files", "upload", claimID, path)
	if f.Filename != "estimate.txt" {
		t.Errorf("expected filename=estimate.txt, got %q", f.Filename)
	}
	if !strings.HasPrefix(f.MimeType, "text/plain") {
		t.Errorf("expected text/plain mime type, got %q", f.MimeType)
	}

	var listed struct {
		Items []claim.File `json:"items"`
	}
	mustRunCLI(t, deps, "", &listed, "files", "list", claimID)
	if len(listed.Items) != 1 {
		t.Fatalf("expected 1 file, got %d", len(listed.Items))
	}

	out, err := runCLI(t, deps, "", "files", "download", claimID, fmt.Sprint(f.ID))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if out != "Roof repair: 4200" {
		t.Errorf("unexpected download content %q", out)
	}

	mustRunCLI(t, deps, "", nil, "files", "delete", claimID, fmt.Sprint(f.ID))
	if _, err := runCLI(t, deps, "", "files", "download", claimID, fmt.Sprint(f.ID)); err == nil {
		t.Error("expected error downloading a deleted file")
	}
}

// TestCLIAgentChatAndAccept tests that a proposal accepted once becomes stale.
func TestCLIAgentChatAndAccept(t *testing.T) {
	deps := setupTestDeps(t)
	c := seedClaimWithNotes(t, deps)
	claimID := fmt.Sprint(c.ID)

	var chat ops.ProposalsOutput
	mustRunCLI(t, deps, "", &chat, "agent", "chat", claimID, "create", "a", "summary")
	if len(chat.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(chat.Proposals))
	}

	raw, err := json.Marshal(chat.Proposals[0])
	if err != nil {
		t.Fatal(err)
	}

	var applied proposal.Applied
	mustRunCLI(t, deps, string(raw), &applied, "agent", "accept", claimID)
	if !applied.Created || applied.TargetName != "summary" {
		t.Errorf("unexpected applied result %+v", applied)
	}

	if _, err := runCLI(t, deps, string(raw), "agent", "accept", claimID); err == nil {
		t.Error("expected conflict accepting the same proposal twice")
	} else if !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

// TestCLIArtifactEdit tests direct edits with and without a version check.
func TestCLIArtifactEdit(t *testing.T) {
	deps := setupTestDeps(t)
	c := seedClaimWithNotes(t, deps)
	claimID := fmt.Sprint(c.ID)

	var summary ops.ProposalsOutput
	mustRunCLI(t, deps, "", &summary, "agent", "summary", claimID)
	if len(summary.Proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(summary.Proposals))
	}
	raw, _ := json.Marshal(summary.Proposals[0])
	var applied proposal.Applied
	mustRunCLI(t, deps, string(raw), &applied, "agent", "accept", claimID)
	artifactID := fmt.Sprint(*applied.ArtifactID)

	_, err := runCLI(t, deps, "stale", "artifacts", "edit", "--expected-version=0", claimID, artifactID)
	if err == nil || !strings.Contains(err.Error(), "[CONFLICT]") {
		t.Fatalf("expected CONFLICT for stale version, got %v", err)
	}

	var edited claim.Artifact
	mustRunCLI(t, deps, "# Edited", &edited, "artifacts", "edit",
		fmt.Sprintf("--expected-version=%d", *applied.VersionID), claimID, artifactID)
	if edited.CurrentContent() != "# Edited" {
		t.Errorf("expected edited content, got %q", edited.CurrentContent())
	}

	var history ops.ArtifactHistoryOutput
	mustRunCLI(t, deps, "", &history, "artifacts", "history", claimID, artifactID)
	if len(history.Versions) != 2 {
		t.Errorf("expected 2 versions, got %d", len(history.Versions))
	}
}

// TestCLISession tests a local interactive session driven from stdin.
func TestCLISession(t *testing.T) {
	deps := setupTestDeps(t)
	c := seedClaimWithNotes(t, deps)

	input := "create a summary\n/accept 1\n/quit\n"
	out, err := runCLI(t, deps, input, "session", fmt.Sprint(c.ID))
	if err != nil {
		t.Fatalf("session failed: %v", err)
	}
	for _, want := range []string{
		"I found 1 proposal(s) for you to review.",
		`#1 create artifact "summary"`,
		"Accepted changes to summary.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\nOutput: %s", want, out)
		}
	}

	artifacts, err := ops.ListArtifacts(context.Background(), deps, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(artifacts) != 1 || artifacts[0].CurrentVersion == nil {
		t.Errorf("expected an accepted summary artifact, got %+v", artifacts)
	}
}

// TestCLIErrorHandling tests error handling in CLI commands.
func TestCLIErrorHandling(t *testing.T) {
	deps := setupTestDeps(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"get missing claim", []string{"claims", "get", "99"}, "[NOT_FOUND]"},
		{"non-numeric id", []string{"claims", "get", "abc"}, "[INVALID_REQUEST]"},
		{"missing id", []string{"files", "list"}, "[INVALID_REQUEST]"},
		{"upload without path", []string{"files", "upload", "1"}, "[INVALID_REQUEST]"},
		{"accept empty proposal", []string{"agent", "accept", "1"}, "[INVALID_REQUEST]"},
		{"session for missing claim", []string{"session", "42"}, "[NOT_FOUND]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, deps, "", tt.args...)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

// TestREPLCommands tests the session REPL's slash commands.
func TestREPLCommands(t *testing.T) {
	deps := setupTestDeps(t)
	c := seedClaimWithNotes(t, deps)

	s := session.New("test", c.ID, &ops.Local{Deps: deps}, deps.Logger)
	defer s.Close()

	input := strings.Join([]string{
		"/pending",
		"/accept",
		"/accept 3",
		"/summary",
		"/discard 1",
		"/pending",
		"/bogus",
		"hello there",
	}, "\n")

	var out bytes.Buffer
	if err := runREPL(context.Background(), s, strings.NewReader(input), &out); err != nil {
		t.Fatalf("repl failed: %v", err)
	}

	for _, want := range []string{
		"No pending proposals.",
		"[INVALID_REQUEST] a proposal number or token is required",
		"[INVALID_REQUEST] no pending proposal #3",
		"Generated summary proposal. Review the changes below.",
		`Discarded proposal for summary.`,
		"Unknown command /bogus.",
		"I couldn't understand that command.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q\nOutput: %s", want, out.String())
		}
	}

	// EOF ends the loop without closing the session.
	if s.State() != session.StateIdle {
		t.Errorf("expected idle session, got %s", s.State())
	}
}

// TestNewBlobStore tests storage backend selection.
func TestNewBlobStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("local relative path", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DefaultConfig()
		cfg.StoragePath = "blobs"

		store, err := newBlobStore(cfg, dir, logger)
		if err != nil {
			t.Fatalf("newBlobStore failed: %v", err)
		}
		if store == nil {
			t.Fatal("expected a store")
		}
		if _, err := os.Stat(filepath.Join(dir, "blobs")); err != nil {
			t.Errorf("expected storage root under base dir: %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage = "tape"
		if _, err := newBlobStore(cfg, t.TempDir(), logger); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}

// TestIsCLIMode tests the isCLIMode function.
func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"claimdesk"}, expected: false},
		{name: "serve command", args: []string{"claimdesk", "serve"}, expected: true},
		{name: "claims command", args: []string{"claimdesk", "claims"}, expected: true},
		{name: "session command", args: []string{"claimdesk", "session"}, expected: true},
		{name: "help flag", args: []string{"claimdesk", "--help"}, expected: true},
		{name: "version flag", args: []string{"claimdesk", "--version"}, expected: true},
		{name: "short help flag", args: []string{"claimdesk", "-h"}, expected: true},
		{name: "short version flag", args: []string{"claimdesk", "-v"}, expected: true},
		{name: "unknown arg defaults to MCP", args: []string{"claimdesk", "--unknown"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isCLIMode(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestIsHelpOrVersion tests the isHelpOrVersion function.
func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{name: "no args", args: []string{"claimdesk"}, expected: false},
		{name: "help flag", args: []string{"claimdesk", "--help"}, expected: true},
		{name: "short help flag", args: []string{"claimdesk", "-h"}, expected: true},
		{name: "version flag", args: []string{"claimdesk", "--version"}, expected: true},
		{name: "short version flag", args: []string{"claimdesk", "-v"}, expected: true},
		{name: "help subcommand", args: []string{"claimdesk", "help"}, expected: true},
		{name: "serve command is not help", args: []string{"claimdesk", "serve"}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			if result := isHelpOrVersion(); result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

// TestReadInputWithLimit tests that readInput respects the size limit.
func TestReadInputWithLimit(t *testing.T) {
	got, err := readInput(strings.NewReader("small content"))
	if err != nil || got != "small content" {
		t.Errorf("expected small content, got %q (%v)", got, err)
	}

	big := strings.NewReader(strings.Repeat("x", maxStdinBytes+1))
	if _, err := readInput(big); err == nil {
		t.Error("expected error for oversized input")
	}
}
