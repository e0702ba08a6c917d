package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/claimdesk/internal/client"
	"github.com/hpungsan/claimdesk/internal/errors"
	"github.com/hpungsan/claimdesk/internal/ops"
	"github.com/hpungsan/claimdesk/internal/proposal"
	"github.com/hpungsan/claimdesk/internal/session"
	"github.com/hpungsan/claimdesk/internal/web"
)

// maxStdinBytes caps content read from stdin (artifact edits, proposals).
const maxStdinBytes = 10 << 20

// newCLIApp creates the CLI application with all commands. deps is nil
// when only help or version output is needed.
func newCLIApp(deps *ops.Deps) *cli.App {
	app := &cli.App{
		Name:    "claimdesk",
		Usage:   "Claim documents with a reviewable agent",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(deps),
			claimsCmd(deps),
			filesCmd(deps),
			artifactsCmd(deps),
			agentCmd(deps),
			sessionCmd(deps),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Interface to listen on (overrides config)"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Port to listen on (overrides config)"},
		},
		Action: func(c *cli.Context) error {
			if bind := c.String("bind"); bind != "" {
				deps.Cfg.Bind = bind
			}
			if c.IsSet("port") {
				deps.Cfg.Port = c.Int("port")
			}

			sessions := session.NewRegistry(&ops.Local{Deps: deps}, deps.Cfg.SessionTTL(), deps.Logger)
			return web.NewServer(deps, sessions, Version).Run()
		},
	}
}

// claimsCmd creates the claims command group.
func claimsCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "claims",
		Usage: "Create and inspect claims",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a claim",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Required: true, Usage: "Claim title"},
					&cli.StringFlag{Name: "ref", Usage: "External reference number"},
				},
				Action: func(c *cli.Context) error {
					input := ops.CreateClaimInput{Title: c.String("title")}
					if ref := c.String("ref"); ref != "" {
						input.ReferenceNumber = &ref
					}
					out, err := ops.CreateClaim(c.Context, deps, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "list",
				Usage: "List claims, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
					&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
				},
				Action: func(c *cli.Context) error {
					out, err := ops.ListClaims(c.Context, deps, ops.ListClaimsInput{
						Limit:  c.Int("limit"),
						Offset: c.Int("offset"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "get",
				Usage:     "Show one claim",
				ArgsUsage: "<claim-id>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					out, err := ops.GetClaim(c.Context, deps, claimID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// filesCmd creates the files command group.
func filesCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "files",
		Usage: "Upload and manage claim files",
		Subcommands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload a file to a claim",
				ArgsUsage: "<claim-id> <path>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mime", Usage: "Content type (detected when omitted)"},
				},
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					path := c.Args().Get(1)
					if path == "" {
						return outputError(errors.NewInvalidRequest("path is required"))
					}
					f, err := os.Open(path)
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					defer f.Close()

					out, err := ops.UploadFile(c.Context, deps, ops.UploadFileInput{
						ClaimID:  claimID,
						Filename: filepath.Base(path),
						MimeType: c.String("mime"),
						Content:  f,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "list",
				Usage:     "List a claim's files",
				ArgsUsage: "<claim-id>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					out, err := ops.ListFiles(c.Context, deps, claimID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"items": out})
				},
			},
			{
				Name:      "download",
				Usage:     "Write a file's bytes to stdout or --out",
				ArgsUsage: "<claim-id> <file-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Destination path"},
				},
				Action: func(c *cli.Context) error {
					claimID, fileID, err := twoIDArgs(c, "claim-id", "file-id")
					if err != nil {
						return outputError(err)
					}
					_, data, err := ops.ReadFile(c.Context, deps, claimID, fileID)
					if err != nil {
						return outputError(err)
					}
					if out := c.String("out"); out != "" {
						if err := os.WriteFile(out, data, 0o600); err != nil {
							return outputError(errors.NewInternal(err))
						}
						return nil
					}
					_, err = c.App.Writer.Write(data)
					return err
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a file",
				ArgsUsage: "<claim-id> <file-id>",
				Action: func(c *cli.Context) error {
					claimID, fileID, err := twoIDArgs(c, "claim-id", "file-id")
					if err != nil {
						return outputError(err)
					}
					if err := ops.DeleteFile(c.Context, deps, claimID, fileID); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"deleted": true, "id": fileID})
				},
			},
		},
	}
}

// artifactsCmd creates the artifacts command group.
func artifactsCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "artifacts",
		Usage: "Inspect and edit claim artifacts",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List a claim's artifacts with current content",
				ArgsUsage: "<claim-id>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					out, err := ops.ListArtifacts(c.Context, deps, claimID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "history",
				Usage:     "List every version of an artifact",
				ArgsUsage: "<claim-id> <artifact-id>",
				Action: func(c *cli.Context) error {
					claimID, artifactID, err := twoIDArgs(c, "claim-id", "artifact-id")
					if err != nil {
						return outputError(err)
					}
					out, err := ops.ArtifactHistory(c.Context, deps, claimID, artifactID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "edit",
				Usage:     "Replace an artifact's content (reads from stdin)",
				ArgsUsage: "<claim-id> <artifact-id>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "expected-version", Usage: "Fail unless the artifact is still at this version (0 = no content yet)"},
				},
				Action: func(c *cli.Context) error {
					claimID, artifactID, err := twoIDArgs(c, "claim-id", "artifact-id")
					if err != nil {
						return outputError(err)
					}
					content, err := readInput(c.App.Reader)
					if err != nil {
						return outputError(err)
					}
					input := ops.UpdateArtifactInput{
						ClaimID:    claimID,
						ArtifactID: artifactID,
						Content:    content,
					}
					if c.IsSet("expected-version") {
						v := c.Int64("expected-version")
						input.ExpectedVersionID = &v
					}
					out, err := ops.UpdateArtifact(c.Context, deps, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// agentCmd creates the one-shot agent command group.
func agentCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:  "agent",
		Usage: "Request and accept change proposals",
		Subcommands: []*cli.Command{
			{
				Name:      "chat",
				Usage:     "Turn an instruction into proposals (nothing is applied)",
				ArgsUsage: "<claim-id> <message...>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					message := strings.Join(c.Args().Tail(), " ")
					out, err := ops.Chat(c.Context, deps, ops.ChatInput{ClaimID: claimID, Message: message})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "summary",
				Usage:     "Propose a new or updated summary",
				ArgsUsage: "<claim-id>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					out, err := ops.GenerateSummary(c.Context, deps, claimID)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "accept",
				Usage:     "Apply a proposal (reads the proposal JSON from stdin)",
				ArgsUsage: "<claim-id>",
				Action: func(c *cli.Context) error {
					claimID, err := idArg(c, 0, "claim-id")
					if err != nil {
						return outputError(err)
					}
					raw, err := readInput(c.App.Reader)
					if err != nil {
						return outputError(err)
					}
					p, err := proposal.Decode([]byte(raw))
					if err != nil {
						return outputError(err)
					}
					out, err := ops.Accept(c.Context, deps, ops.AcceptInput{ClaimID: claimID, Proposal: p})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// sessionCmd creates the interactive session command.
func sessionCmd(deps *ops.Deps) *cli.Command {
	return &cli.Command{
		Name:      "session",
		Usage:     "Chat with the agent about a claim and review its proposals",
		ArgsUsage: "<claim-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", EnvVars: []string{"CLAIMDESK_SERVER"}, Usage: "Use a running claimdesk server (e.g. http://127.0.0.1:8000) instead of the local database"},
		},
		Action: func(c *cli.Context) error {
			claimID, err := idArg(c, 0, "claim-id")
			if err != nil {
				return outputError(err)
			}

			var ag session.Agent
			if url := c.String("server"); url != "" {
				remote := client.New(url,
					client.WithAcceptRetries(deps.Cfg.AcceptRetries),
					client.WithLogger(deps.Logger),
				)
				if err := remote.Health(c.Context); err != nil {
					return outputError(err)
				}
				ag = remote
			} else {
				if _, err := ops.GetClaim(c.Context, deps, claimID); err != nil {
					return outputError(err)
				}
				ag = &ops.Local{Deps: deps}
			}

			s := session.New("cli", claimID, ag, deps.Logger)
			defer s.Close()
			return runREPL(c.Context, s, c.App.Reader, c.App.Writer)
		},
	}
}

// Helper functions

// outputJSON writes result to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI. Internal errors show their cause,
// since the CLI user is the operator.
func outputError(err error) error {
	dErr := errors.As(err)
	msg := dErr.Message
	if cause := dErr.Unwrap(); dErr.Code == errors.ErrInternal && cause != nil {
		msg = cause.Error()
	}
	return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, msg), 1)
}

// idArg parses the positional argument at index i as a positive id.
func idArg(c *cli.Context, i int, name string) (int64, error) {
	raw := c.Args().Get(i)
	if raw == "" {
		return 0, errors.NewInvalidRequest(name + " is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be a positive integer, got %q", name, raw))
	}
	return id, nil
}

func twoIDArgs(c *cli.Context, first, second string) (int64, int64, error) {
	a, err := idArg(c, 0, first)
	if err != nil {
		return 0, 0, err
	}
	b, err := idArg(c, 1, second)
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// readInput reads all of r, up to maxStdinBytes.
func readInput(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxStdinBytes+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if len(data) > maxStdinBytes {
		return "", errors.NewPayloadTooLarge(maxStdinBytes)
	}
	return string(data), nil
}
