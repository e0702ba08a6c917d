package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/config"
	"github.com/hpungsan/claimdesk/internal/db"
	"github.com/hpungsan/claimdesk/internal/mcp"
	"github.com/hpungsan/claimdesk/internal/ops"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// storageBackoff is the base delay between blob storage retries.
const storageBackoff = 100 * time.Millisecond

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "claims": true, "files": true, "artifacts": true,
	"agent": true, "session": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	if arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" {
		return true
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
        _       _               _           _
    ___| | __ _(_)_ __ ___   __| | ___  ___| | __
   / __| |/ _' | | '_ ' _ \ / _' |/ _ \/ __| |/ /
  | (__| | (_| | | | | | | | (_| |  __/\__ \   <
   \___|_|\__,_|_|_| |_| |_|\__,_|\___||___/_|\_\

  Claim documents with a reviewable agent

  Usage: claimdesk <command> [options]
         claimdesk serve
         claimdesk session <claim-id>
         claimdesk --help

  MCP server mode requires piped input.`)
}

// baseDir returns CLAIMDESK_HOME, or ~/.claimdesk.
func baseDir() (string, error) {
	if dir := os.Getenv("CLAIMDESK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".claimdesk"), nil
}

// newBlobStore builds the configured file storage wrapped with bounded retries.
func newBlobStore(cfg *config.Config, dir string, logger *slog.Logger) (blob.Store, error) {
	var store blob.Store
	switch cfg.Storage {
	case "", "local":
		root := cfg.StoragePath
		if !filepath.IsAbs(root) {
			root = filepath.Join(dir, root)
		}
		local, err := blob.NewLocalStore(root)
		if err != nil {
			return nil, err
		}
		store = local
	case "s3":
		s3, err := blob.NewS3Store(blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
	return blob.WithRetry(store, cfg.StorageRetries+1, storageBackoff, logger), nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if !isCLIMode() && len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'claimdesk --help' for usage.\n")
		os.Exit(1)
	}

	dir, err := baseDir()
	if err != nil {
		fatal("%v", err)
	}

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithProject(dir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	logger := config.SetupLogger(cfg)

	database, err := db.Init(dir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	blobs, err := newBlobStore(cfg, dir, logger)
	if err != nil {
		fatal("failed to initialize storage: %v", err)
	}

	gen, err := agent.New(context.Background(), cfg)
	if err != nil {
		fatal("failed to initialize generator: %v", err)
	}

	deps := ops.NewDeps(database, cfg, blobs, gen, logger)

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(deps)
		if err := app.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		logger.Warn("unknown types in disabled_types", "types", unknown)
	}
	if err := mcp.Run(deps, Version); err != nil {
		fatal("%v", err)
	}
}
