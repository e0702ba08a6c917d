package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/claimdesk/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file created under the base directory.
const FileName = "claimdesk.db"

// Querier is satisfied by both *sql.DB and *sql.Tx, so queries can run
// standalone or inside an accept transaction.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Init initializes the SQLite database at baseDir/claimdesk.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.claimdesk.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection.
	// Immediate transactions take the write lock up front so two accepts
	// on the same target serialize instead of failing on lock upgrade.
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// WithTx runs fn in a transaction, committing if fn returns nil and
// rolling back otherwise. Begin and commit failures come back as
// DeskErrors: STORAGE_UNAVAILABLE when the write lock could not be taken
// within the busy timeout, INTERNAL otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return dbError(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS claims (
		  id               INTEGER PRIMARY KEY AUTOINCREMENT,
		  title            TEXT NOT NULL,
		  reference_number TEXT,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS files (
		  id           INTEGER PRIMARY KEY AUTOINCREMENT,
		  claim_id     INTEGER NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
		  filename     TEXT NOT NULL,
		  mime_type    TEXT NOT NULL,
		  size_bytes   INTEGER NOT NULL,
		  storage_path TEXT NOT NULL,
		  revision     INTEGER NOT NULL DEFAULT 1,
		  created_at   INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_files_claim
		ON files(claim_id, id);

		CREATE TABLE IF NOT EXISTS artifacts (
		  id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		  claim_id           INTEGER NOT NULL REFERENCES claims(id) ON DELETE CASCADE,
		  type               TEXT NOT NULL,
		  title              TEXT NOT NULL,
		  current_version_id INTEGER,
		  created_at         INTEGER NOT NULL,
		  updated_at         INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_artifacts_claim_type
		ON artifacts(claim_id, type);

		CREATE TABLE IF NOT EXISTS artifact_versions (
		  id            INTEGER PRIMARY KEY AUTOINCREMENT,
		  artifact_id   INTEGER NOT NULL REFERENCES artifacts(id) ON DELETE CASCADE,
		  content       TEXT NOT NULL,
		  created_by    TEXT NOT NULL,
		  metadata_json TEXT,
		  created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifact_versions_artifact
		ON artifact_versions(artifact_id, id);

		CREATE TRIGGER IF NOT EXISTS artifact_versions_immutable
		BEFORE UPDATE ON artifact_versions
		BEGIN
		  SELECT RAISE(ABORT, 'artifact versions are immutable');
		END;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
