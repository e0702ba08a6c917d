package ops

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/hpungsan/claimdesk/internal/agent"
	"github.com/hpungsan/claimdesk/internal/blob"
	"github.com/hpungsan/claimdesk/internal/config"
	"github.com/hpungsan/claimdesk/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// Deps bundles the collaborators every operation needs.
type Deps struct {
	DB        *sql.DB
	Cfg       *config.Config
	Blobs     blob.Store
	Generator agent.Generator
	Logger    *slog.Logger

	// Artifacts caches artifact listings per claim. Nil disables caching.
	Artifacts *ArtifactCache
}

// NewDeps wires operation dependencies from config. A nil logger uses slog.Default.
func NewDeps(database *sql.DB, cfg *config.Config, blobs blob.Store, gen agent.Generator, logger *slog.Logger) *Deps {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deps{
		DB:        database,
		Cfg:       cfg,
		Blobs:     blobs,
		Generator: gen,
		Logger:    logger,
		Artifacts: NewArtifactCache(cfg.ArtifactCacheSize, cfg.ArtifactCacheTTL()),
	}
}

// requireID rejects non-positive identifiers before any lookup.
func requireID(field string, id int64) error {
	if id <= 0 {
		return errors.NewInvalidRequest(field + " must be a positive integer")
	}
	return nil
}

// boundLimit applies list defaults and bounds.
func boundLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

// cleanOptionalString trims s and maps blank to nil.
func cleanOptionalString(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
