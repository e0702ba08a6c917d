package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix for environment overrides (CLAIMDESK_PORT, ...).
const EnvPrefix = "CLAIMDESK_"

// Config holds application configuration.
type Config struct {
	// Bind is the interface the HTTP API listens on.
	Bind string `json:"bind,omitempty"`

	// Port is the HTTP API port.
	Port int `json:"port,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogFormat is json or text.
	LogFormat string `json:"log_format,omitempty"`

	// MaxUploadBytes caps the size of a single uploaded file.
	MaxUploadBytes int64 `json:"max_upload_bytes,omitempty"`

	// GenerationTimeoutSeconds bounds chat and generate-summary calls.
	// Generation is slow and never retried, so keep this generous.
	GenerationTimeoutSeconds int `json:"generation_timeout_seconds,omitempty"`

	// StorageRetries is how many times a transient blob storage failure is retried.
	StorageRetries int `json:"storage_retries,omitempty"`

	// AcceptRetries is how many times the REST client retries an accept after
	// a transport failure. The staleness check makes a retried accept safe.
	AcceptRetries int `json:"accept_retries,omitempty"`

	// Storage selects the file blob backend: "local" or "s3".
	Storage string `json:"storage,omitempty"`

	// StoragePath is the local blob root, relative to the base dir when not absolute.
	StoragePath string `json:"storage_path,omitempty"`

	// S3 settings, used when Storage is "s3".
	S3Endpoint  string `json:"s3_endpoint,omitempty"`
	S3Region    string `json:"s3_region,omitempty"`
	S3Bucket    string `json:"s3_bucket,omitempty"`
	S3AccessKey string `json:"s3_access_key,omitempty"`
	S3SecretKey string `json:"s3_secret_key,omitempty"`
	S3UseSSL    bool   `json:"s3_use_ssl,omitempty"`

	// Generator selects the proposal generator: "keyword", "openai" or "gemini".
	Generator string `json:"generator,omitempty"`

	// GeneratorModel is the provider-specific model name.
	GeneratorModel string `json:"generator_model,omitempty"`

	// GeneratorAPIKey is the provider API key. Prefer CLAIMDESK_GENERATOR_API_KEY.
	GeneratorAPIKey string `json:"generator_api_key,omitempty"`

	// GeneratorBaseURL overrides the provider endpoint (OpenAI-compatible servers).
	GeneratorBaseURL string `json:"generator_base_url,omitempty"`

	// GeneratorRPS limits requests per second to the provider. 0 means unlimited.
	GeneratorRPS float64 `json:"generator_rps,omitempty"`

	// SessionTTLMinutes is how long an idle conversation session survives.
	SessionTTLMinutes int `json:"session_ttl_minutes,omitempty"`

	// ArtifactCacheSize is the number of claims whose artifact listing is cached.
	ArtifactCacheSize int `json:"artifact_cache_size,omitempty"`

	// ArtifactCacheTTLSeconds is how long a cached listing stays valid.
	ArtifactCacheTTLSeconds int `json:"artifact_cache_ttl_seconds,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of MCP tool groups to disable entirely
	// ("claim", "file", "artifact", "agent").
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Bind:                     "127.0.0.1",
		Port:                     8000,
		LogLevel:                 "info",
		LogFormat:                "text",
		MaxUploadBytes:           25 << 20,
		GenerationTimeoutSeconds: 120,
		StorageRetries:           3,
		AcceptRetries:            2,
		Storage:                  "local",
		StoragePath:              "storage",
		S3Region:                 "us-east-1",
		Generator:                "keyword",
		SessionTTLMinutes:        60,
		ArtifactCacheSize:        256,
		ArtifactCacheTTLSeconds:  30,
	}
}

// GenerationTimeout returns the generation timeout as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

// SessionTTL returns the session idle lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// ArtifactCacheTTL returns the artifact listing cache lifetime.
func (c *Config) ArtifactCacheTTL() time.Duration {
	return time.Duration(c.ArtifactCacheTTLSeconds) * time.Second
}

// Load loads configuration from baseDir/config.json, then applies
// environment overrides (a .env file in the working directory is loaded first).
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.claimdesk.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFile(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadWithProject loads global config from globalDir/config.json and merges
// project config found by walking upward from startDir to the nearest
// .claimdesk/config.json. Project config wins for scalars; arrays are merged.
// Either or both configs may be missing. Environment overrides apply last.
func LoadWithProject(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	project, err := loadFileRaw(FindProjectConfig(startDir))
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then project
	return finish(Merge(Merge(DefaultConfig(), global), project))
}

// FindProjectConfig walks upward from startDir to find the nearest .claimdesk/config.json.
// Returns the path if found, or empty string if not found.
func FindProjectConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".claimdesk", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func finish(cfg *Config) (*Config, error) {
	// Missing .env is normal
	_ = godotenv.Load()

	if err := ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.Bind = pick(overlay.Bind, base.Bind)
	result.Port = pick(overlay.Port, base.Port)
	result.LogLevel = pick(overlay.LogLevel, base.LogLevel)
	result.LogFormat = pick(overlay.LogFormat, base.LogFormat)
	result.MaxUploadBytes = pick(overlay.MaxUploadBytes, base.MaxUploadBytes)
	result.GenerationTimeoutSeconds = pick(overlay.GenerationTimeoutSeconds, base.GenerationTimeoutSeconds)
	result.StorageRetries = pick(overlay.StorageRetries, base.StorageRetries)
	result.AcceptRetries = pick(overlay.AcceptRetries, base.AcceptRetries)
	result.Storage = pick(overlay.Storage, base.Storage)
	result.StoragePath = pick(overlay.StoragePath, base.StoragePath)
	result.S3Endpoint = pick(overlay.S3Endpoint, base.S3Endpoint)
	result.S3Region = pick(overlay.S3Region, base.S3Region)
	result.S3Bucket = pick(overlay.S3Bucket, base.S3Bucket)
	result.S3AccessKey = pick(overlay.S3AccessKey, base.S3AccessKey)
	result.S3SecretKey = pick(overlay.S3SecretKey, base.S3SecretKey)
	result.Generator = pick(overlay.Generator, base.Generator)
	result.GeneratorModel = pick(overlay.GeneratorModel, base.GeneratorModel)
	result.GeneratorAPIKey = pick(overlay.GeneratorAPIKey, base.GeneratorAPIKey)
	result.GeneratorBaseURL = pick(overlay.GeneratorBaseURL, base.GeneratorBaseURL)
	result.GeneratorRPS = pick(overlay.GeneratorRPS, base.GeneratorRPS)
	result.SessionTTLMinutes = pick(overlay.SessionTTLMinutes, base.SessionTTLMinutes)
	result.ArtifactCacheSize = pick(overlay.ArtifactCacheSize, base.ArtifactCacheSize)
	result.ArtifactCacheTTLSeconds = pick(overlay.ArtifactCacheTTLSeconds, base.ArtifactCacheTTLSeconds)
	result.DBMaxOpenConns = pick(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pick(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.S3UseSSL = base.S3UseSSL || overlay.S3UseSSL

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// pick returns overlay unless it is the zero value.
func pick[T comparable](overlay, base T) T {
	var zero T
	if overlay != zero {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// ApplyEnv overrides cfg from CLAIMDESK_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(EnvPrefix + key)); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(EnvPrefix + key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, v)
		}
		*dst = n
		return nil
	}

	str("BIND", &cfg.Bind)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	str("STORAGE", &cfg.Storage)
	str("STORAGE_PATH", &cfg.StoragePath)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("S3_REGION", &cfg.S3Region)
	str("S3_BUCKET", &cfg.S3Bucket)
	str("S3_ACCESS_KEY", &cfg.S3AccessKey)
	str("S3_SECRET_KEY", &cfg.S3SecretKey)
	str("GENERATOR", &cfg.Generator)
	str("GENERATOR_MODEL", &cfg.GeneratorModel)
	str("GENERATOR_API_KEY", &cfg.GeneratorAPIKey)
	str("GENERATOR_BASE_URL", &cfg.GeneratorBaseURL)

	if err := integer("PORT", &cfg.Port); err != nil {
		return err
	}
	if err := integer("GENERATION_TIMEOUT_SECONDS", &cfg.GenerationTimeoutSeconds); err != nil {
		return err
	}
	if err := integer("SESSION_TTL_MINUTES", &cfg.SessionTTLMinutes); err != nil {
		return err
	}

	if v := strings.TrimSpace(getenv(EnvPrefix + "S3_USE_SSL")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sS3_USE_SSL: invalid boolean %q", EnvPrefix, v)
		}
		cfg.S3UseSSL = b
	}
	if v := strings.TrimSpace(getenv(EnvPrefix + "GENERATOR_RPS")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sGENERATOR_RPS: invalid number %q", EnvPrefix, v)
		}
		cfg.GeneratorRPS = f
	}
	return nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format: invalid value %q, allowed: json, text", c.LogFormat)
	}
	switch c.Storage {
	case "local":
	case "s3":
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("storage s3 requires s3_endpoint and s3_bucket")
		}
	default:
		return fmt.Errorf("storage: invalid value %q, allowed: local, s3", c.Storage)
	}
	switch c.Generator {
	case "keyword", "openai", "gemini":
	default:
		return fmt.Errorf("generator: invalid value %q, allowed: keyword, openai, gemini", c.Generator)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be > 0")
	}
	return nil
}

// ParseLogLevel converts a level name to slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log_level: invalid value %q, allowed: debug, info, warn, error", level)
	}
}

// SetupLogger builds the process logger from config and installs it as the slog default.
// Logs go to stderr so stdout stays free for CLI JSON and the MCP stdio transport.
func SetupLogger(cfg *Config) *slog.Logger {
	level, _ := ParseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
