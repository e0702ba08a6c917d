package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != DefaultConfig().Port {
		t.Fatalf("Port = %d, want %d", cfg.Port, DefaultConfig().Port)
	}
	if cfg.Generator != "keyword" {
		t.Fatalf("Generator = %q, want keyword", cfg.Generator)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"port": 9100, "max_upload_bytes": 1024}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("Port = %d, want %d", cfg.Port, 9100)
	}
	if cfg.MaxUploadBytes != 1024 {
		t.Fatalf("MaxUploadBytes = %d, want 1024", cfg.MaxUploadBytes)
	}
	// Untouched values keep defaults
	if cfg.SessionTTLMinutes != 60 {
		t.Fatalf("SessionTTLMinutes = %d, want 60", cfg.SessionTTLMinutes)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{not json}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_InvalidGenerator(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"generator": "magic"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for unknown generator")
	}
}

func TestLoad_S3RequiresBucket(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"storage": "s3", "s3_endpoint": "localhost:9000"}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error for s3 without bucket")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	if err := os.WriteFile(configPath, []byte(`{"disabled_tools": ["agent_accept", "claim_create"]}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "agent_accept" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "agent_accept")
	}
}

func TestLoadWithProject_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	projectRoot := t.TempDir()

	globalConfig := `{"port": 8100, "disabled_tools": ["claim_create"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	deskDir := filepath.Join(projectRoot, ".claimdesk")
	if err := os.MkdirAll(deskDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	projectConfig := `{"port": 8200, "disabled_tools": ["agent_accept"]}`
	if err := os.WriteFile(filepath.Join(deskDir, "config.json"), []byte(projectConfig), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadWithProject(globalDir, projectRoot)
	if err != nil {
		t.Fatalf("LoadWithProject() error = %v", err)
	}

	if cfg.Port != 8200 {
		t.Errorf("Port = %d, want 8200 (project override)", cfg.Port)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithProject_WalksUpward(t *testing.T) {
	projectRoot := t.TempDir()
	globalDir := t.TempDir()

	deskDir := filepath.Join(projectRoot, ".claimdesk")
	if err := os.MkdirAll(deskDir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(deskDir, "config.json"), []byte(`{"generator_rps": 2.5}`), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	subdir := filepath.Join(projectRoot, "a", "b")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithProject(globalDir, subdir)
	if err != nil {
		t.Fatalf("LoadWithProject() error = %v", err)
	}
	if cfg.GeneratorRPS != 2.5 {
		t.Errorf("GeneratorRPS = %v, want 2.5", cfg.GeneratorRPS)
	}
}

func TestFindProjectConfig_NotFound(t *testing.T) {
	if found := FindProjectConfig(t.TempDir()); found != "" {
		t.Errorf("FindProjectConfig() = %q, want empty string", found)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{Port: 8000, DBMaxOpenConns: 5}
	overlay := &Config{Port: 9000} // DBMaxOpenConns is 0 (zero value)

	result := Merge(base, overlay)

	if result.Port != 9000 {
		t.Errorf("Port = %d, want 9000 (overlay)", result.Port)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
}

func TestMerge_BooleanOr(t *testing.T) {
	result := Merge(&Config{S3UseSSL: true}, &Config{S3UseSSL: false})

	if !result.S3UseSSL {
		t.Error("S3UseSSL should be true (base OR overlay)")
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{DisabledTypes: []string{"claim", "file"}}
	overlay := &Config{DisabledTypes: []string{"file", " agent "}}

	result := Merge(base, overlay)

	if len(result.DisabledTypes) != 3 {
		t.Fatalf("DisabledTypes = %v, want 3 entries (merged, deduped)", result.DisabledTypes)
	}
	if result.DisabledTypes[2] != "agent" {
		t.Errorf("DisabledTypes[2] = %q, want trimmed %q", result.DisabledTypes[2], "agent")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CLAIMDESK_PORT":              "7000",
		"CLAIMDESK_GENERATOR":         "openai",
		"CLAIMDESK_GENERATOR_API_KEY": "sk-test",
		"CLAIMDESK_S3_USE_SSL":        "true",
		"CLAIMDESK_GENERATOR_RPS":     "0.5",
	}
	cfg := DefaultConfig()

	if err := ApplyEnv(cfg, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, want 7000", cfg.Port)
	}
	if cfg.Generator != "openai" || cfg.GeneratorAPIKey != "sk-test" {
		t.Errorf("Generator = %q key = %q", cfg.Generator, cfg.GeneratorAPIKey)
	}
	if !cfg.S3UseSSL {
		t.Error("S3UseSSL should be true")
	}
	if cfg.GeneratorRPS != 0.5 {
		t.Errorf("GeneratorRPS = %v, want 0.5", cfg.GeneratorRPS)
	}
}

func TestApplyEnv_InvalidInteger(t *testing.T) {
	cfg := DefaultConfig()
	err := ApplyEnv(cfg, func(k string) string {
		if k == "CLAIMDESK_PORT" {
			return "eighty"
		}
		return ""
	})
	if err == nil {
		t.Fatal("ApplyEnv() expected error for non-numeric port")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDurations(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.GenerationTimeout() != 120*time.Second {
		t.Errorf("GenerationTimeout() = %v", cfg.GenerationTimeout())
	}
	if cfg.SessionTTL() != time.Hour {
		t.Errorf("SessionTTL() = %v", cfg.SessionTTL())
	}
	if cfg.ArtifactCacheTTL() != 30*time.Second {
		t.Errorf("ArtifactCacheTTL() = %v", cfg.ArtifactCacheTTL())
	}
}
