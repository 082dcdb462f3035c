package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Sync.DiffInterval != 5*time.Second || cfg.Sync.StatusInterval != 5*time.Second {
		t.Errorf("expected 5s diff/status cadence, got %v/%v", cfg.Sync.DiffInterval, cfg.Sync.StatusInterval)
	}
	if cfg.Backend.Kind != "http" {
		t.Errorf("expected http backend, got %s", cfg.Backend.Kind)
	}
	if cfg.Breaker.Timeout != 30*time.Second {
		t.Errorf("expected breaker timeout 30s, got %v", cfg.Breaker.Timeout)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
  cors_origin: "http://example.com"
backend:
  kind: local
sync:
  diff_interval: 2s
  watch: true
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.CORSOrigin != "http://example.com" {
		t.Errorf("expected cors http://example.com, got %s", cfg.Server.CORSOrigin)
	}
	if cfg.Backend.Kind != "local" {
		t.Errorf("expected local backend, got %s", cfg.Backend.Kind)
	}
	if cfg.Sync.DiffInterval != 2*time.Second || !cfg.Sync.Watch {
		t.Errorf("unexpected sync config: %+v", cfg.Sync)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
	// Unchanged fields keep defaults
	if cfg.Sync.StatusInterval != 5*time.Second {
		t.Errorf("expected default status interval, got %v", cfg.Sync.StatusInterval)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("REPODECK_PORT", "7070")
	t.Setenv("REPODECK_BACKEND_URL", "http://git-api:3001")
	t.Setenv("REPODECK_SYNC_DIFF_INTERVAL", "1s")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("REPODECK_PG_MAX_CONNS", "25")
	t.Setenv("REPODECK_LOG_LEVEL", "warn")
	t.Setenv("REPODECK_BREAKER_TIMEOUT", "1m")
	t.Setenv("REPODECK_OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("REPODECK_GIT_MAX_CONCURRENT", "not-a-number")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Backend.URL != "http://git-api:3001" {
		t.Errorf("expected backend URL override, got %s", cfg.Backend.URL)
	}
	if cfg.Sync.DiffInterval != time.Second {
		t.Errorf("expected diff interval 1s, got %v", cfg.Sync.DiffInterval)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("expected max_conns 25, got %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.OTEL.SampleRate != 0.25 {
		t.Errorf("expected sample rate 0.25, got %v", cfg.OTEL.SampleRate)
	}
	// Unparseable values are ignored.
	if cfg.Git.MaxConcurrent != 5 {
		t.Errorf("expected default max concurrent 5, got %d", cfg.Git.MaxConcurrent)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "http backend without url",
			modify: func(c *Config) { c.Backend.URL = "" },
			errMsg: "backend.url is required for backend.kind=http",
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Backend.Kind = "svn" },
			errMsg: `backend.kind must be "http" or "local", got "svn"`,
		},
		{
			name:   "negative interval",
			modify: func(c *Config) { c.Sync.LogInterval = -time.Second },
			errMsg: "sync intervals must be >= 0",
		},
		{
			name:   "zero git concurrency",
			modify: func(c *Config) { c.Git.MaxConcurrent = 0 },
			errMsg: "git.max_concurrent must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name: "journal without connections",
			modify: func(c *Config) {
				c.Postgres.DSN = "postgres://localhost/repodeck"
				c.Postgres.MaxConns = 0
			},
			errMsg: "postgres.max_conns must be >= 1",
		},
		{
			name:   "sample rate out of range",
			modify: func(c *Config) { c.OTEL.SampleRate = 1.5 },
			errMsg: "otel.sample_rate must be within [0, 1]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
	cfg.Backend.Kind = "local"
	cfg.Backend.URL = ""
	if err := validate(&cfg); err != nil {
		t.Errorf("local backend needs no url, got %v", err)
	}
}

func TestApplyCLINilFlags(t *testing.T) {
	cfg := Defaults()
	original := cfg

	applyCLI(&cfg, CLIFlags{})

	if cfg.Server.Port != original.Server.Port || cfg.Logging.Level != original.Logging.Level ||
		cfg.Backend != original.Backend {
		t.Errorf("nil flags changed config: %+v", cfg)
	}
}

func TestCLIOverridesEnv(t *testing.T) {
	t.Setenv("REPODECK_PORT", "7070")
	t.Setenv("REPODECK_LOG_LEVEL", "warn")

	port, level, missing := "3333", "error", filepath.Join(t.TempDir(), "none.yaml")
	cfg, _, err := LoadWithCLI(CLIFlags{ConfigPath: &missing, Port: &port, LogLevel: &level})
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "3333" {
		t.Errorf("expected CLI port 3333 to override ENV 7070, got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("expected CLI log-level error to override ENV warn, got %s", cfg.Logging.Level)
	}
}

func TestLoadWithCLICustomConfig(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(yamlPath, []byte("server:\n  port: \"5555\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, resolvedPath, err := LoadWithCLI(CLIFlags{ConfigPath: &yamlPath})
	if err != nil {
		t.Fatal(err)
	}
	if resolvedPath != yamlPath {
		t.Errorf("expected resolved path %s, got %s", yamlPath, resolvedPath)
	}
	if cfg.Server.Port != "5555" {
		t.Errorf("expected port 5555 from custom YAML, got %s", cfg.Server.Port)
	}
}

func TestLoadFromRejectsInvalid(t *testing.T) {
	yamlPath := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("backend:\n  kind: ftp\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(yamlPath); err == nil {
		t.Fatal("expected validation error")
	}
}
