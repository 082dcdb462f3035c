// Package config provides hierarchical configuration loading for repodeck.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the repodeck server.
type Config struct {
	Server      Server      `yaml:"server"`
	Backend     Backend     `yaml:"backend"`
	Sync        Sync        `yaml:"sync"`
	Actions     Actions     `yaml:"actions"`
	Git         Git         `yaml:"git"`
	Logging     Logging     `yaml:"logging"`
	Breaker     Breaker     `yaml:"breaker"`
	Cache       Cache       `yaml:"cache"`
	NATS        NATS        `yaml:"nats"`
	Postgres    Postgres    `yaml:"postgres"`
	OTEL        OTEL        `yaml:"otel"`
	MCP         MCP         `yaml:"mcp"`
	Preferences Preferences `yaml:"preferences"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per client; zero disables
	RateBurst       int           `yaml:"rate_burst"`
}

// Backend selects and configures the git backend.
type Backend struct {
	Kind    string        `yaml:"kind"`    // "http" | "local"
	URL     string        `yaml:"url"`     // base URL of the remote backend (kind=http)
	Timeout time.Duration `yaml:"timeout"` // per-request timeout (kind=http)
	Port    string        `yaml:"port"`    // listen port of `repodeck backend`
}

// Sync holds polling cadences. A zero interval disables that loop.
type Sync struct {
	DiffInterval     time.Duration `yaml:"diff_interval"`
	StatusInterval   time.Duration `yaml:"status_interval"`
	BranchesInterval time.Duration `yaml:"branches_interval"`
	LogInterval      time.Duration `yaml:"log_interval"`
	Watch            bool          `yaml:"watch"`          // nudge diff refresh on file changes (local paths only)
	WatchDebounce    time.Duration `yaml:"watch_debounce"` // quiet period before a nudge
}

// Actions configures user-triggered mutations.
type Actions struct {
	CommitPrefix string `yaml:"commit_prefix"`
}

// Git configures the local git CLI backend.
type Git struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`  // max parallel git processes
	WorkspaceRoot  string        `yaml:"workspace_root"`  // where clone-if-missing puts repositories
	CloneBase      string        `yaml:"clone_base"`      // e.g. "https://github.com"
	CommandTimeout time.Duration `yaml:"command_timeout"` // per git invocation
	LogLimit       int           `yaml:"log_limit"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache configures the per-file diff cache.
type Cache struct {
	MaxSizeMB int64         `yaml:"max_size_mb"`
	TTL       time.Duration `yaml:"ttl"`
}

// NATS holds optional event fan-out configuration. Empty URL disables it.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Postgres holds optional action journal configuration. Empty DSN disables it.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
	Retention       time.Duration `yaml:"retention"` // journal entries older than this are pruned; zero keeps everything
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MCP configures the tool server exposed to the assistant.
type MCP struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	APIKey  string `yaml:"api_key"` // empty disables auth
}

// Preferences configures the UI preferences store.
type Preferences struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			RateBurst:       40,
		},
		Backend: Backend{
			Kind:    "http",
			URL:     "http://localhost:3001",
			Timeout: 30 * time.Second,
			Port:    "3001",
		},
		Sync: Sync{
			DiffInterval:     5 * time.Second,
			StatusInterval:   5 * time.Second,
			BranchesInterval: 5 * time.Second,
			LogInterval:      5 * time.Second,
			WatchDebounce:    300 * time.Millisecond,
		},
		Actions: Actions{
			CommitPrefix: "repodeck: update",
		},
		Git: Git{
			MaxConcurrent:  5,
			WorkspaceRoot:  "data/workspaces",
			CloneBase:      "https://github.com",
			CommandTimeout: 2 * time.Minute,
			LogLimit:       50,
		},
		Logging: Logging{
			Level:   "info",
			Service: "repodeck",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			MaxSizeMB: 16,
			TTL:       10 * time.Minute,
		},
		NATS: NATS{
			Subject: "repodeck.events",
		},
		Postgres: Postgres{
			MaxConns:        5,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
			Retention:       30 * 24 * time.Hour,
		},
		OTEL: OTEL{
			Endpoint:   "localhost:4317",
			Insecure:   true,
			SampleRate: 1.0,
		},
		MCP: MCP{
			Path: "/mcp",
		},
		Preferences: Preferences{
			Path: "data/preferences.yaml",
		},
	}
}
