package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "repodeck.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REPODECK_PORT")
	setString(&cfg.Server.CORSOrigin, "REPODECK_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadTimeout, "REPODECK_READ_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "REPODECK_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.RateLimit, "REPODECK_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "REPODECK_RATE_BURST")

	setString(&cfg.Backend.Kind, "REPODECK_BACKEND")
	setString(&cfg.Backend.URL, "REPODECK_BACKEND_URL")
	setDuration(&cfg.Backend.Timeout, "REPODECK_BACKEND_TIMEOUT")
	setString(&cfg.Backend.Port, "REPODECK_BACKEND_PORT")

	// Sync
	setDuration(&cfg.Sync.DiffInterval, "REPODECK_SYNC_DIFF_INTERVAL")
	setDuration(&cfg.Sync.StatusInterval, "REPODECK_SYNC_STATUS_INTERVAL")
	setDuration(&cfg.Sync.BranchesInterval, "REPODECK_SYNC_BRANCHES_INTERVAL")
	setDuration(&cfg.Sync.LogInterval, "REPODECK_SYNC_LOG_INTERVAL")
	setBool(&cfg.Sync.Watch, "REPODECK_SYNC_WATCH")
	setDuration(&cfg.Sync.WatchDebounce, "REPODECK_SYNC_WATCH_DEBOUNCE")

	setString(&cfg.Actions.CommitPrefix, "REPODECK_COMMIT_PREFIX")

	// Git
	setInt(&cfg.Git.MaxConcurrent, "REPODECK_GIT_MAX_CONCURRENT")
	setString(&cfg.Git.WorkspaceRoot, "REPODECK_WORKSPACE_ROOT")
	setString(&cfg.Git.CloneBase, "REPODECK_CLONE_BASE")
	setDuration(&cfg.Git.CommandTimeout, "REPODECK_GIT_COMMAND_TIMEOUT")
	setInt(&cfg.Git.LogLimit, "REPODECK_GIT_LOG_LIMIT")

	setString(&cfg.Logging.Level, "REPODECK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REPODECK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REPODECK_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "REPODECK_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REPODECK_BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.MaxSizeMB, "REPODECK_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "REPODECK_CACHE_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "REPODECK_NATS_SUBJECT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REPODECK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REPODECK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REPODECK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REPODECK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REPODECK_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.Retention, "REPODECK_JOURNAL_RETENTION")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "REPODECK_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "REPODECK_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "REPODECK_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "REPODECK_MCP_ENABLED")
	setString(&cfg.MCP.Path, "REPODECK_MCP_PATH")
	setString(&cfg.MCP.APIKey, "REPODECK_MCP_API_KEY")

	setString(&cfg.Preferences.Path, "REPODECK_PREFERENCES_PATH")
}

// validate checks that required fields are set and consistent.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Backend.Kind {
	case "http":
		if cfg.Backend.URL == "" {
			return errors.New("backend.url is required for backend.kind=http")
		}
	case "local":
	default:
		return fmt.Errorf("backend.kind must be \"http\" or \"local\", got %q", cfg.Backend.Kind)
	}
	if cfg.Sync.DiffInterval < 0 || cfg.Sync.StatusInterval < 0 ||
		cfg.Sync.BranchesInterval < 0 || cfg.Sync.LogInterval < 0 {
		return errors.New("sync intervals must be >= 0")
	}
	if cfg.Git.MaxConcurrent < 1 {
		return errors.New("git.max_concurrent must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// CLIFlags holds command-line overrides. Nil fields leave the config untouched.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	Backend    *string
	BackendURL *string
}

// LoadWithCLI loads the config file named by flags (or DefaultConfigFile) and
// applies CLI overrides last: defaults < YAML < ENV < CLI.
// It returns the resolved config file path alongside the config.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.Backend != nil {
		cfg.Backend.Kind = *flags.Backend
	}
	if flags.BackendURL != nil {
		cfg.Backend.URL = *flags.BackendURL
	}
}
