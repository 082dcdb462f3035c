package gitlocal

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Strob0t/repodeck/internal/git"
	"github.com/Strob0t/repodeck/internal/port/gitbackend"
)

// Recognised factory config keys.
const (
	ConfigMaxConcurrent  = "max_concurrent"
	ConfigWorkspaceRoot  = "workspace_root"
	ConfigCloneBase      = "clone_base"
	ConfigCommandTimeout = "command_timeout"
	ConfigLogLimit       = "log_limit"
)

func init() {
	gitbackend.Register(backendName, func(cfg map[string]string) (gitbackend.Backend, error) {
		opts, err := optionsFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return New(opts), nil
	})
}

func optionsFromConfig(cfg map[string]string) (Options, error) {
	opts := Options{
		WorkspaceRoot: cfg[ConfigWorkspaceRoot],
		CloneBase:     cfg[ConfigCloneBase],
	}

	limit := 5
	if v := cfg[ConfigMaxConcurrent]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("gitlocal: %s: %w", ConfigMaxConcurrent, err)
		}
		limit = n
	}
	opts.Pool = git.NewPool(limit)

	if v := cfg[ConfigCommandTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, fmt.Errorf("gitlocal: %s: %w", ConfigCommandTimeout, err)
		}
		opts.CommandTimeout = d
	}
	if v := cfg[ConfigLogLimit]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("gitlocal: %s: %w", ConfigLogLimit, err)
		}
		opts.LogLimit = n
	}
	return opts, nil
}
