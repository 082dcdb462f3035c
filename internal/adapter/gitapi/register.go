package gitapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Strob0t/repodeck/internal/port/gitbackend"
	"github.com/Strob0t/repodeck/internal/resilience"
)

// Recognised factory config keys.
const (
	ConfigURL                = "url"
	ConfigTimeout            = "timeout"
	ConfigBreakerMaxFailures = "breaker_max_failures"
	ConfigBreakerTimeout     = "breaker_timeout"
)

func init() {
	gitbackend.Register("http", func(cfg map[string]string) (gitbackend.Backend, error) {
		return newFromConfig(cfg)
	})
}

func newFromConfig(cfg map[string]string) (*Client, error) {
	base := cfg[ConfigURL]
	if base == "" {
		return nil, fmt.Errorf("gitapi: %s is required", ConfigURL)
	}

	timeout := 30 * time.Second
	if v := cfg[ConfigTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("gitapi: %s: %w", ConfigTimeout, err)
		}
		timeout = d
	}
	c := NewClient(base, timeout)

	if v := cfg[ConfigBreakerMaxFailures]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("gitapi: %s: %w", ConfigBreakerMaxFailures, err)
		}
		open := 30 * time.Second
		if v := cfg[ConfigBreakerTimeout]; v != "" {
			if open, err = time.ParseDuration(v); err != nil {
				return nil, fmt.Errorf("gitapi: %s: %w", ConfigBreakerTimeout, err)
			}
		}
		c.SetBreaker(resilience.NewBreaker(n, open).WithFailureFilter(IsTransient))
	}
	return c, nil
}
