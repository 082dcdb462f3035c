// Package cache defines the port for memoising derived views of a snapshot.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is a byte-oriented key/value memo. Misses are not errors.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins a namespace and its parts with ':'.
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}
