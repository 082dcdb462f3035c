// Package ristretto implements the cache port with an in-process dgraph-io/ristretto cache.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// avgEntryBytes is the expected size of one extracted file diff, used to
// size the admission counters.
const avgEntryBytes = 1024

// Cache holds extracted per-file diffs keyed by snapshot fingerprint and
// path. Entries are cost-weighted by their byte length.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of diff text. A
// non-positive size falls back to 16 MiB.
func New(maxCostBytes int64) (*Cache, error) {
	if maxCostBytes <= 0 {
		maxCostBytes = 16 << 20
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: max(maxCostBytes/avgEntryBytes*10, 1000),
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.c.Get(key)
	return v, ok, nil
}

// Set stores value for ttl; a non-positive ttl keeps it until evicted.
// Admission is asynchronous and may be refused under pressure, which is not
// an error: the diff is simply extracted again next time.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cost := int64(len(value)) + 1
	if ttl > 0 {
		c.c.SetWithTTL(key, value, cost, ttl)
	} else {
		c.c.Set(key, value, cost)
	}
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio reports hits / (hits + misses) since creation.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Wait blocks until buffered writes have been applied.
func (c *Cache) Wait() { c.c.Wait() }

func (c *Cache) Close() { c.c.Close() }
