// Package ristrettocache implements cache.Cache on dgraph-io/ristretto.
// Preferred for server deployments: admission control keeps hot decisions
// resident under memory pressure.
package ristrettocache

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Config holds ristretto sizing knobs.
type Config struct {
	// NumCounters is the number of access counters ristretto keeps;
	// roughly 10x the expected number of live entries.
	NumCounters int64

	// MaxCost is the cache capacity in bytes of accounted cost.
	MaxCost int64

	// BufferItems is the size of the Set buffer; 64 is the recommended value.
	BufferItems int64
}

// Cache wraps a ristretto cache behind the cache.Cache interface.
type Cache struct {
	inner *ristretto.Cache
}

// New creates a ristretto-backed cache.
func New(cfg *Config) (*Cache, error) {
	inner, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{inner: inner}, nil
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (interface{}, bool) {
	return c.inner.Get(key)
}

// Set implements cache.Cache. Entries are stored with unit cost; decision
// values are small and uniform.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.inner.SetWithTTL(key, value, 1, ttl)
	return nil
}

// Delete implements cache.Cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	c.inner.Del(key)
	return nil
}

// Clear implements cache.Cache.
func (c *Cache) Clear(ctx context.Context) error {
	c.inner.Clear()
	return nil
}

// Close implements cache.Cache.
func (c *Cache) Close() error {
	c.inner.Close()
	return nil
}
