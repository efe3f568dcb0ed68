// Package cache defines the decision cache contract.
package cache

import (
	"context"
	"time"
)

// Cache stores evaluated decisions keyed by request tuple plus rule-store
// version. Implementations must be safe for concurrent use. Invalidation is
// coarse: a store write changes the version token and with it every key, so
// stale entries simply age out.
type Cache interface {
	// Get retrieves a value, reporting whether the key was present.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a single key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries.
	Clear(ctx context.Context) error

	// Close releases resources held by the cache.
	Close() error
}
