// Package cache defines the injected cache adapter used by the scoring
// pipeline. The cache is purely an optimization: every caller must stay
// correct (only slower) when Get always misses.
package cache

import (
	"context"
	"time"
)

type Adapter interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
