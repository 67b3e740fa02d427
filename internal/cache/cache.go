// Package cache stores computed poll results between votes.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/kuranet/kuranet/internal/config"
)

// Cache is a byte-oriented key/value store with per-entry TTL
type Cache interface {
	// Get returns the value and true on a hit
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for ttl (no expiry when ttl <= 0)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the keys, ignoring missing ones
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources
	Close() error
}

// New creates the cache selected by configuration
func New(cfg config.CacheConfig) (Cache, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryCache(), nil
	case "valkey":
		return NewValkeyCache(cfg.ValkeyAddr)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
