package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// keyPrefix namespaces every key written by this application
const keyPrefix = "kuranet:"

// ValkeyCache implements a shared cache backed by Valkey, so every API
// instance sees the same results and invalidations.
type ValkeyCache struct {
	client valkey.Client
}

// NewValkeyCache connects to Valkey and verifies the connection
func NewValkeyCache(addr string) (*ValkeyCache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Valkey: %w", err)
	}

	slog.Info("Initialized Valkey results cache", "address", addr)
	return &ValkeyCache{client: client}, nil
}

// Get fetches a key; a missing key is a miss, not an error
func (c *ValkeyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cmd := c.client.B().Get().Key(keyPrefix + key).Build()
	value, err := c.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("valkey get %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes a key with an expiry in whole seconds (minimum one)
func (c *ValkeyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		secs := int64(ttl / time.Second)
		if secs < 1 {
			secs = 1
		}
		cmd = c.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(value)).ExSeconds(secs).Build()
	} else {
		cmd = c.client.B().Set().Key(keyPrefix + key).Value(valkey.BinaryString(value)).Build()
	}
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set %s: %w", key, err)
	}
	return nil
}

// Delete removes keys
func (c *ValkeyCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = keyPrefix + k
	}
	cmd := c.client.B().Del().Key(prefixed...).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

// Close closes the Valkey client
func (c *ValkeyCache) Close() error {
	c.client.Close()
	slog.Info("Valkey results cache closed")
	return nil
}
