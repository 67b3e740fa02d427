package cache

import (
	"context"
	"testing"
	"time"

	"github.com/kuranet/kuranet/internal/config"
)

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	defer c.Close()

	if _, ok, err := c.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	value := []byte(`{"total_votes":3}`)
	if err := c.Set(ctx, "poll:1", value, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Mutating the caller's slice must not affect the stored copy
	value[0] = 'X'

	got, ok, err := c.Get(ctx, "poll:1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got) != `{"total_votes":3}` {
		t.Errorf("Get = %q", got)
	}

	if err := c.Delete(ctx, "poll:1", "poll:2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "poll:1"); ok {
		t.Error("expected miss after delete")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(ctx, "short", []byte("a"), time.Second)
	c.Set(ctx, "forever", []byte("b"), 0)

	now = now.Add(2 * time.Second)

	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Error("expected expired entry to miss")
	}
	if _, ok, _ := c.Get(ctx, "forever"); !ok {
		t.Error("entry without ttl should not expire")
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	c, err := New(config.CacheConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("New memory: %v", err)
	}
	if _, ok := c.(*MemoryCache); !ok {
		t.Errorf("expected *MemoryCache, got %T", c)
	}

	if _, err := New(config.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("expected error for unsupported type")
	}
}
