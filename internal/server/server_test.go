package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuranet/kuranet/internal/cache"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/models"
)

func TestNewServices(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "server.db")
	cfg.Database.LogLevel = "silent"

	database, err := OpenDatabase(cfg)
	if err != nil {
		t.Fatalf("OpenDatabase: %v", err)
	}

	svc, err := NewServices(cfg, database, cache.NewMemoryCache())
	if err != nil {
		t.Fatalf("NewServices: %v", err)
	}
	if svc.Auth == nil || svc.Broker == nil || svc.Polls == nil || svc.Options == nil || svc.Votes == nil || svc.Users == nil {
		t.Fatalf("expected every service to be wired, got %+v", svc)
	}

	roles, err := svc.Users.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 3 || roles[0].Name != models.RoleAdmin {
		t.Errorf("expected seeded roles, got %+v", roles)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("KURANET_DATABASE_DSN", filepath.Join(t.TempDir(), "run.db"))
	t.Setenv("KURANET_DATABASE_LOG_LEVEL", "silent")
	t.Setenv("KURANET_SERVER_PORT", "0")
	t.Setenv("KURANET_LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Config{Version: "test"})
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
