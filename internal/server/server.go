// Package server provides the main server initialization and run logic.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuranet/kuranet/internal/api"
	"github.com/kuranet/kuranet/internal/api/handlers"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/cache"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/logger"
	"github.com/kuranet/kuranet/internal/rbac"
	"github.com/kuranet/kuranet/internal/service"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Config holds the server configuration options.
type Config struct {
	Port    int    // Port to run the server on (0 = use config default)
	Version string // Version string to report
}

// Run starts the server with the given configuration and blocks until the context is canceled.
func Run(ctx context.Context, cfg Config) error {
	// Set version in handlers
	if cfg.Version != "" {
		handlers.Version = cfg.Version
	}

	// Load configuration
	appCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override port from CLI flag if provided
	if cfg.Port != 0 {
		appCfg.Server.Port = cfg.Port
	}

	// Initialize logger
	logger.Init(appCfg.Log.Format, appCfg.Log.Level)
	slog.Info("Starting kuranet server", "version", cfg.Version, "mode", appCfg.Server.Mode)

	database, err := OpenDatabase(appCfg)
	if err != nil {
		return err
	}

	// Create default admin user if configured
	if err := db.CreateDefaultAdmin(database); err != nil {
		return fmt.Errorf("failed to create default admin user: %w", err)
	}

	resultsCache, err := cache.New(appCfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize results cache: %w", err)
	}
	defer resultsCache.Close()
	slog.Info("Results cache initialized", "type", appCfg.Cache.Type)

	services, err := NewServices(appCfg, database, resultsCache)
	if err != nil {
		return err
	}

	router := api.NewRouter(appCfg, services)

	addr := fmt.Sprintf(":%d", appCfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		// Wait for context cancellation
		<-gctx.Done()
		slog.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("kuranet exited")
	return nil
}

// RunWithSignalHandling starts the server and handles OS signals for graceful shutdown.
func RunWithSignalHandling(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return Run(ctx, cfg)
}

// OpenDatabase connects to the configured database and runs migrations
func OpenDatabase(appCfg *config.Config) (*gorm.DB, error) {
	// Propagate app log level to database if not explicitly set
	if appCfg.Database.LogLevel == "" {
		appCfg.Database.LogLevel = appCfg.Log.Level
	}

	database, err := db.New(appCfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("Database initialized", "driver", appCfg.Database.Driver)

	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Database migrations completed")
	return database, nil
}

// NewServices wires the permission enforcer, authenticator, live broker
// and business services on top of an open database.
func NewServices(appCfg *config.Config, database *gorm.DB, resultsCache cache.Cache) (api.Services, error) {
	enforcer, err := rbac.New(database, slog.Default(), appCfg.Auth.CreatorOnlyPolls)
	if err != nil {
		return api.Services{}, fmt.Errorf("failed to initialize RBAC: %w", err)
	}

	broker := events.NewBroker()
	results := service.NewResultsService(database, resultsCache, broker, appCfg.Cache.ResultsTTL)
	authenticator := auth.NewBasicAuthenticator(database, appCfg.Auth)
	paging := service.Paging{
		DefaultSize: appCfg.Pagination.DefaultPageSize,
		MaxSize:     appCfg.Pagination.MaxPageSize,
	}

	return api.Services{
		Auth:    authenticator,
		Broker:  broker,
		Polls:   service.NewPollService(database, enforcer, results, paging),
		Options: service.NewOptionService(database, enforcer, results),
		Votes:   service.NewVoteService(database, enforcer, results, paging),
		Users:   service.NewUserService(database, enforcer, authenticator, results, paging),
	}, nil
}
