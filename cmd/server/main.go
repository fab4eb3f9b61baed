package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/Reconcile/internal/catalog"
	"github.com/JonMunkholm/Reconcile/internal/config"
	"github.com/JonMunkholm/Reconcile/internal/core"
	_ "github.com/JonMunkholm/Reconcile/internal/flavors" // Register all flavors
	"github.com/JonMunkholm/Reconcile/internal/logging"
	"github.com/JonMunkholm/Reconcile/internal/store"
	"github.com/JonMunkholm/Reconcile/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"max_concurrent_runs", cfg.Import.MaxConcurrentRuns,
		"prompt_timeout", cfg.Import.PromptTimeout.String(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database.StoreOptions())
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cat, err := catalog.Open(cfg.Catalog.Options())
	if err != nil {
		slog.Error("failed to configure catalog", "error", err)
		os.Exit(1)
	}

	service := core.NewService(st, cat, cfg.Import.ServiceConfig(), core.WithPrompter(web.NewPrompter()))

	for _, f := range service.ListFlavors() {
		slog.Debug("flavor registered", "key", f.Key, "columns", len(f.Columns))
	}

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go service.StartPromptSweeper(jobCtx, cfg.Import.SweepInterval)

	server, err := web.NewServer(jobCtx, service, cfg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		// Wait for background session runs to reach a checkpoint
		status := service.LimiterStatus()
		if status.Active > 0 {
			slog.Info("waiting for session runs to finish", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("session runs did not finish in time", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
