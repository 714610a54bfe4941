// Package main is the entrypoint for the filepreview API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/filepreview/internal/api"
	"github.com/kiranshivaraju/filepreview/internal/api/handler"
	mw "github.com/kiranshivaraju/filepreview/internal/api/middleware"
	"github.com/kiranshivaraju/filepreview/internal/app"
	"github.com/kiranshivaraju/filepreview/internal/config"
)

const shutdownTimeout = 30 * time.Second

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))
	slog.SetDefault(logger)
	slog.Info("config loaded", "backend", cfg.Queue.Backend, "env", cfg.Server.Env, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect the queue backend and build the pipeline
	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	defer a.Close()

	// 3. Build router with dependencies
	auth := mw.NewAuth(cfg.Auth.Users)
	if !auth.Enabled() {
		slog.Warn("no AUTH_USERS_FILE configured, authentication disabled")
	}

	router := api.NewRouter(api.Dependencies{
		Auth:      auth,
		RateLimit: mw.NewRateLimit(a.Counter, cfg.Auth.RateLimitPerMinute),

		HealthHandler:      handler.NewHealthHandler(a.Queue),
		FilePreviewHandler: handler.NewFilePreview(a.Queue, cfg.Defaults),
		StatusHandler:      handler.NewStatusHandler(a.Queue),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Serve, work and sweep until a signal arrives or one of them fails
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if cfg.Queue.Concurrency > 0 {
		g.Go(func() error { return a.RunWorkers(gctx) })
	} else {
		slog.Info("embedded workers disabled, run cmd/worker to process jobs")
	}

	g.Go(func() error { return a.Janitor.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("server stopped gracefully")
	return nil
}
