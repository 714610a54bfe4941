// Package main is the entrypoint for a standalone filepreview worker. It runs
// the worker pool and retention sweep without serving HTTP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/filepreview/internal/app"
	"github.com/kiranshivaraju/filepreview/internal/config"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1 for a worker, got %d", cfg.Queue.Concurrency)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, version)
	if err != nil {
		return err
	}
	defer a.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.RunWorkers(gctx) })
	g.Go(func() error { return a.Janitor.Run(gctx) })

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("worker stopped")
	return nil
}
