// Package app assembles the queue, pipeline and collaborators shared by the
// server and worker binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/filepreview/internal/cache"
	"github.com/kiranshivaraju/filepreview/internal/config"
	"github.com/kiranshivaraju/filepreview/internal/convert"
	"github.com/kiranshivaraju/filepreview/internal/notify"
	"github.com/kiranshivaraju/filepreview/internal/pipeline"
	"github.com/kiranshivaraju/filepreview/internal/queue"
	"github.com/kiranshivaraju/filepreview/internal/report"
	"github.com/kiranshivaraju/filepreview/internal/store"
	"github.com/kiranshivaraju/filepreview/internal/transfer"
)

// MigrationsDir is where the postgres backend looks for schema migrations.
const MigrationsDir = "migrations"

const flushTimeout = 2 * time.Second

// App owns every long-lived dependency. Close releases them.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Queue    *queue.Queue
	Executor *pipeline.Executor
	Janitor  *queue.Janitor
	Counter  cache.Counter
	Reporter report.Reporter

	closers []func() error
}

// New connects the configured backend and builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, release string) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	reporter, err := report.New(cfg.Sentry, release)
	if err != nil {
		return nil, fmt.Errorf("create error reporter: %w", err)
	}
	a.Reporter = reporter

	backend, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("queue backend connected", "backend", cfg.Queue.Backend)

	notifier := notify.New(cfg.Callback, reporter, logger)
	a.Queue = queue.New(backend,
		queue.WithHooks(notifier),
		queue.WithLogger(logger),
		queue.WithMaxAttempts(cfg.Queue.MaxAttempts),
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithLease(cfg.Queue.Lease),
		queue.WithBackoff(queue.NewExponentialJitter(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax)),
		queue.WithClaimRate(cfg.Queue.ClaimRate),
	)

	a.Janitor, err = queue.NewJanitor(backend, cfg.Queue.Retention, cfg.Queue.RetentionSchedule, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create janitor: %w", err)
	}

	converter, err := convert.New(cfg.Converter)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create converter: %w", err)
	}

	if err := os.MkdirAll(cfg.Transfer.WorkDir, 0o750); err != nil {
		a.Close()
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	client := transfer.NewClient(cfg.Transfer.DownloadTimeout, cfg.Transfer.UploadTimeout, cfg.Transfer.WorkDir)
	a.Executor = pipeline.NewExecutor(client, converter, cfg.Transfer.WorkDir, logger)
	logger.Info("pipeline ready", "converter", converter.Name(), "work_dir", cfg.Transfer.WorkDir)

	return a, nil
}

// openStore connects the queue backend. The rate-limit counter shares the
// Redis client when one is configured and falls back to process memory otherwise.
func (a *App) openStore(ctx context.Context) (store.Store, error) {
	cfg := a.Config

	var rc *redis.Client
	if cfg.Redis.URL != "" {
		client, err := store.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rc = client
		a.closers = append(a.closers, client.Close)
		a.Counter = cache.NewRedisCounter(client, cfg.Redis.KeyPrefix)
	} else {
		a.Counter = cache.NewMemoryCounter()
	}

	switch cfg.Queue.Backend {
	case config.BackendRedis:
		return store.NewRedisStore(rc, cfg.Redis.KeyPrefix), nil

	case config.BackendPostgres:
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		s := store.NewPostgresStore(pool)
		a.closers = append(a.closers, s.Close)

		if err := store.RunMigrations(cfg.Database.URL, MigrationsDir); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		a.Logger.Info("database migrations applied")
		return s, nil

	case config.BackendMemory:
		a.Logger.Warn("using in-memory queue backend; jobs do not survive restarts")
		return store.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// RunWorkers runs the worker pool until ctx is done.
func (a *App) RunWorkers(ctx context.Context) error {
	return a.Queue.Run(ctx, a.Executor, a.Config.Queue.Concurrency)
}

// Close releases connections in reverse order of acquisition and flushes the reporter.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Reporter != nil {
		a.Reporter.Flush(flushTimeout)
	}
	return errors.Join(errs...)
}
