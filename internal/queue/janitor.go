package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/filepreview/internal/store"
)

// Janitor purges finished jobs older than the retention window on a cron schedule.
type Janitor struct {
	store     store.Store
	retention time.Duration
	cron      *cron.Cron
	logger    *slog.Logger
}

// NewJanitor validates the schedule ("@every 1h", "0 3 * * *", ...) and registers the sweep.
func NewJanitor(s store.Store, retention time.Duration, schedule string, logger *slog.Logger) (*Janitor, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = slog.Default()
	}

	j := &Janitor{
		store:     s,
		retention: retention,
		cron:      cron.New(),
		logger:    logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Run starts the schedule and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}

// Sweep deletes terminal jobs that finished before now minus retention.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	n, err := j.store.PurgeFinished(ctx, time.Now().UTC().Add(-j.retention))
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return n, nil
}

func (j *Janitor) run() {
	n, err := j.Sweep(context.Background())
	if err != nil {
		j.logger.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		j.logger.Info("retention sweep purged jobs", "count", n)
	}
}
