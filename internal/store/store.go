package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrNoJob is returned by Claim when no queued job is due.
var ErrNoJob = errors.New("no job ready")

// ErrStaleClaim is returned when a transition names an attempt that no longer owns the job,
// because the lease expired and the job was redelivered or already finalized.
var ErrStaleClaim = errors.New("claim no longer owns job")

// Store is the queue backend. Every state transition out of active is a
// compare-and-set on (state=active, attempts_made=attempt), so exactly one
// caller wins each transition.
type Store interface {
	Ping(ctx context.Context) error

	// Enqueue persists a job in the queued state.
	Enqueue(ctx context.Context, job *models.Job) error

	// Claim moves the earliest due queued job to active, increments its
	// attempt counter and leases it until now+lease. Returns ErrNoJob when
	// nothing is due.
	Claim(ctx context.Context, now time.Time, lease time.Duration) (*models.Job, error)

	// Retry returns an active job to queued, claimable again at runAt.
	Retry(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error

	// Complete and Fail finalize an active job and return the stored record.
	Complete(ctx context.Context, id uuid.UUID, attempt int, result string) (*models.Job, error)
	Fail(ctx context.Context, id uuid.UUID, attempt int, msg string) (*models.Job, error)

	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// Expired lists active jobs whose lease ended before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)

	// PurgeFinished deletes terminal jobs finished before the cutoff.
	PurgeFinished(ctx context.Context, before time.Time) (int, error)

	Close() error
}
