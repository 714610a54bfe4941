package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const jobColumns = `id, options, download_url, signed_s3_url, callback_url, max_attempts, attempts_made,
	state, result, last_error, run_at, lease_until, created_at, updated_at, finished_at`

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO preview_jobs (id, options, download_url, signed_s3_url, callback_url, max_attempts,
		 attempts_made, state, run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		job.ID, job.Options, job.DownloadURL, job.SignedS3URL, job.CallbackURL, job.MaxAttempts,
		job.AttemptsMade, job.State, job.RunAt, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *PostgresStore) Claim(ctx context.Context, now time.Time, lease time.Duration) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE preview_jobs
		 SET state = 'active', attempts_made = attempts_made + 1, lease_until = $2, updated_at = $1
		 WHERE id = (
			SELECT id FROM preview_jobs
			WHERE state = 'queued' AND run_at <= $1
			ORDER BY run_at, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		now, now.Add(lease))
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Retry(ctx context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE preview_jobs
		 SET state = 'queued', run_at = $3, last_error = $4, lease_until = NULL, updated_at = NOW()
		 WHERE id = $1 AND state = 'active' AND attempts_made = $2`,
		id, attempt, runAt, lastErr)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrStale(ctx, id)
	}
	return nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, attempt int, result string) (*models.Job, error) {
	return s.finish(ctx, id, attempt, models.JobStateCompleted,
		`result = $4`, result)
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, attempt int, msg string) (*models.Job, error) {
	return s.finish(ctx, id, attempt, models.JobStateFailed,
		`last_error = $4`, msg)
}

func (s *PostgresStore) finish(ctx context.Context, id uuid.UUID, attempt int, state models.JobState, set string, value string) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE preview_jobs
		 SET state = $3, `+set+`, lease_until = NULL, updated_at = NOW(), finished_at = NOW()
		 WHERE id = $1 AND state = 'active' AND attempts_made = $2
		 RETURNING `+jobColumns,
		id, attempt, state, value)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missOrStale(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("finish job as %s: %w", state, err)
	}
	return j, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM preview_jobs WHERE id = $1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Expired(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM preview_jobs
		 WHERE state = 'active' AND lease_until < $1
		 ORDER BY lease_until LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) PurgeFinished(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM preview_jobs WHERE state IN ('completed', 'failed') AND finished_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge finished jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// missOrStale tells a vanished job apart from a lost compare-and-set.
func (s *PostgresStore) missOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM preview_jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check job exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleClaim
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Options, &j.DownloadURL, &j.SignedS3URL, &j.CallbackURL,
		&j.MaxAttempts, &j.AttemptsMade, &j.State, &j.Result, &j.LastError,
		&j.RunAt, &j.LeaseUntil, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
