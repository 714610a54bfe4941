// Package queue runs preview jobs with bounded retries on top of a store.Store backend.
// Delivery is at least once: a worker that dies mid-job loses its lease and the
// job is redelivered. Terminal hooks fire exactly once per job, from whichever
// process wins the terminal transition.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kiranshivaraju/filepreview/internal/store"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// ErrInvalidJob is returned by Submit when a required URL is missing.
var ErrInvalidJob = errors.New("invalid job")

// ErrLeaseExpired is recorded when a worker held a job past its lease.
var ErrLeaseExpired = errors.New("job lease expired before the worker reported back")

// Executor runs one attempt of a job and returns the uploaded preview URL.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job *models.Job) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job *models.Job) (string, error) {
	return f(ctx, job)
}

// Hooks are invoked after a job reaches a terminal state. The job passed in is
// the stored record, so CallbackURL is always the one given at submission.
type Hooks interface {
	OnComplete(ctx context.Context, job *models.Job, result string)
	OnFailed(ctx context.Context, job *models.Job, err error)
}

type noopHooks struct{}

func (noopHooks) OnComplete(context.Context, *models.Job, string) {}
func (noopHooks) OnFailed(context.Context, *models.Job, error)    {}

// Queue submits jobs and runs workers against a backend.
type Queue struct {
	store        store.Store
	hooks        Hooks
	logger       *slog.Logger
	backoff      Backoff
	limiter      *rate.Limiter
	maxAttempts  int
	pollInterval time.Duration
	lease        time.Duration
	reapInterval time.Duration
	reapBatch    int
	now          func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithHooks registers the terminal-state hooks.
func WithHooks(h Hooks) Option {
	return func(q *Queue) { q.hooks = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMaxAttempts sets the attempt ceiling stamped on submitted jobs.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// WithPollInterval sets how long an idle worker waits before polling again.
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

// WithLease sets how long a claim stays valid.
func WithLease(d time.Duration) Option {
	return func(q *Queue) { q.lease = d }
}

// WithReapInterval sets how often expired leases are collected.
func WithReapInterval(d time.Duration) Option {
	return func(q *Queue) { q.reapInterval = d }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) { q.backoff = b }
}

// WithClaimRate limits claims per second across all workers of this process.
// Zero or negative leaves claims unthrottled.
func WithClaimRate(perSecond float64) Option {
	return func(q *Queue) {
		if perSecond <= 0 {
			q.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithClock replaces the time source used for claims, leases and backoff.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New creates a Queue over the given backend.
func New(s store.Store, opts ...Option) *Queue {
	q := &Queue{
		store:        s,
		hooks:        noopHooks{},
		logger:       slog.Default(),
		backoff:      NewExponentialJitter(time.Second, time.Minute),
		maxAttempts:  models.DefaultMaxAttempts,
		pollInterval: time.Second,
		lease:        5 * time.Minute,
		reapInterval: 30 * time.Second,
		reapBatch:    100,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Ping checks that the backend is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Submit persists the job as queued and returns its id. It never waits for execution.
func (q *Queue) Submit(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	switch {
	case job.DownloadURL == "":
		return uuid.Nil, fmt.Errorf("%w: downloadUrl is required", ErrInvalidJob)
	case job.SignedS3URL == "":
		return uuid.Nil, fmt.Errorf("%w: signedS3Url is required", ErrInvalidJob)
	case job.CallbackURL == "":
		return uuid.Nil, fmt.Errorf("%w: callbackUrl is required", ErrInvalidJob)
	}

	now := q.now()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.maxAttempts
	}
	job.State = models.JobStateQueued
	job.AttemptsMade = 0
	job.RunAt = now
	job.CreatedAt = now
	job.UpdatedAt = now

	if err := q.store.Enqueue(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("submit job: %w", err)
	}

	q.logger.Debug("job submitted", "job_id", job.ID, "download_url", job.DownloadURL)
	return job.ID, nil
}

// Get returns the stored record for a job.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return q.store.Get(ctx, id)
}

// Run starts concurrency workers and the lease reaper and blocks until ctx is done.
// In-flight attempts interrupted by shutdown are left for lease redelivery.
func (q *Queue) Run(ctx context.Context, exec Executor, concurrency int) error {
	if concurrency < 1 {
		return fmt.Errorf("queue concurrency must be at least 1, got %d", concurrency)
	}

	q.logger.Info("worker pool starting", "concurrency", concurrency, "lease", q.lease)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			q.workLoop(ctx, exec, worker)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.reapLoop(ctx)
	}()

	wg.Wait()
	q.logger.Info("worker pool stopped")
	return nil
}

func (q *Queue) workLoop(ctx context.Context, exec Executor, worker int) {
	for {
		if ctx.Err() != nil {
			return
		}
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return
			}
		}

		ok, err := q.ProcessNext(ctx, exec)
		if err != nil {
			q.logger.Error("claim failed", "worker", worker, "error", err)
		}
		if !ok {
			q.sleep(ctx, q.pollInterval)
		}
	}
}

// ProcessNext claims one due job, executes it and records the outcome.
// It reports false when there was nothing to claim.
func (q *Queue) ProcessNext(ctx context.Context, exec Executor) (bool, error) {
	job, err := q.store.Claim(ctx, q.now(), q.lease)
	if errors.Is(err, store.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := q.logger.With("job_id", job.ID, "attempt", job.AttemptsMade)
	log.Info("job started")

	result, execErr := q.execute(ctx, exec, job)

	// Record the outcome even after shutdown began.
	rctx := context.WithoutCancel(ctx)

	if execErr == nil {
		q.complete(rctx, log, job, result)
		return true, nil
	}

	if ctx.Err() != nil {
		log.Warn("job interrupted by shutdown, leaving for redelivery", "error", execErr)
		return true, nil
	}

	q.handleFailure(rctx, log, job, execErr)
	return true, nil
}

func (q *Queue) execute(ctx context.Context, exec Executor, job *models.Job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during job execution: %v", r)
		}
	}()
	return exec.Execute(ctx, job)
}

func (q *Queue) complete(ctx context.Context, log *slog.Logger, job *models.Job, result string) {
	stored, err := q.store.Complete(ctx, job.ID, job.AttemptsMade, result)
	if errors.Is(err, store.ErrStaleClaim) || errors.Is(err, store.ErrNotFound) {
		log.Warn("job finished after its claim was lost, dropping result", "error", err)
		return
	}
	if err != nil {
		log.Error("failed to record job completion", "error", err)
		return
	}

	log.Info("job completed", "result", result)
	q.hooks.OnComplete(ctx, stored, result)
}

func (q *Queue) handleFailure(ctx context.Context, log *slog.Logger, job *models.Job, execErr error) {
	if job.AttemptsMade < job.MaxAttempts {
		delay := q.backoff.Delay(job.AttemptsMade)
		err := q.store.Retry(ctx, job.ID, job.AttemptsMade, q.now().Add(delay), execErr.Error())
		if err != nil {
			log.Error("failed to schedule retry", "error", err)
			return
		}
		log.Warn("job attempt failed, retrying", "error", execErr, "retry_in", delay)
		return
	}

	q.fail(ctx, log, job, execErr)
}

// fail finalizes the job and fires OnFailed. It reports whether this call won the transition.
func (q *Queue) fail(ctx context.Context, log *slog.Logger, job *models.Job, cause error) bool {
	stored, err := q.store.Fail(ctx, job.ID, job.AttemptsMade, cause.Error())
	if errors.Is(err, store.ErrStaleClaim) || errors.Is(err, store.ErrNotFound) {
		log.Warn("job failed after its claim was lost", "error", err)
		return false
	}
	if err != nil {
		log.Error("failed to record job failure", "error", err)
		return false
	}

	log.Error("job failed", "error", cause, "attempts", job.AttemptsMade)
	q.hooks.OnFailed(ctx, stored, cause)
	return true
}

func (q *Queue) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(q.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.Reap(ctx); err != nil {
				q.logger.Error("reap expired leases failed", "error", err)
			}
		}
	}
}

// Reap requeues jobs whose lease expired, or fails them when no attempts remain.
// It returns the number of jobs it moved.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	expired, err := q.store.Expired(ctx, q.now(), q.reapBatch)
	if err != nil {
		return 0, fmt.Errorf("list expired jobs: %w", err)
	}

	moved := 0
	for _, job := range expired {
		log := q.logger.With("job_id", job.ID, "attempt", job.AttemptsMade)

		if job.AttemptsMade < job.MaxAttempts {
			err := q.store.Retry(ctx, job.ID, job.AttemptsMade, q.now(), ErrLeaseExpired.Error())
			if errors.Is(err, store.ErrStaleClaim) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				log.Error("failed to requeue expired job", "error", err)
				continue
			}
			log.Warn("requeued job with expired lease")
			moved++
			continue
		}

		if q.fail(ctx, log, job, ErrLeaseExpired) {
			moved++
		}
	}
	return moved, nil
}

func (q *Queue) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
