package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process queue backend. Safe for concurrent use.
// Intended for tests and single-process development.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Enqueue(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryStore) Claim(_ context.Context, now time.Time, lease time.Duration) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next *models.Job
	for _, j := range m.jobs {
		if j.State != models.JobStateQueued || j.RunAt.After(now) {
			continue
		}
		if next == nil || j.RunAt.Before(next.RunAt) ||
			(j.RunAt.Equal(next.RunAt) && j.CreatedAt.Before(next.CreatedAt)) {
			next = j
		}
	}
	if next == nil {
		return nil, ErrNoJob
	}

	until := now.Add(lease)
	next.State = models.JobStateActive
	next.AttemptsMade++
	next.LeaseUntil = &until
	next.UpdatedAt = now
	return cloneJob(next), nil
}

func (m *MemoryStore) Retry(_ context.Context, id uuid.UUID, attempt int, runAt time.Time, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(id, attempt)
	if err != nil {
		return err
	}
	j.State = models.JobStateQueued
	j.RunAt = runAt
	j.LeaseUntil = nil
	j.LastError = &lastErr
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, id uuid.UUID, attempt int, result string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(id, attempt)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = models.JobStateCompleted
	j.Result = &result
	j.LeaseUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return cloneJob(j), nil
}

func (m *MemoryStore) Fail(_ context.Context, id uuid.UUID, attempt int, msg string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, err := m.owned(id, attempt)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j.State = models.JobStateFailed
	j.LastError = &msg
	j.LeaseUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
	return cloneJob(j), nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (m *MemoryStore) Expired(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Job
	for _, j := range m.jobs {
		if j.State == models.JobStateActive && j.LeaseUntil != nil && j.LeaseUntil.Before(now) {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LeaseUntil.Before(*out[b].LeaseUntil) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) PurgeFinished(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, j := range m.jobs {
		if j.State.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

// owned returns the live record if attempt still holds the active claim.
// Callers must hold m.mu.
func (m *MemoryStore) owned(id uuid.UUID, attempt int) (*models.Job, error) {
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.State != models.JobStateActive || j.AttemptsMade != attempt {
		return nil, ErrStaleClaim
	}
	return j, nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	return &c
}
