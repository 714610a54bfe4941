package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/filepreview/internal/api/response"
	"github.com/kiranshivaraju/filepreview/internal/store"
	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// JobReader looks up a submitted job.
type JobReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

type jobStatus struct {
	ID           uuid.UUID       `json:"id"`
	State        models.JobState `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	MaxAttempts  int             `json:"maxAttempts"`
	Result       *string         `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`
}

// NewStatusHandler returns an http.HandlerFunc for GET /filepreview/{jobID}.
func NewStatusHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "jobID must be a valid UUID")
			return
		}

		job, err := jobs.Get(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "Job not found")
			return
		}
		if err != nil {
			slog.Error("failed to load job", "job_id", id, "error", err)
			response.Error(w, http.StatusServiceUnavailable, "Failed to load job")
			return
		}

		response.JSON(w, http.StatusOK, jobStatus{
			ID:           job.ID,
			State:        job.State,
			AttemptsMade: job.AttemptsMade,
			MaxAttempts:  job.MaxAttempts,
			Result:       job.Result,
			Error:        job.LastError,
			CreatedAt:    job.CreatedAt,
			UpdatedAt:    job.UpdatedAt,
			FinishedAt:   job.FinishedAt,
		})
	}
}
