// Package models contains shared data models used across the filepreview codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a Job. Only the queue changes it.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// DefaultMaxAttempts is the attempt ceiling applied when a job is submitted without one.
const DefaultMaxAttempts = 2

// Job is one preview-generation request plus its queue lifecycle.
// Options and the three URLs are frozen at submission.
type Job struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	Options     Options   `db:"options"      json:"options"`
	DownloadURL string    `db:"download_url" json:"downloadUrl"`
	SignedS3URL string    `db:"signed_s3_url" json:"signedS3Url"`
	CallbackURL string    `db:"callback_url" json:"callbackUrl"`

	MaxAttempts  int        `db:"max_attempts"  json:"maxAttempts"`
	AttemptsMade int        `db:"attempts_made" json:"attemptsMade"`
	State        JobState   `db:"state"         json:"state"`
	Result       *string    `db:"result"        json:"result,omitempty"`
	LastError    *string    `db:"last_error"    json:"lastError,omitempty"`
	RunAt        time.Time  `db:"run_at"        json:"runAt"`
	LeaseUntil   *time.Time `db:"lease_until"   json:"leaseUntil,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"createdAt"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updatedAt"`
	FinishedAt   *time.Time `db:"finished_at"   json:"finishedAt,omitempty"`
}
