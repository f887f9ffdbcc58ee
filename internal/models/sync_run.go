package models

import (
	"fmt"
	"time"

	"github.com/desertthunder/ytscrobble/internal/shared"
)

// SyncRunStatus is the lifecycle state of a batch run.
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunCompleted SyncRunStatus = "completed"
	SyncRunFailed    SyncRunStatus = "failed"
)

// SyncRun records one batch invocation and its aggregate outcome.
type SyncRun struct {
	Entity
	Trigger      string        `json:"trigger"`
	Status       SyncRunStatus `json:"status"`
	BatchSize    int           `json:"batch_size"`
	Offset       int           `json:"offset"`
	MaxUsers     int           `json:"max_users"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	NewScrobbles int           `json:"new_scrobbles"`
	NextOffset   int           `json:"next_offset"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// NewSyncRun creates a running [SyncRun] started now.
func NewSyncRun(trigger string, batchSize, offset, maxUsers int) *SyncRun {
	e := newEntity(0)
	return &SyncRun{
		Entity:    e,
		Trigger:   trigger,
		Status:    SyncRunRunning,
		BatchSize: batchSize,
		Offset:    offset,
		MaxUsers:  maxUsers,
		StartedAt: e.CreatedAt(),
	}
}

// Validate checks required fields.
func (r *SyncRun) Validate() error {
	if r.ID() == "" {
		return fmt.Errorf("%w: sync run ID is required", shared.ErrInvalidInput)
	}
	if r.Trigger == "" {
		return fmt.Errorf("%w: sync run trigger is required", shared.ErrInvalidInput)
	}
	switch r.Status {
	case SyncRunRunning, SyncRunCompleted, SyncRunFailed:
	default:
		return fmt.Errorf("%w: unknown sync run status %q", shared.ErrInvalidInput, r.Status)
	}
	return nil
}

// Duration returns how long the run took, or has taken so far.
func (r *SyncRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
