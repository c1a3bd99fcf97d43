package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("crawl run not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one row of crawl_runs.
type Run struct {
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	Status     RunStatus
	// Rows is the size of the latest successful flush.
	Rows int
	// LastFlushAt is nil until the first flush succeeds.
	LastFlushAt  *time.Time
	ErrorMessage *string
}

// RunRepository persists run lifecycle milestones.
type RunRepository interface {
	// StartRun inserts (or idempotently resets) the run as running.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// RecordFlush stores the row count of a successful flush.
	RecordFlush(ctx context.Context, runID uuid.UUID, rows int, at time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}
