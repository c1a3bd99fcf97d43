package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/clinical-trials-crawler/internal/store"
)

const defaultRunsTable = "crawl_runs"

type runPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// RunStore implements store.RunRepository.
type RunStore struct {
	pool  runPool
	table string
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStoreWithPool constructs a run store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p runPool, table string) (*RunStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return newRunStore(p, table)
}

func newRunStore(p runPool, table string) (*RunStore, error) {
	name, err := validTable(table, defaultRunsTable)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: name}, nil
}

// EnsureSchema creates the runs table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id        uuid        PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text        NOT NULL,
	rows          integer     NOT NULL DEFAULT 0,
	last_flush_at timestamptz,
	error         text
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartRun implements store.RunRepository.
func (s *RunStore) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (run_id) DO UPDATE
SET started_at = EXCLUDED.started_at, status = EXCLUDED.status, finished_at = NULL, error = NULL`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordFlush implements store.RunRepository.
func (s *RunStore) RecordFlush(ctx context.Context, runID uuid.UUID, rows int, at time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET rows = $2, last_flush_at = $3 WHERE run_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, rows, at)
	if err != nil {
		return fmt.Errorf("update run flush: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CompleteRun implements store.RunRepository.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`UPDATE %s SET finished_at = $2, status = $3, error = $4 WHERE run_id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, runID, finishedAt, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun implements store.RunRepository.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
SELECT run_id, started_at, finished_at, status, rows, last_flush_at, error
FROM %s WHERE run_id = $1`, s.table)
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Rows, &run.LastFlushAt, &run.ErrorMessage,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
