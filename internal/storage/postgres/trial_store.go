// Package postgres mirrors flushed trial records into a Postgres table and
// keeps one bookkeeping row per crawl run.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/clinical-trials-crawler/internal/export"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "trial_records"

// Columns written for every row, in copy order.
var copyColumns = []string{"run_id", "position", "disease", "sponsor", "status", "title", "url", "flushed_at"}

// TrialStoreConfig controls the Postgres connection pool used for trial rows.
type TrialStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TrialStore keeps one row set per run, replaced wholesale on every flush so
// the table always matches the latest CSV export for that run.
type TrialStore struct {
	pool  pool
	table string
}

// NewTrialStore connects a pool using cfg.
func NewTrialStore(ctx context.Context, cfg TrialStoreConfig) (*TrialStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TrialStore{pool: p, table: table}, nil
}

// NewTrialStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTrialStoreWithPool(p pool, table string) (*TrialStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &TrialStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	return validTable(table, defaultTable)
}

func validTable(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the trial table when it does not exist.
func (s *TrialStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id     uuid        NOT NULL,
	position   integer     NOT NULL,
	disease    text        NOT NULL,
	sponsor    text        NOT NULL,
	status     text        NOT NULL,
	title      text        NOT NULL,
	url        text        NOT NULL,
	flushed_at timestamptz NOT NULL,
	PRIMARY KEY (run_id, position)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Name implements export.Mirror.
func (s *TrialStore) Name() string { return "postgres" }

// Mirror implements export.Mirror by replacing the batch's run rows.
func (s *TrialStore) Mirror(ctx context.Context, batch export.Batch) error {
	if batch.RunID == "" {
		return errors.New("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", s.table), batch.RunID); err != nil {
		return fmt.Errorf("delete run rows: %w", err)
	}
	rows := make([][]any, len(batch.Records))
	for i, rec := range batch.Records {
		rows[i] = []any{batch.RunID, i, rec.Disease, rec.Sponsor, string(rec.Status), rec.Title, rec.URL, batch.FlushedAt}
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, copyColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy trial rows: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy trial rows: wrote %d of %d", n, len(rows))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Runs returns a RunStore sharing this store's pool. Closing the TrialStore
// closes it too.
func (s *TrialStore) Runs(table string) (*RunStore, error) {
	return newRunStore(s.pool, table)
}

// Close releases the underlying pool resources.
func (s *TrialStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
