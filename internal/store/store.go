// File: internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/autofill-cli/api/schemas"
)

// DBPool abstracts pgxpool.Pool so tests can use pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Field outcome kinds stored next to the error kinds.
const (
	OutcomeFilled  = "filled"
	OutcomeSkipped = "skipped"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS fill_runs (
    run_id      TEXT PRIMARY KEY,
    page_url    TEXT NOT NULL DEFAULT '',
    success     BOOLEAN NOT NULL,
    filled      INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL,
    steps       INTEGER NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS field_outcomes (
    run_id    TEXT NOT NULL REFERENCES fill_runs(run_id) ON DELETE CASCADE,
    field_key TEXT NOT NULL,
    outcome   TEXT NOT NULL,
    message   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS fill_runs_started_at_idx ON fill_runs (started_at DESC);
`

const insertRunSQL = `
INSERT INTO fill_runs (run_id, page_url, success, filled, failed, skipped, steps, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id) DO NOTHING;
`

const recentRunsSQL = `
SELECT run_id, page_url, success, filled, failed, skipped, steps, started_at, duration_ms
FROM fill_runs
ORDER BY started_at DESC
LIMIT $1;
`

var outcomeColumns = []string{"run_id", "field_key", "outcome", "message"}

// Store persists run history in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx pool for url and wraps it in a Store. The caller closes
// the returned pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run summary and one outcome row per filled, skipped or
// failed key in a single transaction.
func (s *Store) SaveRun(ctx context.Context, pageURL string, res *schemas.RunResult) error {
	if res == nil || res.RunID == "" {
		return fmt.Errorf("run result has no id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		res.RunID, pageURL, res.Success,
		len(res.FilledFields), len(res.Errors), len(res.Skipped), res.Steps,
		res.StartedAt.UTC(), res.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", res.RunID, err)
	}

	rows := outcomeRows(res)
	if len(rows) > 0 {
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"field_outcomes"}, outcomeColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy field outcomes: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied outcome count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted.", zap.String("run_id", res.RunID), zap.Int("outcomes", len(rows)))
	return nil
}

func outcomeRows(res *schemas.RunResult) [][]interface{} {
	rows := make([][]interface{}, 0, len(res.FilledFields)+len(res.Skipped)+len(res.Errors))
	for _, k := range res.FilledFields {
		rows = append(rows, []interface{}{res.RunID, string(k), OutcomeFilled, ""})
	}
	for _, sk := range res.Skipped {
		rows = append(rows, []interface{}{res.RunID, string(sk.Key), OutcomeSkipped, sk.Reason})
	}
	for _, e := range res.Errors {
		rows = append(rows, []interface{}{res.RunID, string(e.Key), string(e.Kind), e.Message})
	}
	return rows
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]schemas.RunRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []schemas.RunRecord
	for rows.Next() {
		var r schemas.RunRecord
		var durationMs int64
		if err := rows.Scan(&r.RunID, &r.PageURL, &r.Success, &r.Filled, &r.Failed, &r.Skipped, &r.Steps, &r.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
