package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    manifest      TEXT NOT NULL DEFAULT '',
    out_dir       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL,
    total         INTEGER NOT NULL DEFAULT 0,
    completed     INTEGER NOT NULL DEFAULT 0,
    succeeded     INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    cancelled     INTEGER NOT NULL DEFAULT 0,
    bytes_written BIGINT NOT NULL DEFAULT 0,
    error         TEXT,
    started_at    BIGINT NOT NULL,
    finished_at   BIGINT
);

CREATE TABLE IF NOT EXISTS run_outcomes (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    idx    INTEGER NOT NULL,
    path   TEXT NOT NULL DEFAULT '',
    kind   TEXT NOT NULL,
    reason TEXT,
    error  TEXT,
    PRIMARY KEY (run_id, idx)
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// PostgresStore keeps run history in a shared Postgres database, for
// deployments where several manifetch instances report to one place.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	var dbo runDBO
	dbo.FromDomain(rec)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			manifest = excluded.manifest,
			out_dir = excluded.out_dir,
			status = excluded.status,
			total = excluded.total,
			completed = excluded.completed,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			cancelled = excluded.cancelled,
			bytes_written = excluded.bytes_written,
			error = excluded.error,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at`,
		dbo.args()...,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM run_outcomes WHERE run_id = $1`, rec.RunID); err != nil {
		return err
	}

	if len(rec.Outcomes) > 0 {
		rows := make([][]any, 0, len(rec.Outcomes))
		var o outcomeDBO
		for _, out := range rec.Outcomes {
			o.FromDomain(rec.RunID, out)
			rows = append(rows, []any{o.RunID, o.Index, o.Path, o.Kind, o.Reason, o.Error})
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"run_outcomes"},
			[]string{"run_id", "idx", "path", "kind", "reason", "error"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to save outcomes of run %s: %w", rec.RunID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var dbo runDBO
		if err := rows.Scan(dbo.dest()...); err != nil {
			return nil, err
		}
		runs = append(runs, dbo.ToDomain())
	}
	return runs, rows.Err()
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (domain.RunRecord, error) {
	var dbo runDBO
	err := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id).Scan(dbo.dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RunRecord{}, ErrNotFound
		}
		return domain.RunRecord{}, fmt.Errorf("failed to fetch run: %w", err)
	}
	rec := dbo.ToDomain()

	rows, err := s.pool.Query(ctx,
		`SELECT run_id, idx, path, kind, reason, error FROM run_outcomes WHERE run_id = $1 ORDER BY idx ASC`, id)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("failed to fetch outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var o outcomeDBO
		if err := rows.Scan(&o.RunID, &o.Index, &o.Path, &o.Kind, &o.Reason, &o.Error); err != nil {
			return domain.RunRecord{}, err
		}
		rec.Outcomes = append(rec.Outcomes, o.ToDomain())
	}
	return rec, rows.Err()
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
