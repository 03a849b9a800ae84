package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datallboy/manifetch/internal/domain"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	store := &SQLiteStore{db: db}

	if err := store.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return store, nil
}

// SaveRun writes the run and replaces any outcomes stored for it.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec domain.RunRecord) error {
	var dbo runDBO
	dbo.FromDomain(rec)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dbo.args()...,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.RunID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_outcomes WHERE run_id = ?`, rec.RunID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO run_outcomes (run_id, idx, path, kind, reason, error) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	var o outcomeDBO
	for _, out := range rec.Outcomes {
		o.FromDomain(rec.RunID, out)
		if _, err := stmt.ExecContext(ctx, o.RunID, o.Index, o.Path, o.Kind, o.Reason, o.Error); err != nil {
			return fmt.Errorf("failed to save outcome %d of run %s: %w", out.Index, rec.RunID, err)
		}
	}

	return tx.Commit()
}

// ListRuns returns the most recent runs first, without outcomes.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`,
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

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (domain.RunRecord, error) {
	var dbo runDBO
	err := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ? LIMIT 1`, id).Scan(dbo.dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.RunRecord{}, ErrNotFound
		}
		return domain.RunRecord{}, fmt.Errorf("failed to fetch run: %w", err)
	}
	rec := dbo.ToDomain()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, idx, path, kind, reason, error FROM run_outcomes WHERE run_id = ? ORDER BY idx ASC`, id)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
