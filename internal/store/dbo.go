package store

import (
	"database/sql"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
)

// runDBO maps to the runs table. Timestamps are unix milliseconds.
type runDBO struct {
	ID           string         `db:"id"`
	Manifest     string         `db:"manifest"`
	OutDir       string         `db:"out_dir"`
	Status       string         `db:"status"`
	Total        int            `db:"total"`
	Completed    int            `db:"completed"`
	Succeeded    int            `db:"succeeded"`
	Failed       int            `db:"failed"`
	Cancelled    int            `db:"cancelled"`
	BytesWritten int64          `db:"bytes_written"`
	Error        sql.NullString `db:"error"`
	StartedAt    int64          `db:"started_at"`
	FinishedAt   sql.NullInt64  `db:"finished_at"`
}

// Mapper: DBO to Domain RunRecord
func (r *runDBO) ToDomain() domain.RunRecord {
	rec := domain.RunRecord{
		Snapshot: domain.Snapshot{
			RunID:        r.ID,
			Status:       domain.RunStatus(r.Status),
			Completed:    r.Completed,
			Total:        r.Total,
			Succeeded:    r.Succeeded,
			Failed:       r.Failed,
			Cancelled:    r.Cancelled,
			BytesWritten: uint64(r.BytesWritten),
			StartedAt:    time.UnixMilli(r.StartedAt).UTC(),
			Error:        r.Error.String,
		},
		Manifest: r.Manifest,
		OutDir:   r.OutDir,
	}
	if r.FinishedAt.Valid {
		rec.FinishedAt = time.UnixMilli(r.FinishedAt.Int64).UTC()
	}
	return rec
}

// Mapper: Domain RunRecord to DBO
func (r *runDBO) FromDomain(rec domain.RunRecord) {
	r.ID = rec.RunID
	r.Manifest = rec.Manifest
	r.OutDir = rec.OutDir
	r.Status = string(rec.Status)
	r.Total = rec.Total
	r.Completed = rec.Completed
	r.Succeeded = rec.Succeeded
	r.Failed = rec.Failed
	r.Cancelled = rec.Cancelled
	r.BytesWritten = int64(rec.BytesWritten)
	r.Error = sql.NullString{String: rec.Error, Valid: rec.Error != ""}
	r.StartedAt = rec.StartedAt.UnixMilli()

	if !rec.FinishedAt.IsZero() {
		r.FinishedAt = sql.NullInt64{Int64: rec.FinishedAt.UnixMilli(), Valid: true}
	} else {
		r.FinishedAt = sql.NullInt64{}
	}
}

// args returns the column values in runColumns order.
func (r *runDBO) args() []any {
	return []any{
		r.ID, r.Manifest, r.OutDir, r.Status, r.Total, r.Completed, r.Succeeded,
		r.Failed, r.Cancelled, r.BytesWritten, r.Error, r.StartedAt, r.FinishedAt,
	}
}

func (r *runDBO) dest() []any {
	return []any{
		&r.ID, &r.Manifest, &r.OutDir, &r.Status, &r.Total, &r.Completed, &r.Succeeded,
		&r.Failed, &r.Cancelled, &r.BytesWritten, &r.Error, &r.StartedAt, &r.FinishedAt,
	}
}

const runColumns = `id, manifest, out_dir, status, total, completed, succeeded, failed, cancelled, bytes_written, error, started_at, finished_at`

// outcomeDBO maps to the run_outcomes table
type outcomeDBO struct {
	RunID  string         `db:"run_id"`
	Index  int            `db:"idx"`
	Path   string         `db:"path"`
	Kind   string         `db:"kind"`
	Reason sql.NullString `db:"reason"`
	Error  sql.NullString `db:"error"`
}

func (o *outcomeDBO) ToDomain() domain.OutcomeRecord {
	return domain.OutcomeRecord{
		Index:  o.Index,
		Kind:   domain.OutcomeKind(o.Kind),
		Path:   o.Path,
		Reason: o.Reason.String,
		Error:  o.Error.String,
	}
}

func (o *outcomeDBO) FromDomain(runID string, rec domain.OutcomeRecord) {
	o.RunID = runID
	o.Index = rec.Index
	o.Path = rec.Path
	o.Kind = string(rec.Kind)
	o.Reason = sql.NullString{String: rec.Reason, Valid: rec.Reason != ""}
	o.Error = sql.NullString{String: rec.Error, Valid: rec.Error != ""}
}
