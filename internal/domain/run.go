package domain

import "time"

type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusStopped   RunStatus = "stopped"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions can happen for the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusStopped, StatusFailed:
		return true
	}
	return false
}

// Snapshot is a consistent, copy-by-value view of a run's progress.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	Paused       bool      `json:"paused"`
	Completed    int       `json:"completed"`
	Total        int       `json:"total"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Cancelled    int       `json:"cancelled"`
	BytesWritten uint64    `json:"bytes_written"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
	Error        string    `json:"error,omitempty"`
}

// RunRecord is a finished run as kept by the history store.
type RunRecord struct {
	Snapshot
	Manifest string          `json:"manifest"`
	OutDir   string          `json:"out_dir"`
	Outcomes []OutcomeRecord `json:"outcomes,omitempty"`
}

// OutcomeRecord flattens an Outcome with its manifest index for storage.
type OutcomeRecord struct {
	Index  int         `json:"index"`
	Kind   OutcomeKind `json:"kind"`
	Path   string      `json:"path,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Error  string      `json:"error,omitempty"`
}
