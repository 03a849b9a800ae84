package store

import (
	"context"
	"errors"

	"github.com/datallboy/manifetch/internal/domain"
)

// ErrNotFound is returned by GetRun for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit caps ListRuns when the caller passes no limit.
const DefaultListLimit = 50

// Recorder is the run history. Both the sqlite and postgres stores
// implement it; the engine only needs SaveRun.
type Recorder interface {
	SaveRun(ctx context.Context, rec domain.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	GetRun(ctx context.Context, id string) (domain.RunRecord, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
