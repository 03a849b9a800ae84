package engine

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
)

// runState is the single source of truth for one run's progress. Tasks
// record outcomes; the controller and reporters read snapshots.
type runState struct {
	mu sync.RWMutex

	id       string
	source   string
	outDir   string
	status   domain.RunStatus
	total    int
	outcomes map[int]domain.Outcome

	completed int
	succeeded int
	failed    int
	cancelled int

	startedAt  time.Time
	finishedAt time.Time
	err        error

	bytesWritten atomic.Uint64
}

func newRunState(id, source, outDir string, total int) *runState {
	return &runState{
		id:        id,
		source:    source,
		outDir:    outDir,
		status:    domain.StatusRunning,
		total:     total,
		outcomes:  make(map[int]domain.Outcome, total),
		startedAt: time.Now(),
	}
}

// record stores the outcome for a manifest index. An index transitions once;
// later records for the same index are dropped and false is returned.
func (r *runState) record(index int, o domain.Outcome) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.outcomes[index]; seen {
		return false
	}
	r.outcomes[index] = o

	switch o.Kind {
	case domain.OutcomeSuccess:
		r.succeeded++
	case domain.OutcomeFailed:
		r.failed++
	case domain.OutcomeCancelled:
		r.cancelled++
	}
	if o.Counted() && r.completed < r.total {
		r.completed++
	}
	return true
}

func (r *runState) addBytes(n int64) {
	r.bytesWritten.Add(uint64(n))
}

// finish moves the run to a terminal status. Only the first call wins.
func (r *runState) finish(status domain.RunStatus, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Terminal() {
		return false
	}
	r.status = status
	r.err = err
	r.finishedAt = time.Now()
	return true
}

func (r *runState) fail(err error) {
	r.finish(domain.StatusFailed, err)
}

func (r *runState) terminal() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status.Terminal()
}

func (r *runState) allDone() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.completed == r.total
}

func (r *runState) snapshot(paused bool) domain.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := domain.Snapshot{
		RunID:        r.id,
		Status:       r.status,
		Paused:       paused && r.status == domain.StatusRunning,
		Completed:    r.completed,
		Total:        r.total,
		Succeeded:    r.succeeded,
		Failed:       r.failed,
		Cancelled:    r.cancelled,
		BytesWritten: r.bytesWritten.Load(),
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

// outcomeRecords returns the recorded outcomes sorted by manifest index.
func (r *runState) outcomeRecords() []domain.OutcomeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := make([]domain.OutcomeRecord, 0, len(r.outcomes))
	for idx, o := range r.outcomes {
		records = append(records, domain.OutcomeRecord{
			Index:  idx,
			Kind:   o.Kind,
			Path:   o.Path,
			Reason: o.Reason,
			Error:  o.ErrorString(),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Index < records[j].Index
	})
	return records
}

func (r *runState) outcomesCopy() map[int]domain.Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[int]domain.Outcome, len(r.outcomes))
	for k, v := range r.outcomes {
		out[k] = v
	}
	return out
}
