package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"github.com/shirou/gopsutil/v3/disk"
)

// Options configures every run started by a Controller.
type Options struct {
	Workers          int
	ChunkSize        int
	Digest           string
	RateLimit        int64
	Timeout          time.Duration
	StopGrace        time.Duration
	ProgressInterval time.Duration
	UserAgent        string

	// Client overrides the HTTP client built from Timeout.
	Client *http.Client
}

// RunOptions are per-run settings passed to Start.
type RunOptions struct {
	// Source names where the manifest came from, for logs and history.
	Source string

	// StartPaused begins the run with the pause signal set; nothing is
	// submitted until Resume.
	StartPaused bool

	// CreateOutDir creates the output directory instead of failing when it
	// does not exist.
	CreateOutDir bool
}

type activeRun struct {
	state  *runState
	sig    *Signals
	cancel context.CancelFunc
	done   chan struct{}

	stopOnce sync.Once
}

// Controller owns the lifecycle of runs: Idle -> Running -> Completed,
// Stopped or Failed. One run is live at a time; a finished run stays
// readable until the next Start.
type Controller struct {
	mu        sync.RWMutex
	opts      Options
	logger    *logger.Logger
	recorder  RunRecorder
	observers []Observer
	run       *activeRun
}

func NewController(opts Options, log *logger.Logger) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 500 * time.Millisecond
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 100 * time.Millisecond
	}
	return &Controller{opts: opts, logger: log}
}

// SetRecorder installs the history store finished runs are written to.
func (c *Controller) SetRecorder(r RunRecorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recorder = r
}

// AddObserver registers o for the snapshots of every subsequent run.
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Start validates the output directory and launches a run over m. The run is
// detached from ctx cancellation; use Stop to end it early.
func (c *Controller) Start(ctx context.Context, m *domain.Manifest, outDir string, ro RunOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil && !c.run.state.terminal() {
		return "", domain.ErrRunActive
	}

	id := ksuid.New().String()
	state := newRunState(id, ro.Source, outDir, m.Len())
	run := &activeRun{
		state: state,
		sig:   NewSignals(),
		done:  make(chan struct{}),
	}

	setupErr := c.setup(m, outDir, ro)
	verifier, err := NewVerifier(c.opts.Digest)
	if setupErr == nil && err != nil {
		setupErr = err
	}
	if setupErr != nil {
		state.fail(setupErr)
		run.cancel = func() {}
		c.run = run
		c.logger.Error("Run %s could not start: %v", id, setupErr)
		go c.abort(run, append([]Observer(nil), c.observers...))
		return id, setupErr
	}

	if ro.StartPaused {
		run.sig.Pause()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run.cancel = cancel
	c.run = run

	client := c.opts.Client
	if client == nil {
		client = NewHTTPClient(c.opts.Timeout)
	}
	transfer := NewTransfer(TransferOptions{
		Client:    client,
		ChunkSize: c.opts.ChunkSize,
		UserAgent: c.opts.UserAgent,
		RateLimit: c.opts.RateLimit,
	})
	sched := NewScheduler(c.opts.Workers, NewTask(transfer, verifier, c.logger), c.logger)

	c.logger.Info("Starting run %s: %d files into %s (%d workers)", id, m.Len(), outDir, sched.Workers())

	observers := append([]Observer(nil), c.observers...)
	go c.execute(runCtx, run, sched, m, outDir)
	go c.reportLoop(run, observers)

	return id, nil
}

// setup checks the run's inputs before anything is scheduled.
func (c *Controller) setup(m *domain.Manifest, outDir string, ro RunOptions) error {
	if m == nil {
		return &domain.ManifestError{Index: -1, Err: errors.New("no manifest")}
	}
	if outDir == "" {
		return &domain.FilesystemError{Path: outDir, Err: errors.New("output directory is required")}
	}

	info, err := os.Stat(outDir)
	switch {
	case errors.Is(err, os.ErrNotExist) && ro.CreateOutDir:
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return &domain.FilesystemError{Path: outDir, Err: err}
		}
	case err != nil:
		return &domain.FilesystemError{Path: outDir, Err: err}
	case !info.IsDir():
		return &domain.FilesystemError{Path: outDir, Err: errors.New("not a directory")}
	}

	c.preflight(outDir, m.TotalSize())
	return nil
}

// preflight logs the state of the output volume. Problems here never block a run.
func (c *Controller) preflight(outDir string, need int64) {
	if usage, err := disk.Usage(outDir); err == nil {
		c.logger.Info("Output volume: %s free of %s", humanize.Bytes(usage.Free), humanize.Bytes(usage.Total))
		if need > 0 && uint64(need) > usage.Free {
			c.logger.Warn("Manifest needs %s but only %s is free", humanize.Bytes(uint64(need)), humanize.Bytes(usage.Free))
		}
	} else {
		c.logger.Debug("Could not read disk usage for %s: %v", outDir, err)
	}

	if entries, err := os.ReadDir(outDir); err == nil && len(entries) > 0 {
		c.logger.Warn("Output directory %s is not empty; existing files may be overwritten", outDir)
	}
}

func (c *Controller) execute(ctx context.Context, run *activeRun, sched *Scheduler, m *domain.Manifest, outDir string) {
	defer close(run.done)
	defer run.cancel()

	report := func(index int, o domain.Outcome) {
		run.state.record(index, o)
	}

	err := sched.Run(ctx, m, outDir, run.sig, report, run.state.addBytes)

	switch {
	case err != nil:
		run.state.fail(err)
		c.logger.Error("Run %s failed: %v", run.state.id, err)
	case run.state.allDone():
		run.state.finish(domain.StatusCompleted, nil)
	case run.sig.Stopped():
		run.state.finish(domain.StatusStopped, nil)
	default:
		snap := run.state.snapshot(false)
		run.state.fail(fmt.Errorf("run ended with %d of %d files accounted for", snap.Completed, snap.Total))
	}

	snap := run.state.snapshot(false)
	c.logger.Info("Run %s %s: %d/%d files (%d failed, %d cancelled, %s written)",
		snap.RunID, snap.Status, snap.Completed, snap.Total, snap.Failed, snap.Cancelled, humanize.Bytes(snap.BytesWritten))

	c.record(run)
}

// abort finishes a run that failed before anything was scheduled: it is
// recorded and its terminal snapshot delivered like any other run.
func (c *Controller) abort(run *activeRun, observers []Observer) {
	defer close(run.done)

	c.record(run)

	feeds := newFeeds(observers)
	feeds.push(run.snapshot())
	feeds.close()
}

func (c *Controller) record(run *activeRun) {
	c.mu.RLock()
	rec := c.recorder
	c.mu.RUnlock()
	if rec == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rec.SaveRun(ctx, run.record()); err != nil {
		c.logger.Error("Failed to record run %s: %v", run.state.id, err)
	}
}

// reportLoop polls the run state and fans snapshots out to observers until
// the run is terminal.
func (c *Controller) reportLoop(run *activeRun, observers []Observer) {
	if len(observers) == 0 {
		return
	}

	feeds := newFeeds(observers)
	defer feeds.close()

	ticker := time.NewTicker(c.opts.ProgressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := run.snapshot()
			feeds.push(snap)
			if snap.Status.Terminal() {
				return
			}
		case <-run.done:
			feeds.push(run.snapshot())
			return
		}
	}
}

// Pause holds the live run. It has no effect when nothing is running.
func (c *Controller) Pause() {
	if run := c.live(); run != nil {
		run.sig.Pause()
		c.logger.Info("Run %s paused", run.state.id)
	}
}

func (c *Controller) Resume() {
	if run := c.live(); run != nil {
		run.sig.Resume()
		c.logger.Info("Run %s resumed", run.state.id)
	}
}

// Stop latches the stop signal. In-flight tasks abandon work at their next
// chunk. Cancellation is cooperative only for the grace period: once it
// expires the run context is cancelled, which aborts any transfer still
// blocked in a network read instead of waiting for its next chunk.
func (c *Controller) Stop() {
	run := c.live()
	if run == nil {
		return
	}
	run.stopOnce.Do(func() {
		c.logger.Info("Run %s stopping", run.state.id)
		run.sig.Stop()

		grace := time.NewTimer(c.opts.StopGrace)
		go func() {
			defer grace.Stop()
			select {
			case <-grace.C:
				run.cancel()
			case <-run.done:
			}
		}()
	})
}

// Snapshot returns the current view of the latest run, or an idle snapshot
// if none has been started.
func (c *Controller) Snapshot() domain.Snapshot {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()

	if run == nil {
		return domain.Snapshot{Status: domain.StatusIdle}
	}
	return run.snapshot()
}

// Outcomes returns a copy of the outcomes recorded so far, keyed by
// manifest index.
func (c *Controller) Outcomes() map[int]domain.Outcome {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()

	if run == nil {
		return map[int]domain.Outcome{}
	}
	return run.state.outcomesCopy()
}

// OutcomeRecords returns the outcomes of the latest run sorted by manifest
// index.
func (c *Controller) OutcomeRecords() []domain.OutcomeRecord {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()

	if run == nil {
		return []domain.OutcomeRecord{}
	}
	return run.state.outcomeRecords()
}

// Done returns a channel closed once the latest run is terminal. With no run
// started the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()

	if run == nil {
		return closedChan
	}
	return run.done
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Wait blocks until the latest run is terminal or ctx is done.
func (c *Controller) Wait(ctx context.Context) (domain.Snapshot, error) {
	c.mu.RLock()
	run := c.run
	c.mu.RUnlock()

	if run == nil {
		return domain.Snapshot{Status: domain.StatusIdle}, domain.ErrNoRun
	}

	select {
	case <-run.done:
		return run.snapshot(), nil
	case <-ctx.Done():
		return run.snapshot(), ctx.Err()
	}
}

// live returns the current run if it is still Running.
func (c *Controller) live() *activeRun {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run == nil || c.run.state.terminal() {
		return nil
	}
	return c.run
}

func (r *activeRun) snapshot() domain.Snapshot {
	return r.state.snapshot(r.sig.Paused())
}

func (r *activeRun) record() domain.RunRecord {
	return domain.RunRecord{
		Snapshot: r.state.snapshot(false),
		Manifest: r.state.source,
		OutDir:   r.state.outDir,
		Outcomes: r.state.outcomeRecords(),
	}
}
