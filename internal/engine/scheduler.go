package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/infra/logger"
)

const DefaultWorkers = 16

// ReportFunc receives the outcome of every task that ran. Calls come from
// worker goroutines in completion order, not manifest order.
type ReportFunc func(index int, outcome domain.Outcome)

type job struct {
	index int
	desc  domain.FileDescriptor
	dest  string
}

// Scheduler submits one Task per manifest entry to a fixed pool of workers.
type Scheduler struct {
	workers int
	task    *Task
	logger  *logger.Logger
}

func NewScheduler(workers int, task *Task, log *logger.Logger) *Scheduler {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Scheduler{workers: workers, task: task, logger: log}
}

func (s *Scheduler) Workers() int { return s.workers }

// Run walks the manifest in order and blocks until every submitted task has
// finished. It stops submitting when sig is stopped and holds submission
// while sig is paused. A malformed entry or a directory that cannot be
// created aborts submission; tasks already handed out still run to their end.
func (s *Scheduler) Run(ctx context.Context, m *domain.Manifest, outDir string, sig *Signals, report ReportFunc, onProgress func(int64)) error {
	jobs := make(chan job)

	var wg sync.WaitGroup
	for w := 1; w <= s.workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, sig, jobs, report, onProgress)
		}(w)
	}

	err := s.dispatchJobs(ctx, m, outDir, sig, jobs)
	close(jobs)
	wg.Wait()

	return err
}

// worker pulls jobs until the channel is closed. A job pulled after stop is
// skipped without producing an outcome.
func (s *Scheduler) worker(ctx context.Context, sig *Signals, jobs <-chan job, report ReportFunc, onProgress func(int64)) {
	for j := range jobs {
		if sig.Stopped() {
			continue
		}
		outcome := s.task.Run(ctx, j.desc, j.dest, sig, onProgress)
		if report != nil {
			report(j.index, outcome)
		}
	}
}

func (s *Scheduler) dispatchJobs(ctx context.Context, m *domain.Manifest, outDir string, sig *Signals, jobs chan<- job) error {
	for i, desc := range m.Files {
		if sig.Stopped() {
			return nil
		}
		if !sig.Wait() {
			return nil
		}

		dest, err := ResolveDest(outDir, i, desc)
		if err != nil {
			return err
		}

		// MkdirAll tolerates a sibling task creating the same parent first
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return &domain.FilesystemError{Path: filepath.Dir(dest), Err: err}
		}

		select {
		case <-sig.Done():
			return nil
		case <-ctx.Done():
			return nil
		case jobs <- job{index: i, desc: desc, dest: dest}:
			s.logger.Debug("Submitted %d/%d: %s", i+1, len(m.Files), desc.Path)
		}
	}
	return nil
}

// ResolveDest validates desc and returns where it lands under outDir.
func ResolveDest(outDir string, index int, desc domain.FileDescriptor) (string, error) {
	if strings.TrimSpace(desc.Path) == "" {
		return "", &domain.ManifestError{Index: index, Field: "Path", Err: domain.ErrMissingField}
	}
	if strings.TrimSpace(desc.URL) == "" {
		return "", &domain.ManifestError{Index: index, Field: "Download", Err: domain.ErrMissingField}
	}
	if strings.TrimSpace(desc.Hash) == "" {
		return "", &domain.ManifestError{Index: index, Field: "Hash", Err: domain.ErrMissingField}
	}

	u, err := url.Parse(desc.URL)
	if err != nil {
		return "", &domain.ManifestError{Index: index, Field: "Download", Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &domain.ManifestError{Index: index, Field: "Download", Err: fmt.Errorf("not an absolute http(s) URL: %q", desc.URL)}
	}

	if _, err := hex.DecodeString(strings.TrimSpace(desc.Hash)); err != nil {
		return "", &domain.ManifestError{Index: index, Field: "Hash", Err: errors.New("not a hex digest")}
	}

	// Manifests may carry Windows separators
	rel := filepath.FromSlash(strings.ReplaceAll(desc.Path, `\`, "/"))
	root := filepath.Clean(outDir)
	dest := filepath.Join(root, rel)

	inside, err := filepath.Rel(root, dest)
	if err != nil || inside == "." || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", &domain.ManifestError{Index: index, Field: "Path", Err: fmt.Errorf("%q escapes the output directory", desc.Path)}
	}

	return dest, nil
}
