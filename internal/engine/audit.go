package engine

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/datallboy/manifetch/internal/domain"
)

type AuditStatus string

const (
	AuditOK       AuditStatus = "ok"
	AuditMissing  AuditStatus = "missing"
	AuditMismatch AuditStatus = "mismatch"
	AuditInvalid  AuditStatus = "invalid"
)

// AuditResult describes one manifest entry checked against the output tree.
type AuditResult struct {
	Index  int         `json:"index"`
	Path   string      `json:"path"`
	Status AuditStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// Audit verifies an existing output tree against m without downloading
// anything. Results are returned in manifest order.
func Audit(ctx context.Context, m *domain.Manifest, outDir string, v *Verifier, workers int) ([]AuditResult, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	results := make([]AuditResult, m.Len())
	jobs := make(chan job)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = auditOne(v, j)
			}
		}()
	}

	var err error
dispatch:
	for i, desc := range m.Files {
		dest, rerr := ResolveDest(outDir, i, desc)
		if rerr != nil {
			results[i] = AuditResult{Index: i, Path: desc.Path, Status: AuditInvalid, Error: rerr.Error()}
			continue
		}

		select {
		case <-ctx.Done():
			err = ctx.Err()
			break dispatch
		case jobs <- job{index: i, desc: desc, dest: dest}:
		}
	}
	close(jobs)
	wg.Wait()

	return results, err
}

func auditOne(v *Verifier, j job) AuditResult {
	res := AuditResult{Index: j.index, Path: j.dest, Status: AuditOK}

	err := v.Verify(j.dest, j.desc.Hash)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		res.Status = AuditMissing
	default:
		// Unreadable files count as mismatches; the error says which
		res.Status = AuditMismatch
		res.Error = err.Error()
	}
	return res
}
