package engine

import (
	"context"
	"errors"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/infra/logger"
)

// Task downloads one descriptor and verifies it. Failures never escape as
// errors; they are folded into the returned Outcome.
type Task struct {
	transfer *Transfer
	verifier *Verifier
	logger   *logger.Logger
}

func NewTask(transfer *Transfer, verifier *Verifier, log *logger.Logger) *Task {
	return &Task{transfer: transfer, verifier: verifier, logger: log}
}

// Run fetches desc to dest and checks its digest. A corrupted file is left on
// disk for the caller to deal with.
func (t *Task) Run(ctx context.Context, desc domain.FileDescriptor, dest string, sig *Signals, onProgress func(int64)) domain.Outcome {
	n, err := t.transfer.Fetch(ctx, desc.URL, dest, sig, onProgress)
	if err != nil {
		if errors.Is(err, domain.ErrStopped) {
			t.logger.Debug("Cancelled %s after %d bytes", desc.Path, n)
			return domain.Cancelled(dest)
		}
		t.logger.Error("Failed to download %s: %v", desc.URL, err)
		return domain.Failed(dest, domain.ReasonDownload, err)
	}

	if err := t.verifier.Verify(dest, desc.Hash); err != nil {
		t.logger.Warn("Checksum failed for %s: %v", desc.Path, err)
		return domain.Failed(dest, domain.ReasonChecksum, err)
	}

	t.logger.Debug("Downloaded %s", dest)
	return domain.Succeeded(dest)
}
