package engine

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/dustin/go-humanize"
)

const barWidth = 20

// ProgressBar renders snapshots as a single-line terminal progress bar.
type ProgressBar struct {
	mu        sync.Mutex
	out       io.Writer
	lastBytes uint64
	lastTick  time.Time
}

func NewProgressBar(out io.Writer) *ProgressBar {
	if out == nil {
		out = os.Stdout
	}
	return &ProgressBar{out: out}
}

func (p *ProgressBar) Update(s domain.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var speed float64
	if !p.lastTick.IsZero() && s.BytesWritten >= p.lastBytes {
		if secs := now.Sub(p.lastTick).Seconds(); secs > 0 {
			speed = float64(s.BytesWritten-p.lastBytes) / secs
		}
	}
	p.lastBytes = s.BytesWritten
	p.lastTick = now

	fmt.Fprint(p.out, renderProgress(s, speed))
	if s.Status.Terminal() {
		fmt.Fprintln(p.out)
	}
}

// renderProgress draws: [=====>     ]  50.0% | 3/6 files downloaded | 12 MB | 1.2 MB/s
func renderProgress(s domain.Snapshot, bytesPerSec float64) string {
	percent := 0.0
	if s.Total > 0 {
		percent = float64(s.Completed) / float64(s.Total) * 100
	}
	if s.Status == domain.StatusCompleted {
		percent = 100
	}

	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	var label string
	switch {
	case s.Status.Terminal():
		label = string(s.Status)
	case s.Paused:
		label = "paused"
	default:
		label = humanize.Bytes(uint64(bytesPerSec)) + "/s"
	}

	line := fmt.Sprintf("\r[%s] %5.1f%% | %d/%d files downloaded | %s | %s",
		bar, percent, s.Completed, s.Total, humanize.Bytes(s.BytesWritten), label)
	if s.Failed > 0 {
		line += fmt.Sprintf(" | %d failed", s.Failed)
	}
	return line + "      "
}
