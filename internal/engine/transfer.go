package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
	"golang.org/x/time/rate"
)

const defaultChunkSize = 8 * 1024

type TransferOptions struct {
	// Client defaults to a client with a 60s timeout.
	Client    *http.Client
	ChunkSize int
	UserAgent string

	// RateLimit caps the bytes per second written by every fetch sharing
	// this Transfer. Zero disables the cap.
	RateLimit int64
}

// Transfer streams remote resources to local files, honoring pause and stop
// at chunk boundaries.
type Transfer struct {
	client    *http.Client
	chunkSize int
	userAgent string
	limiter   *rate.Limiter
}

func NewTransfer(opts TransferOptions) *Transfer {
	t := &Transfer{
		client:    opts.Client,
		chunkSize: opts.ChunkSize,
		userAgent: opts.UserAgent,
	}
	if t.client == nil {
		t.client = NewHTTPClient(60 * time.Second)
	}
	if t.chunkSize <= 0 {
		t.chunkSize = defaultChunkSize
	}
	if opts.RateLimit > 0 {
		burst := max(int(opts.RateLimit), t.chunkSize)
		t.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return t
}

// NewHTTPClient builds the client shared by all transfers of a run. The
// timeout bounds connecting and waiting for response headers only: a paused
// transfer keeps its body open for as long as the pause lasts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext

	return &http.Client{Transport: transport}
}

// Fetch downloads url into dest, creating or truncating the file. Before each
// chunk is written it returns domain.ErrStopped if sig is stopped, and blocks
// while sig is paused. A stopped fetch leaves the partial file in place.
// onProgress, if set, receives the size of every chunk written.
func (t *Transfer) Fetch(ctx context.Context, url, dest string, sig *Signals, onProgress func(int64)) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &domain.TransferError{URL: url, Err: err}
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if sig.Stopped() {
			return 0, domain.ErrStopped
		}
		return 0, &domain.TransferError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &domain.TransferError{URL: url, StatusCode: resp.StatusCode}
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, &domain.TransferError{URL: url, Err: fmt.Errorf("create %s: %w", dest, err)}
	}
	defer f.Close()

	buf := make([]byte, t.chunkSize)
	var written int64

	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if sig.Stopped() {
				return written, domain.ErrStopped
			}
			if !sig.Wait() {
				return written, domain.ErrStopped
			}

			if t.limiter != nil {
				if err := t.limiter.WaitN(ctx, n); err != nil {
					if sig.Stopped() {
						return written, domain.ErrStopped
					}
					return written, &domain.TransferError{URL: url, Err: err}
				}
			}

			if _, err := f.Write(buf[:n]); err != nil {
				return written, &domain.TransferError{URL: url, Err: fmt.Errorf("write %s: %w", dest, err)}
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(int64(n))
			}
		}

		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			if sig.Stopped() {
				return written, domain.ErrStopped
			}
			return written, &domain.TransferError{URL: url, Err: readErr}
		}
	}
}
