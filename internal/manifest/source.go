package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/datallboy/manifetch/internal/cache"
	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gocloud.dev/blob"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Loader resolves a manifest source to a parsed Manifest. A source is an
// http(s) URL, a bucket URL understood by gocloud.dev/blob with the object
// named by a "key" query parameter (s3://bucket?region=eu-west-1&key=m.xml),
// or a local path. Gzip and zstd content is detected and decompressed.
type Loader struct {
	client    *http.Client
	userAgent string
	parser    *Parser

	cache  *cache.FileCache
	logger *logger.Logger
}

func NewLoader(client *http.Client, userAgent string) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Loader{client: client, userAgent: userAgent, parser: NewParser()}
}

// SetCache makes Load keep the last good copy of every manifest in c and
// fall back to it when the source cannot be read.
func (l *Loader) SetCache(c *cache.FileCache, log *logger.Logger) {
	l.cache = c
	l.logger = log
}

func (l *Loader) Load(ctx context.Context, src string) (*domain.Manifest, error) {
	data, err := l.read(ctx, src)
	fresh := err == nil
	if err != nil {
		key := cache.Key(src)
		if l.cache == nil || !l.cache.Exists(key) {
			return nil, err
		}
		cached, cerr := l.cache.Get(key)
		if cerr != nil {
			l.logger.Warn("Cached copy of %s is unreadable: %v", src, cerr)
			return nil, err
		}
		l.logger.Warn("Manifest %s is unavailable (%v); using the cached copy", src, err)
		data = cached
	}

	m, err := l.parser.Parse(bytes.NewReader(data), src)
	if err != nil {
		return nil, err
	}

	if fresh && l.cache != nil {
		if err := l.cache.Put(cache.Key(src), data); err != nil {
			l.logger.Warn("Failed to cache manifest %s: %v", src, err)
		}
	}
	return m, nil
}

func (l *Loader) read(ctx context.Context, src string) ([]byte, error) {
	rc, err := l.Open(ctx, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &domain.ManifestError{Index: -1, Err: fmt.Errorf("read %s: %w", src, err)}
	}
	return data, nil
}

// Open returns the decompressed manifest bytes behind src.
func (l *Loader) Open(ctx context.Context, src string) (io.ReadCloser, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &domain.ManifestError{Index: -1, Err: errors.New("no manifest source given")}
	}

	var (
		raw io.ReadCloser
		err error
	)
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		raw, err = l.openHTTP(ctx, src)
	case strings.Contains(src, "://"):
		raw, err = openBlob(ctx, src)
	default:
		raw, err = os.Open(src)
	}
	if err != nil {
		return nil, &domain.ManifestError{Index: -1, Err: fmt.Errorf("open %s: %w", src, err)}
	}

	rc, err := decompress(raw)
	if err != nil {
		raw.Close()
		return nil, &domain.ManifestError{Index: -1, Err: fmt.Errorf("decompress %s: %w", src, err)}
	}
	return rc, nil
}

func (l *Loader) openHTTP(ctx context.Context, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, &domain.TransferError{URL: src, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &domain.TransferError{URL: src, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func openBlob(ctx context.Context, src string) (io.ReadCloser, error) {
	bucketURL, key, err := SplitBlobURL(src)
	if err != nil {
		return nil, err
	}

	bkt, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}

	r, err := bkt.NewReader(ctx, key, nil)
	if err != nil {
		bkt.Close()
		return nil, err
	}
	return &readCloser{Reader: r, closers: []io.Closer{r, bkt}}, nil
}

// SplitBlobURL separates the object key from a bucket URL.
func SplitBlobURL(src string) (bucketURL, key string, err error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", "", err
	}

	q := u.Query()
	key = q.Get("key")
	if key == "" {
		return "", "", fmt.Errorf("bucket URL %q has no key parameter", src)
	}
	q.Del("key")
	u.RawQuery = q.Encode()

	return u.String(), key, nil
}

func decompress(raw io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(raw)
	magic, _ := br.Peek(len(zstdMagic))

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, raw}}, nil
	case bytes.HasPrefix(magic, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		dec := zr.IOReadCloser()
		return &readCloser{Reader: dec, closers: []io.Closer{dec, raw}}, nil
	default:
		return &readCloser{Reader: br, closers: []io.Closer{raw}}, nil
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var errs []error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
