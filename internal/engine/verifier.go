package engine

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/datallboy/manifetch/internal/domain"
)

const verifyChunkSize = 8 * 1024

// Verifier streams a file through the run's digest and compares the result
// with the manifest value.
type Verifier struct {
	newHash func() hash.Hash
}

// NewVerifier returns a verifier for the named digest (sha1 or sha256).
func NewVerifier(digest string) (*Verifier, error) {
	switch strings.ToLower(digest) {
	case "", "sha1":
		return &Verifier{newHash: sha1.New}, nil
	case "sha256":
		return &Verifier{newHash: sha256.New}, nil
	default:
		return nil, fmt.Errorf("unsupported digest %q", digest)
	}
}

// Verify returns nil when the file at path hashes to expectedHex. Any read
// failure or mismatch comes back as a *domain.VerificationError.
func (v *Verifier) Verify(path, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return &domain.VerificationError{Path: path, Err: err}
	}
	defer f.Close()

	h := v.newHash()
	buf := make([]byte, verifyChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return &domain.VerificationError{Path: path, Err: err}
		}
	}

	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, strings.TrimSpace(expectedHex)) {
		return &domain.VerificationError{
			Path: path,
			Err:  fmt.Errorf("%w: got %s, want %s", domain.ErrChecksumMismatch, got, expectedHex),
		}
	}
	return nil
}
