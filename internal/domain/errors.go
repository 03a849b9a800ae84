package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStopped is returned by a transfer that observed the stop signal.
	ErrStopped = errors.New("run stopped")

	// ErrChecksumMismatch indicates the digest of a file did not match the manifest
	ErrChecksumMismatch = errors.New("checksum mismatch")

	ErrRunActive    = errors.New("a run is already in progress")
	ErrNoRun        = errors.New("no run has been started")
	ErrMissingField = errors.New("missing required field")
)

// TransferError covers network failures and non-2xx responses.
type TransferError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transfer %s: %v", e.URL, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// VerificationError covers digest mismatches and unreadable files.
type VerificationError struct {
	Path string
	Err  error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify %s: %v", e.Path, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// ManifestError points at a malformed descriptor. Index is the position in
// the manifest, or -1 when the document itself could not be read.
type ManifestError struct {
	Index int
	Field string
	Err   error
}

func (e *ManifestError) Error() string {
	switch {
	case e.Index < 0:
		return fmt.Sprintf("manifest: %v", e.Err)
	case e.Field != "":
		return fmt.Sprintf("manifest entry %d: %s: %v", e.Index, e.Field, e.Err)
	default:
		return fmt.Sprintf("manifest entry %d: %v", e.Index, e.Err)
	}
}

func (e *ManifestError) Unwrap() error { return e.Err }

// FilesystemError is raised when the output tree cannot be prepared.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem %s: %v", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
