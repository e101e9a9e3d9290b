package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
	Join   = errors.Join
)

// Kind classifies a download failure by what the caller should do about it.
type Kind string

const (
	KindTransient           Kind = "TRANSIENT"            // Retry with backoff
	KindPermanent           Kind = "PERMANENT"            // Retrying cannot succeed
	KindIntegrity           Kind = "INTEGRITY"            // Digest mismatch
	KindLedgerCorruption    Kind = "LEDGER_CORRUPTION"    // Unparseable resume state
	KindConcurrencyConflict Kind = "CONCURRENCY_CONFLICT" // Destination locked by another attempt
	KindCancelled           Kind = "CANCELLED"            // Context cancellation or overall timeout
	KindIO                  Kind = "IO"                   // Local file system failure
	KindUnknown             Kind = "UNKNOWN"
)

// NoOffset marks an error that is not tied to a byte position.
const NoOffset int64 = -1

// DownloadError represents an error that occurred while materializing an artifact.
type DownloadError struct {
	Err        error     // Original error
	Kind       Kind      // What the caller should do
	Artifact   string    // module/name of the artifact, if known
	URL        string    // Remote location or local path being accessed
	Offset     int64     // Byte offset of the failing chunk, NoOffset if not applicable
	StatusCode int       // HTTP status code, 0 if none
	Timestamp  time.Time // When the error occurred
}

// Error implements the error interface
func (e *DownloadError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s]", e.Kind)

	if e.Artifact != "" {
		fmt.Fprintf(&b, " %s", e.Artifact)
	}

	if e.URL != "" {
		fmt.Fprintf(&b, " %s", e.URL)
	}

	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status: %d)", e.StatusCode)
	}

	if e.Offset != NoOffset {
		fmt.Fprintf(&b, " (offset: %d)", e.Offset)
	}

	fmt.Fprintf(&b, ": %v", e.Err)

	return b.String()
}

// Unwrap provides the underlying cause for error unwrapping (compatible with errors.As)
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrInvalidURL       = New("invalid URL")
	ErrDigestMismatch   = New("digest mismatch")
	ErrDestinationInUse = New("destination is locked by another download")
	ErrLedgerUnreadable = New("ledger is unreadable")
	ErrAborted          = New("aborted")
)

func newError(kind Kind, err error, url string) *DownloadError {
	return &DownloadError{
		Err:       err,
		Kind:      kind,
		URL:       url,
		Offset:    NoOffset,
		Timestamp: time.Now(),
	}
}

// NewTransient creates an error that the retry policy may retry.
func NewTransient(err error, url string) *DownloadError {
	return newError(KindTransient, err, url)
}

// NewPermanent creates an error that aborts the artifact immediately.
func NewPermanent(err error, url string) *DownloadError {
	return newError(KindPermanent, err, url)
}

// NewHTTPError classifies a status code into a transient or permanent error.
func NewHTTPError(err error, url string, statusCode int) *DownloadError {
	kind := KindPermanent
	if statusCode >= 500 && statusCode != 501 || statusCode == 429 {
		kind = KindTransient
	}

	e := newError(kind, err, url)
	e.StatusCode = statusCode

	return e
}

// NewIntegrityError reports a digest mismatch for a local file.
func NewIntegrityError(path, expected, actual string) *DownloadError {
	return newError(KindIntegrity, fmt.Errorf("%w: expected %s, got %s", ErrDigestMismatch, expected, actual), path)
}

// NewLedgerCorruption reports ledger state that could not be parsed.
func NewLedgerCorruption(err error, path string) *DownloadError {
	return newError(KindLedgerCorruption, fmt.Errorf("%w: %w", ErrLedgerUnreadable, err), path)
}

// NewConcurrencyConflict reports a destination owned by another attempt.
func NewConcurrencyConflict(err error, path string) *DownloadError {
	return newError(KindConcurrencyConflict, fmt.Errorf("%w: %w", ErrDestinationInUse, err), path)
}

// NewCancelled wraps a context error.
func NewCancelled(err error, url string) *DownloadError {
	return newError(KindCancelled, err, url)
}

// NewIOError creates an I/O related error
func NewIOError(err error, path string) *DownloadError {
	return newError(KindIO, err, path)
}

// KindOf returns the kind of the outermost DownloadError in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var downloadErr *DownloadError
	if As(err, &downloadErr) {
		return downloadErr.Kind
	}

	return KindUnknown
}

func IsTransient(err error) bool { return KindOf(err) == KindTransient }

func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }

func IsIntegrity(err error) bool { return KindOf(err) == KindIntegrity }

func IsLedgerCorruption(err error) bool { return KindOf(err) == KindLedgerCorruption }

func IsConflict(err error) bool { return KindOf(err) == KindConcurrencyConflict }

func IsIO(err error) bool { return KindOf(err) == KindIO }

// IsCancelled reports cancellation either as a classified error or a bare context error.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled || isContextErr(err)
}

// WithArtifact records which artifact produced the error. Plain errors are wrapped as unknown.
func WithArtifact(err error, artifact string) error {
	return annotate(err, func(e *DownloadError) { e.Artifact = artifact })
}

// WithOffset records the byte offset of the chunk being processed.
func WithOffset(err error, offset int64) error {
	return annotate(err, func(e *DownloadError) { e.Offset = offset })
}

func annotate(err error, set func(*DownloadError)) error {
	if err == nil {
		return nil
	}

	var downloadErr *DownloadError
	if As(err, &downloadErr) {
		set(downloadErr)
		return err
	}

	kind := KindUnknown
	if isContextErr(err) {
		kind = KindCancelled
	}

	downloadErr = newError(kind, err, "")
	set(downloadErr)

	return downloadErr
}

// GetStatusCode extracts the status code from an error if available
func GetStatusCode(err error) (int, bool) {
	var downloadErr *DownloadError
	if As(err, &downloadErr) && downloadErr.StatusCode != 0 {
		return downloadErr.StatusCode, true
	}

	return 0, false
}

func isContextErr(err error) bool {
	return Is(err, context.Canceled) || Is(err, context.DeadlineExceeded)
}
