package errors_test

import (
	"context"
	stdErrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/NamanBalaji/prepfetch/internal/errors"
)

func TestDownloadErrorError(t *testing.T) {
	baseErr := stdErrors.New("underlying error")
	de := &errors.DownloadError{
		Err:       baseErr,
		Kind:      errors.KindIO,
		Offset:    errors.NoOffset,
		Timestamp: time.Now(),
		URL:       "file.txt",
	}
	expected := "[IO] file.txt: underlying error"
	if de.Error() != expected {
		t.Errorf("expected %q, got %q", expected, de.Error())
	}

	de2 := &errors.DownloadError{
		Err:        stdErrors.New("server error"),
		Kind:       errors.KindTransient,
		Artifact:   "core/content",
		URL:        "http://example.com/core.zim",
		StatusCode: 503,
		Offset:     4194304,
		Timestamp:  time.Now(),
	}
	expected2 := "[TRANSIENT] core/content http://example.com/core.zim (status: 503) (offset: 4194304): server error"
	if de2.Error() != expected2 {
		t.Errorf("expected %q, got %q", expected2, de2.Error())
	}
}

func TestDownloadErrorUnwrap(t *testing.T) {
	baseErr := stdErrors.New("base error")
	de := errors.NewTransient(baseErr, "resource")
	if !errors.Is(de, baseErr) {
		t.Errorf("expected underlying error %v, got %v", baseErr, stdErrors.Unwrap(de))
	}
}

func TestNewHTTPError(t *testing.T) {
	tests := []struct {
		status int
		kind   errors.Kind
	}{
		{500, errors.KindTransient},
		{503, errors.KindTransient},
		{429, errors.KindTransient},
		{501, errors.KindPermanent},
		{404, errors.KindPermanent},
		{416, errors.KindPermanent},
	}

	for _, tt := range tests {
		de := errors.NewHTTPError(stdErrors.New("status"), "http://example.com", tt.status)
		if de.Kind != tt.kind {
			t.Errorf("status %d: expected kind %s, got %s", tt.status, tt.kind, de.Kind)
		}
		if code, ok := errors.GetStatusCode(de); !ok || code != tt.status {
			t.Errorf("status %d: GetStatusCode returned %d, %v", tt.status, code, ok)
		}
	}
}

func TestKindPredicates(t *testing.T) {
	base := stdErrors.New("boom")

	if !errors.IsTransient(errors.NewTransient(base, "u")) {
		t.Error("expected transient")
	}
	if !errors.IsPermanent(errors.NewPermanent(base, "u")) {
		t.Error("expected permanent")
	}
	if !errors.IsIntegrity(errors.NewIntegrityError("f", "aa", "bb")) {
		t.Error("expected integrity")
	}
	if !errors.IsLedgerCorruption(errors.NewLedgerCorruption(base, "f.ledger")) {
		t.Error("expected ledger corruption")
	}
	if !errors.IsConflict(errors.NewConcurrencyConflict(base, "f.ledger")) {
		t.Error("expected concurrency conflict")
	}
	if !errors.IsIO(errors.NewIOError(base, "f")) {
		t.Error("expected io")
	}
	if errors.IsTransient(base) || errors.IsPermanent(nil) {
		t.Error("plain and nil errors must not be classified")
	}
}

func TestKindOfWrapped(t *testing.T) {
	wrapped := fmt.Errorf("chunk 2: %w", errors.NewPermanent(stdErrors.New("gone"), "u"))
	if errors.KindOf(wrapped) != errors.KindPermanent {
		t.Errorf("expected PERMANENT through wrapping, got %s", errors.KindOf(wrapped))
	}
	if errors.KindOf(stdErrors.New("plain")) != errors.KindUnknown {
		t.Error("expected UNKNOWN for plain errors")
	}
	if errors.KindOf(nil) != "" {
		t.Error("expected empty kind for nil")
	}
}

func TestIsCancelled(t *testing.T) {
	if !errors.IsCancelled(context.Canceled) {
		t.Error("bare context.Canceled should count as cancelled")
	}
	if !errors.IsCancelled(fmt.Errorf("wrap: %w", context.DeadlineExceeded)) {
		t.Error("wrapped deadline should count as cancelled")
	}
	if !errors.IsCancelled(errors.NewCancelled(context.Canceled, "u")) {
		t.Error("classified cancellation should count")
	}
	if errors.IsCancelled(errors.NewTransient(stdErrors.New("x"), "u")) {
		t.Error("transient must not count as cancelled")
	}
}

func TestWithArtifactAndOffset(t *testing.T) {
	de := errors.NewPermanent(stdErrors.New("range changed"), "http://example.com")
	wrapped := fmt.Errorf("fetch: %w", de)

	got := errors.WithOffset(errors.WithArtifact(wrapped, "core/content"), 8)
	if got != wrapped {
		t.Error("annotating a chain that contains a DownloadError should keep the outer error")
	}
	if de.Artifact != "core/content" || de.Offset != 8 {
		t.Errorf("fields not set: artifact=%q offset=%d", de.Artifact, de.Offset)
	}

	plain := errors.WithArtifact(stdErrors.New("plain"), "core/index")
	if errors.KindOf(plain) != errors.KindUnknown {
		t.Errorf("expected UNKNOWN wrapper, got %s", errors.KindOf(plain))
	}

	cancelled := errors.WithArtifact(context.Canceled, "core/index")
	if errors.KindOf(cancelled) != errors.KindCancelled {
		t.Errorf("expected CANCELLED wrapper, got %s", errors.KindOf(cancelled))
	}

	if errors.WithArtifact(nil, "x") != nil {
		t.Error("nil must stay nil")
	}
}
