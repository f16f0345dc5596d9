package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestLoadError(t *testing.T) {
	underlying := errors.New("msbuild exited with code 1")
	err := NewLoadError("/work/payments", underlying)

	if err.Type != ErrorTypeLoad {
		t.Errorf("Expected Type to be ErrorTypeLoad, got %v", err.Type)
	}

	if err.Root != "/work/payments" {
		t.Errorf("Expected Root to be '/work/payments', got %s", err.Root)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := "load failed for project /work/payments: msbuild exited with code 1"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestStaleHandle(t *testing.T) {
	err := NewStaleHandle("/work/payments", 3, 5)

	if err.Type != ErrorTypeStaleHandle {
		t.Errorf("Expected Type to be ErrorTypeStaleHandle, got %v", err.Type)
	}

	if !IsStaleHandle(err) {
		t.Errorf("Expected IsStaleHandle to report true")
	}

	wrapped := fmt.Errorf("query failed: %w", err)
	if !IsStaleHandle(wrapped) {
		t.Errorf("Expected IsStaleHandle to see through wrapping")
	}

	if IsHandleClosed(err) {
		t.Errorf("Expected IsHandleClosed to report false for a stale handle")
	}
}

func TestHandleClosed(t *testing.T) {
	err := NewHandleClosed("/work/payments")

	if !IsHandleClosed(err) {
		t.Errorf("Expected IsHandleClosed to report true")
	}

	if IsStaleHandle(err) {
		t.Errorf("Expected IsStaleHandle to report false for a closed handle")
	}
}

func TestProjectNotLoaded(t *testing.T) {
	err := NewProjectNotLoaded("/work/payments")

	if !IsProjectNotLoaded(err) {
		t.Errorf("Expected IsProjectNotLoaded to report true")
	}

	if err.Underlying != nil {
		t.Errorf("Expected no underlying error, got %v", err.Underlying)
	}
}

func TestDocumentNotFound(t *testing.T) {
	underlying := errors.New("no such file or directory")
	err := NewDocumentNotFound("stat", "/work/payments/Missing.cs", underlying)

	if err.Type != ErrorTypeDocumentNotFound {
		t.Errorf("Expected Type to be ErrorTypeDocumentNotFound, got %v", err.Type)
	}

	if err.Path != "/work/payments/Missing.cs" {
		t.Errorf("Expected Path to be '/work/payments/Missing.cs', got %s", err.Path)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}

	expectedMsg := "document stat failed for /work/payments/Missing.cs: no such file or directory"
	if err.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, err.Error())
	}
}

func TestEstimationError(t *testing.T) {
	underlying := errors.New("cost function panicked")
	err := NewEstimationError(42, underlying)

	if err.ItemIndex != 42 {
		t.Errorf("Expected ItemIndex to be 42, got %d", err.ItemIndex)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}
}

func TestResourceErrors(t *testing.T) {
	unknown := NewResourceUnknown("keel://resource/nope")
	if !IsResourceUnknown(unknown) {
		t.Errorf("Expected IsResourceUnknown to report true")
	}
	if IsResourceExpired(unknown) {
		t.Errorf("Expected IsResourceExpired to report false for unknown URI")
	}

	expiredAt := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	expired := NewResourceExpired("keel://resource/old", expiredAt)
	if !IsResourceExpired(expired) {
		t.Errorf("Expected IsResourceExpired to report true")
	}
	if IsResourceUnknown(expired) {
		t.Errorf("Expected IsResourceUnknown to report false for expired URI")
	}

	expectedMsg := "resource keel://resource/old expired at 2026-05-01T12:00:00Z; re-run the original operation"
	if expired.Error() != expectedMsg {
		t.Errorf("Expected error message %q, got %q", expectedMsg, expired.Error())
	}
}

func TestConfigError(t *testing.T) {
	underlying := errors.New("MaxTokens must be positive, got 0")
	err := NewConfigError("budget", "0", underlying)

	if err.Field != "budget" {
		t.Errorf("Expected Field to be 'budget', got %s", err.Field)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected error to unwrap to underlying error")
	}
}

func TestPredicatesRejectForeignErrors(t *testing.T) {
	plain := errors.New("plain error")

	predicates := map[string]func(error) bool{
		"IsStaleHandle":      IsStaleHandle,
		"IsHandleClosed":     IsHandleClosed,
		"IsProjectNotLoaded": IsProjectNotLoaded,
		"IsResourceExpired":  IsResourceExpired,
		"IsResourceUnknown":  IsResourceUnknown,
	}
	for name, pred := range predicates {
		if pred(plain) {
			t.Errorf("Expected %s to report false for a plain error", name)
		}
		if pred(nil) {
			t.Errorf("Expected %s to report false for nil", name)
		}
	}
}
