package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error types for the keel infrastructure layer
type ErrorType string

const (
	// Workspace errors
	ErrorTypeProjectNotLoaded ErrorType = "project_not_loaded"
	ErrorTypeLoad             ErrorType = "load"
	ErrorTypeStaleHandle      ErrorType = "stale_handle"
	ErrorTypeHandleClosed     ErrorType = "handle_closed"

	// Document errors
	ErrorTypeDocumentNotFound ErrorType = "document_not_found"

	// Response shaping errors
	ErrorTypeEstimation ErrorType = "estimation"

	// Resource store errors
	ErrorTypeResourceUnknown ErrorType = "resource_unknown"
	ErrorTypeResourceExpired ErrorType = "resource_expired"
)

// ProjectError represents a workspace lifecycle failure for one root.
type ProjectError struct {
	Type       ErrorType
	Root       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewProjectNotLoaded reports that no handle exists for a root and no
// auto-load was requested or succeeded.
func NewProjectNotLoaded(root string) *ProjectError {
	return &ProjectError{
		Type:      ErrorTypeProjectNotLoaded,
		Root:      root,
		Operation: "acquire",
		Timestamp: time.Now(),
	}
}

// NewLoadError wraps an engine construction failure. The engine's
// diagnostic text is preserved via Unwrap, never swallowed.
func NewLoadError(root string, err error) *ProjectError {
	return &ProjectError{
		Type:       ErrorTypeLoad,
		Root:       root,
		Operation:  "load",
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// NewStaleHandle reports a generation mismatch observed mid-operation.
func NewStaleHandle(root string, seen, current uint64) *ProjectError {
	return &ProjectError{
		Type:       ErrorTypeStaleHandle,
		Root:       root,
		Operation:  "generation check",
		Underlying: fmt.Errorf("handle generation %d, cache generation %d", seen, current),
		Timestamp:  time.Now(),
	}
}

// NewHandleClosed reports an operation that outlived the release of its
// project handle.
func NewHandleClosed(root string) *ProjectError {
	return &ProjectError{
		Type:      ErrorTypeHandleClosed,
		Root:      root,
		Operation: "use after close",
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *ProjectError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s failed for project %s: %v", e.Operation, e.Root, e.Underlying)
	}
	return fmt.Sprintf("%s failed for project %s: %s", e.Operation, e.Root, e.Type)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *ProjectError) Unwrap() error {
	return e.Underlying
}

// DocumentError represents a document-level failure.
type DocumentError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewDocumentNotFound reports a path outside the project or unreadable
// on disk.
func NewDocumentNotFound(op, path string, err error) *DocumentError {
	return &DocumentError{
		Type:       ErrorTypeDocumentNotFound,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *DocumentError) Unwrap() error {
	return e.Underlying
}

// EstimationError records a cost function failure. It is advisory: the
// shaper degrades to a conservative fixed estimate instead of failing the
// whole response, and attaches this error for diagnostics.
type EstimationError struct {
	Type       ErrorType
	ItemIndex  int
	Underlying error
	Timestamp  time.Time
}

// NewEstimationError creates a new estimation error
func NewEstimationError(index int, err error) *EstimationError {
	return &EstimationError{
		Type:       ErrorTypeEstimation,
		ItemIndex:  index,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *EstimationError) Error() string {
	return fmt.Sprintf("cost estimation failed for item %d: %v", e.ItemIndex, e.Underlying)
}

// Unwrap returns the underlying error
func (e *EstimationError) Unwrap() error {
	return e.Underlying
}

// ResourceError represents a resource store lookup failure. Expired and
// unknown are distinct so callers know whether to re-run the original
// operation or fix the URI.
type ResourceError struct {
	Type      ErrorType
	URI       string
	ExpiredAt time.Time
	Timestamp time.Time
}

// NewResourceUnknown reports a URI the store has never seen.
func NewResourceUnknown(uri string) *ResourceError {
	return &ResourceError{
		Type:      ErrorTypeResourceUnknown,
		URI:       uri,
		Timestamp: time.Now(),
	}
}

// NewResourceExpired reports a URI whose record outlived its TTL.
func NewResourceExpired(uri string, expiredAt time.Time) *ResourceError {
	return &ResourceError{
		Type:      ErrorTypeResourceExpired,
		URI:       uri,
		ExpiredAt: expiredAt,
		Timestamp: time.Now(),
	}
}

// Error implements the error interface
func (e *ResourceError) Error() string {
	if e.Type == ErrorTypeResourceExpired {
		return fmt.Sprintf("resource %s expired at %s; re-run the original operation", e.URI, e.ExpiredAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("resource %s unknown", e.URI)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// IsStaleHandle reports whether err is a stale-handle generation mismatch.
func IsStaleHandle(err error) bool {
	var pe *ProjectError
	return errors.As(err, &pe) && pe.Type == ErrorTypeStaleHandle
}

// IsHandleClosed reports whether err is a use-after-close failure.
func IsHandleClosed(err error) bool {
	var pe *ProjectError
	return errors.As(err, &pe) && pe.Type == ErrorTypeHandleClosed
}

// IsProjectNotLoaded reports whether err indicates a missing handle.
func IsProjectNotLoaded(err error) bool {
	var pe *ProjectError
	return errors.As(err, &pe) && pe.Type == ErrorTypeProjectNotLoaded
}

// IsResourceExpired reports whether err is an expired resource lookup.
func IsResourceExpired(err error) bool {
	var re *ResourceError
	return errors.As(err, &re) && re.Type == ErrorTypeResourceExpired
}

// IsResourceUnknown reports whether err is an unknown-URI lookup.
func IsResourceUnknown(err error) bool {
	var re *ResourceError
	return errors.As(err, &re) && re.Type == ErrorTypeResourceUnknown
}
