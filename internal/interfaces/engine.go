package interfaces

import "context"

// EngineHandle is an opaque reference to a project model loaded by the
// external engine. Only the engine that produced a handle can interpret it.
type EngineHandle interface{}

// Edit is a single text replacement inside one document.
type Edit struct {
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	NewText   string `json:"new_text"`
}

// QueryRequest is a request against a loaded project model. Kind selects
// the operation (definition, references, diagnostics, ...); the remaining
// fields are interpreted by the engine.
type QueryRequest struct {
	Kind   string         `json:"kind"`
	Path   string         `json:"path,omitempty"`
	Symbol string         `json:"symbol,omitempty"`
	Line   int            `json:"line,omitempty"`
	Col    int            `json:"col,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// QueryResult is the raw, unconstrained output of a query. Items are
// engine-defined; the response shaper only needs their serialized size
// and a priority score.
type QueryResult struct {
	Items []any `json:"items"`
}

// Engine is the external code-model engine. It owns all semantic
// understanding of source files; this layer only manages the lifecycle of
// the handles it hands out. Implementations must be safe for concurrent
// use and must honor context cancellation on every call.
type Engine interface {
	// LoadProject builds a project model for the given root identifier
	// (absolute path to a project or solution descriptor).
	LoadProject(ctx context.Context, rootIdentifier string) (EngineHandle, error)

	// Unload releases a project model. Idempotent.
	Unload(ctx context.Context, handle EngineHandle) error

	// GetDocument returns the engine's current text for a document.
	GetDocument(ctx context.Context, handle EngineHandle, path string) (string, error)

	// SetDocumentText replaces the engine's view of a document. The
	// version token identifies the pushed content so later pushes of
	// identical content can be skipped.
	SetDocumentText(ctx context.Context, handle EngineHandle, path, text string, versionToken uint64) error

	// ApplyEdit applies a single edit to a document inside the model.
	ApplyEdit(ctx context.Context, handle EngineHandle, path string, edit Edit) error

	// Query runs an analysis request against the model.
	Query(ctx context.Context, handle EngineHandle, req QueryRequest) (QueryResult, error)
}
