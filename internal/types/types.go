package types

import "time"

// Priority scores for result items. Higher scores survive reduction longer.
// Operations tag each item before handing the batch to the response shaper.
const (
	PriorityDefinition     = 3.0
	PriorityWriteReference = 2.0
	PriorityReadReference  = 1.0
	PriorityContext        = 0.5
)

// CostFunc estimates the serialized token cost of a single result item.
type CostFunc func(item any) int

// PriorityFunc scores a result item for reduction ordering.
type PriorityFunc func(item any) float64

// TokenBudget bounds the serialized size of a shaped response.
type TokenBudget struct {
	// MaxTokens is the hard ceiling for the retained result set.
	MaxTokens int

	// MinUseful is the floor below which a response stops being worth
	// returning. The reducer never returns an empty set for non-empty
	// input; it returns the smallest candidate flagged hard-truncated
	// instead.
	MinUseful int
}

// ReducedResponse is the output of progressive reduction: the retained
// prefix of a priority-ordered batch plus enough metadata for the caller
// to ask for more.
type ReducedResponse struct {
	Items          []any  `json:"items"`
	WasReduced     bool   `json:"was_reduced"`
	HardTruncated  bool   `json:"hard_truncated,omitempty"`
	RetainedTokens int    `json:"retained_tokens"`
	TotalCount     int    `json:"total_count"`
	RetainedCount  int    `json:"retained_count"`
	ResourceURI    string `json:"resource_uri,omitempty"`
	Continuation   string `json:"continuation,omitempty"`
}

// ProjectInfo is an observability snapshot of one cached project handle.
type ProjectInfo struct {
	Root           string    `json:"root"`
	Generation     uint64    `json:"generation"`
	LoadedAt       time.Time `json:"loaded_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	OpenDocuments  int       `json:"open_documents"`
	InFlight       int       `json:"in_flight"`
	Closed         bool      `json:"closed,omitempty"`
}

// DocumentInfo describes the freshness state of one tracked document.
type DocumentInfo struct {
	Path         string    `json:"path"`
	VersionToken uint64    `json:"version_token"`
	ModTime      time.Time `json:"mod_time"`
	Generation   uint64    `json:"generation"`
	ForcedStale  bool      `json:"forced_stale,omitempty"`
}
