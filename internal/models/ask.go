package models

import "fmt"

// TerminalReasonNoRelevantChunks marks an answer produced after the rewrite
// budget was exhausted without finding any relevant chunks.
const TerminalReasonNoRelevantChunks = "no_relevant_chunks"

// AskRequest is a retrieval-augmented question. Zero values for TopK and
// GradeThreshold mean "use the configured default"; MaxRewrites is a pointer
// so that an explicit 0 (no rewrites) is distinguishable from unset.
type AskRequest struct {
	Query          string  `json:"query"`
	TopK           int     `json:"top_k,omitempty"`
	MaxRewrites    *int    `json:"max_rewrites,omitempty"`
	GradeThreshold float64 `json:"grade_threshold,omitempty"`
}

// Validate ensures the request has valid fields and normalizes limits.
func (r *AskRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if r.TopK < 0 {
		return fmt.Errorf("top_k cannot be negative")
	}
	if r.TopK > 50 {
		r.TopK = 50
	}
	if r.MaxRewrites != nil && *r.MaxRewrites < 0 {
		return fmt.Errorf("max_rewrites cannot be negative")
	}
	if r.GradeThreshold < 0 || r.GradeThreshold > 1 {
		return fmt.Errorf("grade_threshold must be in [0,1]")
	}
	return nil
}

// AskResult is the outcome of one pipeline run.
type AskResult struct {
	Answer string `json:"answer"`
	// Sources holds one citation per relevant chunk, "{doc_name} (chunk #{position})".
	Sources []string `json:"sources"`
	// RewrittenQuery is the last query used when it differs from the original,
	// otherwise empty.
	RewrittenQuery string `json:"rewritten_query"`
	ChunkCount     int    `json:"chunk_count"`
	TerminalReason string `json:"terminal_reason,omitempty"`
	QueryTime      int64  `json:"query_time_ms"`
}
