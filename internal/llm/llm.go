// Package llm provides the language-model calls used by the retrieval
// pipeline: relevance grading, query rewriting, and answer generation.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client is the language-model contract consumed by the pipeline. All three
// calls may fail with a *TransientError (retryable) or a plain error
// (malformed input or output, not worth retrying).
type Client interface {
	// Grade scores the topical relevance of chunk to query in [0,1].
	Grade(ctx context.Context, query, chunk string) (float64, error)
	// Rewrite reformulates the query to better match document terminology.
	Rewrite(ctx context.Context, original, current string, chunks []string) (string, error)
	// Generate produces a grounded answer to query from the context blocks.
	Generate(ctx context.Context, query string, contextBlocks []string) (string, error)
}

// TransientError wraps a failure that is worth retrying: network errors,
// timeouts, and 5xx responses from the model endpoint.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient model error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
