package vectorstore

import (
	"errors"
	"fmt"
)

// ErrCorruptIndex indicates the persisted index/ledger pair is inconsistent.
// The store refuses to serve until the pair is repaired or rebuilt from
// source documents; silently truncating would corrupt citations.
var ErrCorruptIndex = errors.New("vector store: persisted index and ledger are inconsistent")

// EmbeddingError wraps an embedding failure. The whole batch it belonged to
// was rejected; nothing was partially committed.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}
