// Package embedding provides text embedding via an Ollama-compatible HTTP
// endpoint, with an LRU cache and a deterministic mock for tests.
package embedding

import "context"

// Embedder produces vector embeddings for text. Implementations must be
// deterministic for identical input and model configuration; the vector store
// relies on that to keep rebuilt indices equivalent.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}
