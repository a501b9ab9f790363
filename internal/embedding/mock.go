package embedding

import (
	"context"
	"errors"
	"math"
)

var errMockEmbedFailure = errors.New("simulated embedding failure")

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// unit vector derived from the text hash so that the same text always gets the
// same embedding and self-similarity is maximal.
type MockEmbedder struct {
	dimensions int
	failOn     map[string]bool
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// FailOn makes Embed return an error for the given text. Used to test batch rejection.
func (e *MockEmbedder) FailOn(text string) {
	if e.failOn == nil {
		e.failOn = make(map[string]bool)
	}
	e.failOn[text] = true
}

// Embed returns a deterministic unit-length embedding based on the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failOn[text] {
		return nil, errMockEmbedFailure
	}
	h := hashString(text)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	var sum float64
	for _, v := range emb {
		sum += float64(v * v)
	}
	if sum > 0 {
		norm := 1.0 / math.Sqrt(sum)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text; the whole batch fails on the first error.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockEmbedder) Close() error {
	return nil
}

// hashString returns a deterministic hash of s.
func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
