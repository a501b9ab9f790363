// Package vector provides an append-only, position-addressable vector index
// with brute-force inner-product search.
package vector

import "context"

// Candidate is a single raw index hit. Position is the vector's slot in
// insertion order; callers map positions to their own metadata.
type Candidate struct {
	Position int
	Score    float64 // Inner product; equals cosine similarity for unit vectors.
}

// Index defines vector storage and similarity search. Entries are addressed
// by insertion position. The index itself never deletes anything; callers
// rebuild a fresh index to reclaim space.
type Index interface {
	Add(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Candidate, error)
	VectorAt(position int) ([]float32, error)
	Size() int
	Save(path string) error
	Load(path string) error
}
