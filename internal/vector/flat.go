package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FlatIndex is an in-memory flat index using brute-force inner product search.
// Vectors are expected to be unit-normalized so that inner product equals
// cosine similarity.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates a flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Add appends vectors in order. All vectors are validated before any is
// appended, so a dimension mismatch leaves the index unchanged.
func (f *FlatIndex) Add(ctx context.Context, vectors [][]float32) error {
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector %d dimension mismatch: got %d, expected %d", i, len(vec), f.dimensions)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, vec := range vectors {
		cp := make([]float32, f.dimensions)
		copy(cp, vec)
		f.vectors = append(f.vectors, cp)
	}
	return nil
}

// Search returns up to k candidates by descending inner product. Ties are
// broken by ascending position so results are stable across calls.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Candidate, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return nil, nil
	}
	candidates := make([]Candidate, len(f.vectors))
	for pos, vec := range f.vectors {
		var dot float64
		for j := 0; j < f.dimensions; j++ {
			dot += float64(query[j] * vec[j])
		}
		candidates[pos] = Candidate{Position: pos, Score: dot}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if k > len(candidates) {
		k = len(candidates)
	}
	return candidates[:k], nil
}

// VectorAt returns a copy of the vector stored at position.
func (f *FlatIndex) VectorAt(position int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if position < 0 || position >= len(f.vectors) {
		return nil, fmt.Errorf("position %d out of range [0,%d)", position, len(f.vectors))
	}
	cp := make([]float32, f.dimensions)
	copy(cp, f.vectors[position])
	return cp, nil
}

// Truncate discards vectors at positions >= n. Used to roll back a failed append.
func (f *FlatIndex) Truncate(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n < 0 || n >= len(f.vectors) {
		return
	}
	f.vectors = f.vectors[:n]
}

// Size returns the number of vectors in the index.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Save persists the index to path. Directory is created if needed.
// Format: dimensions (4), count (4), then count vectors of dimensions*4 bytes,
// little-endian.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer file.Close()
	if err := binary.Write(file, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(file, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, vec := range f.vectors {
		if _, err := file.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads the index from path and replaces the in-memory contents.
// Dimensions must match. If the file does not exist, no error is returned and
// the index is unchanged.
func (f *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer file.Close()
	var dim, n uint32
	if err := binary.Read(file, binary.LittleEndian, &dim); err != nil {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != f.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, f.dimensions)
	}
	if err := binary.Read(file, binary.LittleEndian, &n); err != nil {
		return fmt.Errorf("read count: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors = make([][]float32, 0, n)
	buf := make([]byte, f.dimensions*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(file, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		f.vectors = append(f.vectors, bytesToFloat32Slice(buf))
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
