// Package vectorstore composes the embedder, the flat vector index, and the
// metadata ledger into a searchable, deletable, rebuildable chunk collection.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/vector"
)

const (
	indexFileName  = "index.bin"
	ledgerFileName = "ledger.json"
)

// Store owns the vector index and the metadata ledger and is their sole
// mutator. The two are always the same length and change only in lock-step:
// an insertion appends to both, a rebuild replaces both atomically.
type Store struct {
	embedder   embedding.Embedder
	indexPath  string
	ledgerPath string

	autoCompactRatio float64
	logger           *zap.Logger

	mu         sync.RWMutex
	index      *vector.FlatIndex
	ledger     []models.ChunkRecord
	tombstones int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithAutoCompact enables automatic background rebuilds when the tombstone
// ratio exceeds ratio after a delete. 0 disables.
func WithAutoCompact(ratio float64) StoreOption {
	return func(s *Store) { s.autoCompactRatio = ratio }
}

// NewStore opens (or creates) the store persisted under dir. The index and
// ledger are loaded as a pair; if only one exists, or their lengths disagree,
// NewStore fails with ErrCorruptIndex rather than silently truncating.
func NewStore(embedder embedding.Embedder, dir string, opts ...StoreOption) (*Store, error) {
	idx, err := vector.NewFlatIndex(embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	s := &Store{
		embedder:   embedder,
		indexPath:  filepath.Join(dir, indexFileName),
		ledgerPath: filepath.Join(dir, ledgerFileName),
		index:      idx,
		ledger:     []models.ChunkRecord{},
	}
	for _, opt := range opts {
		opt(s)
	}

	records, ledgerExists, err := loadLedger(s.ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	indexExists := false
	if _, err := os.Stat(s.indexPath); err == nil {
		indexExists = true
	}
	if indexExists != ledgerExists {
		return nil, fmt.Errorf("%w: index present=%v, ledger present=%v", ErrCorruptIndex, indexExists, ledgerExists)
	}
	if indexExists {
		if err := s.index.Load(s.indexPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
		}
		if s.index.Size() != len(records) {
			return nil, fmt.Errorf("%w: index has %d vectors, ledger has %d records",
				ErrCorruptIndex, s.index.Size(), len(records))
		}
		s.ledger = records
		s.tombstones = countTombstones(records)
	}
	return s, nil
}

// AddChunks embeds chunks and appends one record per chunk, in input order.
// The whole batch is rejected on any embedding failure; nothing is partially
// committed. Returns the number of chunks added.
func (s *Store) AddChunks(ctx context.Context, docID, docName string, chunks []string) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	// Embedding is the slow external call; do it before taking the write lock.
	vectors, err := s.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, &EmbeddingError{Err: err}
	}
	if len(vectors) != len(chunks) {
		return 0, &EmbeddingError{Err: fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.index.Size()
	if err := s.index.Add(ctx, vectors); err != nil {
		return 0, &EmbeddingError{Err: err}
	}
	for i, chunk := range chunks {
		s.ledger = append(s.ledger, models.ChunkRecord{
			DocID:    docID,
			DocName:  docName,
			Text:     chunk,
			Position: start + i,
		})
	}
	if err := s.persistLocked(); err != nil {
		s.index.Truncate(start)
		s.ledger = s.ledger[:start]
		return 0, err
	}
	if s.logger != nil {
		s.logger.Debug("chunks added",
			zap.String("doc_id", docID), zap.Int("count", len(chunks)), zap.Int("total", s.index.Size()))
	}
	return len(chunks), nil
}

// DeleteDoc marks every record of docID as deleted. Idempotent: deleting an
// unknown or already-deleted document is a no-op. Space is reclaimed only by
// Rebuild. Returns the number of records newly tombstoned.
func (s *Store) DeleteDoc(ctx context.Context, docID string) (int, error) {
	s.mu.Lock()
	removed := 0
	for i := range s.ledger {
		if s.ledger[i].DocID == docID && !s.ledger[i].Deleted {
			s.ledger[i].Deleted = true
			removed++
		}
	}
	if removed == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.tombstones += removed
	err := s.persistLocked()
	needCompact := err == nil && s.autoCompactRatio > 0 && s.index.Size() > 0 &&
		float64(s.tombstones)/float64(s.index.Size()) > s.autoCompactRatio
	s.mu.Unlock()

	if err != nil {
		return removed, err
	}
	if s.logger != nil {
		s.logger.Debug("document deleted", zap.String("doc_id", docID), zap.Int("tombstoned", removed))
	}
	if needCompact {
		go s.compact()
	}
	return removed, nil
}

func (s *Store) compact() {
	if _, err := s.Rebuild(context.Background()); err != nil && s.logger != nil {
		s.logger.Error("automatic compaction failed", zap.Error(err))
	}
}

// Search embeds query and returns up to k live hits ordered by descending
// similarity. The index is over-fetched by the tombstone count so deleted
// entries filtered out afterwards cannot under-fill the result.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	size := s.index.Size()
	if size == 0 {
		return nil, nil
	}
	fetch := k + s.tombstones
	if fetch > size {
		fetch = size
	}
	candidates, err := s.index.Search(ctx, queryVec, fetch)
	if err != nil {
		return nil, err
	}

	hits := make([]models.SearchHit, 0, k)
	for _, cand := range candidates {
		rec := s.ledger[cand.Position]
		if rec.Deleted {
			continue
		}
		hits = append(hits, models.SearchHit{
			DocID:    rec.DocID,
			DocName:  rec.DocName,
			Text:     rec.Text,
			Position: rec.Position,
			Score:    cand.Score,
		})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// Rebuild constructs a fresh index/ledger pair containing only live records,
// preserving their relative order, and swaps it in atomically. This is the
// only operation that reclaims tombstoned space. Returns the live count.
// Vectors are copied from the existing index rather than re-embedded; the
// embedder is deterministic, so the stored vector is already canonical.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newIndex, err := vector.NewFlatIndex(s.embedder.Dimensions())
	if err != nil {
		return 0, err
	}
	newLedger := make([]models.ChunkRecord, 0, len(s.ledger)-s.tombstones)
	vectors := make([][]float32, 0, len(s.ledger)-s.tombstones)
	for _, rec := range s.ledger {
		if rec.Deleted {
			continue
		}
		vec, err := s.index.VectorAt(rec.Position)
		if err != nil {
			return 0, fmt.Errorf("rebuild: %w", err)
		}
		vectors = append(vectors, vec)
		rec.Position = len(newLedger)
		newLedger = append(newLedger, rec)
	}
	if err := newIndex.Add(ctx, vectors); err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}

	oldIndex, oldLedger, oldTombstones := s.index, s.ledger, s.tombstones
	s.index, s.ledger, s.tombstones = newIndex, newLedger, 0
	if err := s.persistLocked(); err != nil {
		s.index, s.ledger, s.tombstones = oldIndex, oldLedger, oldTombstones
		return 0, err
	}
	if s.logger != nil {
		s.logger.Debug("index rebuilt", zap.Int("live", len(newLedger)))
	}
	return len(newLedger), nil
}

// persistLocked saves the index/ledger pair. Callers must hold mu.
func (s *Store) persistLocked() error {
	if err := s.index.Save(s.indexPath); err != nil {
		return err
	}
	return saveLedger(s.ledgerPath, s.ledger)
}

// TotalVectors returns the index size including tombstoned entries.
func (s *Store) TotalVectors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size()
}

// LiveVectors returns the number of non-deleted records.
func (s *Store) LiveVectors() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Size() - s.tombstones
}

// HasDocuments reports whether any live chunks exist.
func (s *Store) HasDocuments() bool {
	return s.LiveVectors() > 0
}
