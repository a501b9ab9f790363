package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *embedding.MockEmbedder, string) {
	t.Helper()
	dir := t.TempDir()
	emb := embedding.NewMockEmbedder(32)
	s, err := NewStore(emb, dir, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return s, emb, dir
}

func TestStoreSelfRetrieval(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	chunks := []string{
		"Q3 revenue rose 10%.",
		"Unrelated notes about staffing.",
		"The office moved to a new building.",
	}
	n, err := s.AddChunks(ctx, "doc1", "report.pdf", chunks)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("added %d chunks", n)
	}

	for i, chunk := range chunks {
		hits, err := s.Search(ctx, chunk, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(hits) != 1 {
			t.Fatalf("chunk %d: got %d hits", i, len(hits))
		}
		if hits[0].Text != chunk {
			t.Errorf("chunk %d: top hit is %q", i, hits[0].Text)
		}
		if hits[0].Score < 0.99 {
			t.Errorf("chunk %d: self-similarity = %f", i, hits[0].Score)
		}
		if hits[0].Position != i {
			t.Errorf("chunk %d: position = %d", i, hits[0].Position)
		}
	}
}

func TestStoreDeleteDocFiltersAllQueries(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddChunks(ctx, "keep", "keep.txt", []string{"alpha text", "beta text"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunks(ctx, "gone", "gone.txt", []string{"gamma text", "delta text"}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.DeleteDoc(ctx, "gone")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d", removed)
	}
	// Idempotent: second delete is a no-op.
	removed, err = s.DeleteDoc(ctx, "gone")
	if err != nil || removed != 0 {
		t.Errorf("second delete: %d, %v", removed, err)
	}
	if _, err := s.DeleteDoc(ctx, "never-existed"); err != nil {
		t.Errorf("unknown doc delete: %v", err)
	}

	// The vectors are still physically present until rebuild.
	if s.TotalVectors() != 4 || s.LiveVectors() != 2 {
		t.Errorf("total=%d live=%d", s.TotalVectors(), s.LiveVectors())
	}

	for _, query := range []string{"gamma text", "delta text", "alpha text", "anything else"} {
		hits, err := s.Search(ctx, query, 10)
		if err != nil {
			t.Fatal(err)
		}
		for _, h := range hits {
			if h.DocID == "gone" {
				t.Errorf("query %q returned deleted doc", query)
			}
		}
	}
}

func TestStoreOverFetchPastTombstones(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	// Many deleted chunks in front of a few live ones; a naive top-k fetch
	// would return fewer than k live hits.
	var noisy []string
	for i := 0; i < 20; i++ {
		noisy = append(noisy, fmt.Sprintf("noise chunk %d", i))
	}
	if _, err := s.AddChunks(ctx, "noise", "noise.txt", noisy); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunks(ctx, "live", "live.txt", []string{"first live", "second live", "third live"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDoc(ctx, "noise"); err != nil {
		t.Fatal(err)
	}

	hits, err := s.Search(ctx, "live", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3 (over-fetch failed)", len(hits))
	}
}

func TestStoreRebuildIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddChunks(ctx, "a", "a.txt", []string{"one", "two", "three"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunks(ctx, "b", "b.txt", []string{"four", "five"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDoc(ctx, "a"); err != nil {
		t.Fatal(err)
	}

	before, err := s.Search(ctx, "four", 2)
	if err != nil {
		t.Fatal(err)
	}

	live, err := s.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if live != 2 {
		t.Errorf("live = %d", live)
	}
	if s.TotalVectors() != 2 {
		t.Errorf("total after rebuild = %d", s.TotalVectors())
	}

	// Positions compact: b's chunks now occupy 0 and 1, in relative order.
	hits, err := s.Search(ctx, "four", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Position != 0 || hits[0].Text != "four" {
		t.Errorf("hit = %+v", hits[0])
	}

	live2, err := s.Rebuild(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if live2 != live {
		t.Errorf("second rebuild live = %d, want %d", live2, live)
	}
	after, err := s.Search(ctx, "four", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("result count changed: %d vs %d", len(after), len(before))
	}
	for i := range after {
		if after[i].Text != before[i].Text {
			t.Errorf("result %d changed: %q vs %q", i, after[i].Text, before[i].Text)
		}
	}
}

func TestStoreNoPartialInsert(t *testing.T) {
	s, emb, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddChunks(ctx, "a", "a.txt", []string{"existing"}); err != nil {
		t.Fatal(err)
	}
	emb.FailOn("poison chunk")

	_, err := s.AddChunks(ctx, "b", "b.txt", []string{"fine", "poison chunk", "also fine"})
	if err == nil {
		t.Fatal("expected embedding failure")
	}
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Errorf("error type = %T", err)
	}
	if s.TotalVectors() != 1 {
		t.Errorf("ledger grew on failed batch: %d", s.TotalVectors())
	}
}

// shortBatchEmbedder silently drops the last vector of every batch.
type shortBatchEmbedder struct {
	*embedding.MockEmbedder
}

func (e *shortBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.MockEmbedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors[:len(vectors)-1], nil
}

func TestStoreRejectsShortEmbeddingBatch(t *testing.T) {
	dir := t.TempDir()
	emb := &shortBatchEmbedder{embedding.NewMockEmbedder(32)}
	s, err := NewStore(emb, dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = s.AddChunks(ctx, "doc", "doc.txt", []string{"one", "two", "three"})
	if err == nil {
		t.Fatal("expected error on short batch")
	}
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Errorf("error type = %T", err)
	}
	if s.TotalVectors() != 0 {
		t.Errorf("store grew on rejected batch: %d", s.TotalVectors())
	}

	// Nothing was persisted; the pair reopens clean and empty.
	reopened, err := NewStore(embedding.NewMockEmbedder(32), dir)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.TotalVectors() != 0 {
		t.Errorf("reopened store has %d vectors", reopened.TotalVectors())
	}
}

func TestStoreEmptySearch(t *testing.T) {
	s, _, _ := newTestStore(t)
	hits, err := s.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty store returned %d hits", len(hits))
	}
	if s.HasDocuments() {
		t.Error("empty store claims documents")
	}
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	emb := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	s, err := NewStore(emb, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunks(ctx, "doc", "doc.txt", []string{"persisted chunk"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DeleteDoc(ctx, "nothing"); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewStore(emb, dir)
	if err != nil {
		t.Fatal(err)
	}
	hits, err := reopened.Search(ctx, "persisted chunk", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].DocName != "doc.txt" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestStoreCorruptPairDetection(t *testing.T) {
	dir := t.TempDir()
	emb := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	s, err := NewStore(emb, dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddChunks(ctx, "doc", "doc.txt", []string{"aaa", "bbb"}); err != nil {
		t.Fatal(err)
	}

	t.Run("ledger missing", func(t *testing.T) {
		broken := t.TempDir()
		copyFile(t, filepath.Join(dir, indexFileName), filepath.Join(broken, indexFileName))
		if _, err := NewStore(emb, broken); !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("length mismatch", func(t *testing.T) {
		broken := t.TempDir()
		copyFile(t, filepath.Join(dir, indexFileName), filepath.Join(broken, indexFileName))
		lf := ledgerFile{Version: ledgerVersion, Records: []models.ChunkRecord{
			{DocID: "doc", DocName: "doc.txt", Text: "aaa", Position: 0},
		}}
		data, _ := json.Marshal(lf)
		if err := os.WriteFile(filepath.Join(broken, ledgerFileName), data, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewStore(emb, broken); !errors.Is(err, ErrCorruptIndex) {
			t.Errorf("err = %v", err)
		}
	})
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		t.Fatal(err)
	}
}
