package ingest

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
)

// VectorStore is the subset of the vector store the ingestor needs.
type VectorStore interface {
	AddChunks(ctx context.Context, docID, docName string, chunks []string) (int, error)
	DeleteDoc(ctx context.Context, docID string) (int, error)
}

type job struct {
	docID string
	name  string
	text  string
}

// Ingestor chunks and indexes documents in the background. Enqueue returns
// immediately; a worker goroutine embeds the chunks and updates the document
// row to indexed or error when it finishes.
type Ingestor struct {
	store   VectorStore
	storage storage.Storage
	chunker *Chunker
	logger  *zap.Logger

	jobs     chan job
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// IngestorOption configures an Ingestor.
type IngestorOption func(*Ingestor)

// WithLogger sets the logger used by the ingestor.
func WithLogger(logger *zap.Logger) IngestorOption {
	return func(i *Ingestor) {
		i.logger = logger
	}
}

// NewIngestor creates an ingestor with a buffered job queue of the given size.
func NewIngestor(store VectorStore, st storage.Storage, chunker *Chunker, queueSize int, opts ...IngestorOption) *Ingestor {
	if queueSize <= 0 {
		queueSize = 1
	}
	ing := &Ingestor{
		store:   store,
		storage: st,
		chunker: chunker,
		logger:  zap.NewNop(),
		jobs:    make(chan job, queueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// Start launches the worker goroutine.
func (i *Ingestor) Start() {
	i.wg.Add(1)
	go i.run()
}

// Stop shuts the worker down. Jobs still queued are dropped.
func (i *Ingestor) Stop() {
	i.stopOnce.Do(func() {
		close(i.done)
	})
	i.wg.Wait()
}

// Enqueue queues a document for indexing. It fails when the queue is full or
// the ingestor has been stopped.
func (i *Ingestor) Enqueue(docID, name, text string) error {
	select {
	case <-i.done:
		return fmt.Errorf("ingestor is stopped")
	default:
	}
	select {
	case i.jobs <- job{docID: docID, name: name, text: text}:
		return nil
	default:
		return fmt.Errorf("ingest queue is full")
	}
}

// DeleteDocument removes a document from the vector store and from storage.
func (i *Ingestor) DeleteDocument(ctx context.Context, docID string) error {
	removed, err := i.store.DeleteDoc(ctx, docID)
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	if err := i.storage.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("failed to delete document record: %w", err)
	}
	i.logger.Info("Document deleted",
		zap.String("doc_id", docID),
		zap.Int("chunks_removed", removed))
	return nil
}

func (i *Ingestor) run() {
	defer i.wg.Done()
	for {
		select {
		case <-i.done:
			return
		case j := <-i.jobs:
			i.process(j)
		}
	}
}

func (i *Ingestor) process(j job) {
	ctx := context.Background()

	chunks := i.chunker.Chunk(j.text)
	if len(chunks) == 0 {
		i.logger.Warn("Document produced no chunks", zap.String("doc_id", j.docID))
		i.markError(ctx, j.docID)
		return
	}

	added, err := i.store.AddChunks(ctx, j.docID, j.name, chunks)
	if err != nil {
		i.logger.Error("Failed to index document",
			zap.String("doc_id", j.docID),
			zap.String("name", j.name),
			zap.Error(err))
		i.markError(ctx, j.docID)
		return
	}

	if err := i.storage.UpdateDocumentStatus(ctx, j.docID, models.StatusIndexed, added); err != nil {
		i.logger.Error("Failed to update document status",
			zap.String("doc_id", j.docID),
			zap.Error(err))
		return
	}

	i.logger.Info("Document indexed",
		zap.String("doc_id", j.docID),
		zap.String("name", j.name),
		zap.Int("chunks", added))
}

func (i *Ingestor) markError(ctx context.Context, docID string) {
	if err := i.storage.UpdateDocumentStatus(ctx, docID, models.StatusError, 0); err != nil {
		i.logger.Error("Failed to mark document as errored",
			zap.String("doc_id", docID),
			zap.Error(err))
	}
}
