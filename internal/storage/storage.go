// Package storage defines persistence for document bookkeeping and chat history.
package storage

import (
	"context"

	"github.com/hyperjump/kotae/internal/models"
)

// Storage defines document and chat persistence operations. The core treats
// status and message writes as fire-and-forget; failures are logged, never
// allowed to fail an ingestion or a pipeline run.
type Storage interface {
	// Document bookkeeping
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context) ([]*models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int) error
	DeleteDocument(ctx context.Context, id string) error
	CountDocuments(ctx context.Context) (int64, error)

	// Chat sessions
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListSessions(ctx context.Context) ([]*models.ChatSession, error)
	UpdateSessionTitle(ctx context.Context, id, title string) error
	DeleteSession(ctx context.Context, id string) error

	// Chat messages
	AddMessage(ctx context.Context, msg *models.ChatMessage) error
	GetMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error)
	CountMessages(ctx context.Context, sessionID string) (int64, error)

	Close() error
}
