package models

import "time"

// Document status values reported to callers while ingestion runs in the background.
const (
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusError      = "error"
)

// Document represents an ingested document's bookkeeping record. The text
// itself lives only in the vector store's ledger, chunked.
type Document struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Status     string    `json:"status" db:"status"`
	ChunkCount int       `json:"chunk_count" db:"chunk_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// ChatSession groups chat messages for history.
type ChatSession struct {
	ID        string    `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ChatMessage is one user or assistant turn in a session.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Sources   []string  `json:"sources,omitempty" db:"sources"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
