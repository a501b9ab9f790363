package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotae/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateDocument inserts a document row. Status defaults to processing when empty.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.Status == "" {
		doc.Status = models.StatusProcessing
	}
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, status, chunk_count, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.Status, doc.ChunkCount, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, chunk_count, created_at, updated_at FROM documents WHERE id = ?`, id)
	var doc models.Document
	if err := row.Scan(&doc.ID, &doc.Name, &doc.Status, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, chunk_count, created_at, updated_at FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()
	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Status, &doc.ChunkCount, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets a document's status and chunk count.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id, status string, chunkCount int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, chunk_count = ?, updated_at = ? WHERE id = ?`,
		status, chunkCount, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

// DeleteDocument removes a document row.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// CountDocuments returns the number of document rows.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// CreateSession inserts a chat session row.
func (s *SQLiteStorage) CreateSession(ctx context.Context, session *models.ChatSession) error {
	session.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at) VALUES (?, ?, ?)`,
		session.ID, session.Title, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession returns the session with the given id.
func (s *SQLiteStorage) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, title, created_at FROM sessions WHERE id = ?`, id)
	var session models.ChatSession
	if err := row.Scan(&session.ID, &session.Title, &session.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions, newest first.
func (s *SQLiteStorage) ListSessions(ctx context.Context) ([]*models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()
	var sessions []*models.ChatSession
	for rows.Next() {
		var session models.ChatSession
		if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// UpdateSessionTitle sets a session's title.
func (s *SQLiteStorage) UpdateSessionTitle(ctx context.Context, id, title string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("failed to update session title: %w", err)
	}
	return nil
}

// DeleteSession removes a session and its messages.
func (s *SQLiteStorage) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// AddMessage appends a chat message. Sources are stored as JSON.
func (s *SQLiteStorage) AddMessage(ctx context.Context, msg *models.ChatMessage) error {
	msg.CreatedAt = time.Now().UTC()
	var sources []byte
	if len(msg.Sources) > 0 {
		var err error
		sources, err = json.Marshal(msg.Sources)
		if err != nil {
			return fmt.Errorf("failed to marshal sources: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, nullableString(sources), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add message: %w", err)
	}
	return nil
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// GetMessages returns the session's messages in chronological order.
func (s *SQLiteStorage) GetMessages(ctx context.Context, sessionID string) ([]*models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, sources, created_at FROM messages
		 WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()
	var msgs []*models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		var sources sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &sources, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if sources.Valid && sources.String != "" {
			if err := json.Unmarshal([]byte(sources.String), &msg.Sources); err != nil {
				return nil, fmt.Errorf("failed to parse message sources: %w", err)
			}
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

// CountMessages returns the number of messages in a session.
func (s *SQLiteStorage) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
