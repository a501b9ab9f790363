package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/pkg/utils"
)

const sessionTitleMaxLen = 80

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	models.AskRequest
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	*models.AskResult
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.store.HasDocuments() {
		s.respondError(w, http.StatusBadRequest, "no documents have been indexed yet")
		return
	}

	ctx := r.Context()
	session, created, err := s.ensureSession(r, req.SessionID)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	userMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      "user",
		Content:   req.Query,
	}
	if err := s.storage.AddMessage(ctx, userMsg); err != nil {
		s.logger.Error("failed to save user message", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	result, err := s.pipeline.Run(ctx, req.AskRequest)
	if err != nil {
		s.logger.Error("pipeline failed", zap.Error(err))
		var perr *pipeline.PipelineError
		if errors.As(err, &perr) {
			s.respondError(w, http.StatusBadGateway, err.Error())
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	assistantMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      "assistant",
		Content:   result.Answer,
		Sources:   result.Sources,
	}
	if err := s.storage.AddMessage(ctx, assistantMsg); err != nil {
		s.logger.Error("failed to save assistant message", zap.Error(err))
	}
	s.maybeTitleSession(ctx, session, created, req.Query)

	s.respondJSON(w, http.StatusOK, chatResponse{SessionID: session.ID, AskResult: result})
}

// maybeTitleSession names an untitled session after its first query. A
// session that already holds older messages keeps its empty title; only the
// exchange just saved counts as the first one.
func (s *Server) maybeTitleSession(ctx context.Context, session *models.ChatSession, created bool, query string) {
	if !created {
		if session.Title != "" {
			return
		}
		n, err := s.storage.CountMessages(ctx, session.ID)
		if err != nil {
			s.logger.Warn("failed to count session messages", zap.Error(err))
			return
		}
		if n > 2 {
			return
		}
	}
	title := utils.Truncate(query, sessionTitleMaxLen)
	if err := s.storage.UpdateSessionTitle(ctx, session.ID, title); err != nil {
		s.logger.Warn("failed to set session title", zap.Error(err))
	}
}

// ensureSession loads the session with the given ID, or creates a new one
// when the ID is empty. The second return value reports creation.
func (s *Server) ensureSession(r *http.Request, id string) (*models.ChatSession, bool, error) {
	ctx := r.Context()
	if id == "" {
		session := &models.ChatSession{ID: uuid.NewString()}
		if err := s.storage.CreateSession(ctx, session); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}
	session, err := s.storage.GetSession(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}

type uploadRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	doc := &models.Document{
		ID:     uuid.NewString(),
		Name:   req.Name,
		Status: models.StatusProcessing,
	}
	if err := s.storage.CreateDocument(r.Context(), doc); err != nil {
		s.logger.Error("failed to create document record", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.ingestor.Enqueue(doc.ID, doc.Name, req.Content); err != nil {
		s.logger.Error("failed to enqueue document", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.logger.Debug("document accepted", zap.String("id", doc.ID), zap.String("name", doc.Name))
	s.respondJSON(w, http.StatusAccepted, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.storage.ListDocuments(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if docs == nil {
		docs = []*models.Document{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"documents": docs})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.storage.GetDocument(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetDocument(r.Context(), id); err != nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.ingestor.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.storage.ListSessions(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.ChatSession{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.storage.GetSession(r.Context(), id); err != nil {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	msgs, err := s.storage.GetMessages(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*models.ChatMessage{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.storage.DeleteSession(r.Context(), id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	live, err := s.store.Rebuild(r.Context())
	if err != nil {
		s.logger.Error("rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "rebuilt",
		"live_vectors": live,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":     docCount,
		"total_vectors": s.store.TotalVectors(),
		"live_vectors":  s.store.LiveVectors(),
	}

	configInfo := map[string]interface{}{
		"embedding_model":      s.config.Embedding.Model,
		"embedding_dimensions": s.config.Embedding.Dimensions,
		"llm_model":            s.config.LLM.Model,
		"top_k":                s.config.Retrieval.TopK,
		"grade_threshold":      s.config.Retrieval.GradeThreshold,
		"max_rewrites":         s.config.Retrieval.MaxRewritesOrDefault(),
		"chunk_size":           s.config.Ingest.ChunkSize,
		"chunk_overlap":        s.config.Ingest.ChunkOverlap,
		"database_path":        s.config.Storage.DatabasePath,
		"index_dir":            s.config.Storage.IndexDir,
	}
	resp["config"] = configInfo

	diskBytes, err := storage.DiskUsageBytes(
		s.config.Storage.DatabasePath,
		s.config.Storage.IndexDir,
	)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
