// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vectorstore"
)

// Server is the HTTP server for the Kotae API.
type Server struct {
	pipeline *pipeline.Pipeline
	store    *vectorstore.Store
	ingestor *ingest.Ingestor
	storage  storage.Storage
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	pl *pipeline.Pipeline,
	store *vectorstore.Store,
	ing *ingest.Ingestor,
	st storage.Storage,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		pipeline: pl,
		store:    store,
		ingestor: ing,
		storage:  st,
		config:   cfg,
		logger:   logger,
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/chat", s.handleChat)
	r.Post("/api/documents", s.handleUploadDocument)
	r.Get("/api/documents", s.handleListDocuments)
	r.Get("/api/documents/{id}", s.handleGetDocument)
	r.Delete("/api/documents/{id}", s.handleDeleteDocument)
	r.Get("/api/sessions", s.handleListSessions)
	r.Get("/api/sessions/{id}/messages", s.handleGetMessages)
	r.Delete("/api/sessions/{id}", s.handleDeleteSession)
	r.Post("/api/index/rebuild", s.handleRebuild)
	r.Get("/api/status", s.handleStatus)
	r.Get("/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
