// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	iofs "io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/ingest"
	"github.com/hyperjump/kotae/internal/llm"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vectorstore"
	"github.com/hyperjump/kotae/internal/watcher"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead. Returns the config and the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "ingest":
		runIngest()
	case "delete":
		runDelete()
	case "rebuild":
		runRebuild()
	case "documents":
		runDocuments()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	components.Ingestor.Start()
	defer components.Ingestor.Stop()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if len(cfg.Watch.Directories) > 0 {
		ing := components.Ingestor
		st := components.Storage
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(
			cfg.Watch.Directories,
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			func(path string) {
				if err := enqueueFile(context.Background(), ing, st, path); err != nil {
					logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
				}
			},
			func(path string) {
				if err := ing.DeleteDocument(context.Background(), fileid.FileDocID(path)); err != nil {
					logger.Warn("watch delete failed", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
		defer watchSvc.Stop()
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Store,
		components.Ingestor,
		components.Storage,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// enqueueFile reads a watched file and queues it for ingestion. An existing
// document with the same path-derived ID is replaced.
func enqueueFile(ctx context.Context, ing *ingest.Ingestor, st storage.Storage, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	docID := fileid.FileDocID(abs)
	if _, err := st.GetDocument(ctx, docID); err == nil {
		if err := ing.DeleteDocument(ctx, docID); err != nil {
			return err
		}
	}
	doc := &models.Document{
		ID:     docID,
		Name:   filepath.Base(abs),
		Status: models.StatusProcessing,
	}
	if err := st.CreateDocument(ctx, doc); err != nil {
		return err
	}
	return ing.Enqueue(docID, doc.Name, string(content))
}

func runAsk() {
	args := askArgsReorder(os.Args[2:])
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	sessionID := fs.String("session", "", "chat session ID (empty = new session)")
	topK := fs.Int("top-k", 0, "number of chunks to retrieve (0 = server default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		printAskUsage(fs)
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	payload := map[string]interface{}{"query": query}
	if *sessionID != "" {
		payload["session_id"] = *sessionID
	}
	if *topK > 0 {
		payload["top_k"] = *topK
	}
	body, _ := json.Marshal(payload)
	resp, err := http.Post(*serverURL+"/api/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Ask failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var chat struct {
		SessionID string `json:"session_id"`
		models.AskResult
	}
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, &chat.AskResult, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
	if format == cli.OutputText && *sessionID == "" {
		fmt.Printf("session: %s\n", chat.SessionID)
	}
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  kotae ask what was the quarterly revenue
  kotae ask --session 8c2a "and the year before that?"
  kotae ask --output json "summarize the contract terms"
`)
}

// askArgsReorder moves flags that appear after the question to the front so
// flag.Parse() sees them. The flag package stops at the first non-flag
// argument.
func askArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	name := fs.String("name", "", "document name (default: file basename)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae ingest [flags] <file-or-directory>")
		os.Exit(1)
	}
	path := fs.Arg(0)

	components, cfg := mustInitialize(*configPath)
	defer components.Close()

	ctx := context.Background()
	info, err := os.Stat(path)
	if err != nil {
		fmt.Printf("Failed to stat path: %v\n", err)
		os.Exit(1)
	}
	if info.IsDir() {
		exts := cfg.Watch.Extensions
		n := 0
		walkErr := filepath.WalkDir(path, func(p string, d iofs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if !matchExt(p, exts) {
				return nil
			}
			if err := ingestFile(ctx, components, p, ""); err != nil {
				fmt.Printf("Skipping %s: %v\n", p, err)
				return nil
			}
			n++
			return nil
		})
		if walkErr != nil {
			fmt.Printf("Ingest failed: %v\n", walkErr)
			os.Exit(1)
		}
		fmt.Printf("Ingested %d file(s) from %s\n", n, path)
		return
	}
	if err := ingestFile(ctx, components, path, *name); err != nil {
		fmt.Printf("Ingest failed: %v\n", err)
		os.Exit(1)
	}
}

func matchExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range exts {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// ingestFile chunks and indexes one file synchronously, replacing any earlier
// version ingested from the same path.
func ingestFile(ctx context.Context, c *Components, path, name string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	if name == "" {
		name = filepath.Base(abs)
	}
	docID := fileid.FileDocID(abs)
	if _, err := c.Storage.GetDocument(ctx, docID); err == nil {
		if err := c.Ingestor.DeleteDocument(ctx, docID); err != nil {
			return err
		}
	}
	doc := &models.Document{ID: docID, Name: name, Status: models.StatusProcessing}
	if err := c.Storage.CreateDocument(ctx, doc); err != nil {
		return err
	}
	chunks := c.Chunker.Chunk(string(content))
	if len(chunks) == 0 {
		_ = c.Storage.UpdateDocumentStatus(ctx, docID, models.StatusError, 0)
		return fmt.Errorf("document has no content")
	}
	added, err := c.Store.AddChunks(ctx, docID, name, chunks)
	if err != nil {
		_ = c.Storage.UpdateDocumentStatus(ctx, docID, models.StatusError, 0)
		return err
	}
	if err := c.Storage.UpdateDocumentStatus(ctx, docID, models.StatusIndexed, added); err != nil {
		return err
	}
	fmt.Printf("Ingested %s (%d chunks): %s\n", name, added, docID)
	return nil
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae delete [flags] <document-id>")
		os.Exit(1)
	}
	docID := fs.Arg(0)

	components, _ := mustInitialize(*configPath)
	defer components.Close()

	if err := components.Ingestor.DeleteDocument(context.Background(), docID); err != nil {
		fmt.Printf("Deletion failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

func runRebuild() {
	fs := flag.NewFlagSet("rebuild", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = rebuild the local index directly)")
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		resp, err := http.Post(*serverURL+"/api/index/rebuild", "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Rebuild failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			LiveVectors int `json:"live_vectors"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		fmt.Printf("Index rebuilt: %d live vector(s)\n", out.LiveVectors)
		return
	}

	components, _ := mustInitialize(*configPath)
	defer components.Close()

	live, err := components.Store.Rebuild(context.Background())
	if err != nil {
		fmt.Printf("Rebuild failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Index rebuilt: %d live vector(s)\n", live)
}

func runDocuments() {
	fs := flag.NewFlagSet("documents", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := cli.OutputText
	if *outputFormat == "json" {
		format = cli.OutputJSON
	}

	var docs []*models.Document
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/documents")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		var out struct {
			Documents []*models.Document `json:"documents"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
			os.Exit(1)
		}
		docs = out.Documents
	} else {
		components, _ := mustInitialize(*configPath)
		defer components.Close()
		var err error
		docs, err = components.Storage.ListDocuments(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cli.WriteDocuments(os.Stdout, docs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = read local storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format := cli.OutputText
	if *outputFormat == "json" {
		format = cli.OutputJSON
	}

	var status map[string]interface{}
	if *serverURL != "" {
		resp, err := http.Get(*serverURL + "/api/status")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			fmt.Fprintf(os.Stderr, "Status failed (%d): %s\n", resp.StatusCode, string(b))
			os.Exit(1)
		}
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			fmt.Fprintf(os.Stderr, "Decode response failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		components, cfg := mustInitialize(*configPath)
		defer components.Close()
		ctx := context.Background()
		docCount, err := components.Storage.CountDocuments(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count documents failed: %v\n", err)
			os.Exit(1)
		}
		status = map[string]interface{}{
			"documents":     docCount,
			"total_vectors": components.Store.TotalVectors(),
			"live_vectors":  components.Store.LiveVectors(),
		}
		if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.IndexDir); err == nil {
			status["disk_usage_bytes"] = diskBytes
		}
	}

	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder embedding.Embedder
	Store    *vectorstore.Store
	LLM      llm.Client
	Pipeline *pipeline.Pipeline
	Chunker  *ingest.Chunker
	Ingestor *ingest.Ingestor
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func mustInitialize(configPath string) (*Components, *config.Config) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Printf("Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, cfg
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var embedder embedding.Embedder = embedding.NewOllamaEmbedder(
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
	)
	if cfg.Embedding.CacheSize > 0 {
		embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)
	}

	store, err := vectorstore.NewStore(embedder, cfg.Storage.IndexDir,
		vectorstore.WithLogger(logger),
		vectorstore.WithAutoCompact(cfg.Retrieval.AutoCompactRatio),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}

	client := llm.NewOllamaClient(
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		cfg.LLM.MaxTokens,
		cfg.LLM.Temperature,
	)

	pl := pipeline.New(store, client, pipeline.Config{
		TopK:           cfg.Retrieval.TopK,
		GradeThreshold: cfg.Retrieval.GradeThreshold,
		MaxRewrites:    cfg.Retrieval.MaxRewritesOrDefault(),
	}, pipeline.WithLogger(logger))

	chunker := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	ingestor := ingest.NewIngestor(store, st, chunker, cfg.Ingest.QueueSize,
		ingest.WithLogger(logger))

	return &Components{
		Storage:  st,
		Embedder: embedder,
		Store:    store,
		LLM:      client,
		Pipeline: pl,
		Chunker:  chunker,
		Ingestor: ingestor,
	}, nil
}

func printUsage() {
	fmt.Println(`kotae - Retrieval-augmented answers over your documents

Usage:
  kotae server [flags]              Start the HTTP server
  kotae ask [flags] <question>      Ask a question (needs a running server)
  kotae ingest [flags] <path>       Ingest a file or directory
  kotae delete [flags] <id>         Delete a document
  kotae rebuild [flags]             Compact the vector index
  kotae documents [flags]           List documents
  kotae status [flags]              Show store status
  kotae version                     Show version
  kotae help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml)
  --debug            Enable debug logging

Ask Flags:
  --server string    Server URL (default: http://localhost:8080)
  --session string   Continue an existing chat session
  --top-k int        Number of chunks to retrieve (0 = server default)
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --name string      Document name (default: file basename)

Rebuild/Documents/Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL; use --server "" for direct mode

Examples:
  kotae server
  kotae ingest ./docs
  kotae ask what was the quarterly revenue
  kotae ask --output json "summarize the contract terms"
  kotae documents
  kotae rebuild --server ""
  kotae status`)
}
