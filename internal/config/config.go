// Package config provides configuration loading and structs for the Kotae server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the database and the vector index pair.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexDir     string `yaml:"index_dir"`
}

// EmbeddingConfig holds settings for the embedding model endpoint.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`
}

// LLMConfig holds settings for the chat model endpoint used for grading,
// query rewriting, and answer generation.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// RetrievalConfig holds retrieval pipeline tuning knobs.
type RetrievalConfig struct {
	TopK           int     `yaml:"top_k"`
	GradeThreshold float64 `yaml:"grade_threshold"`
	MaxRewrites    *int    `yaml:"max_rewrites"`
	// AutoCompactRatio triggers a background index rebuild when the tombstone
	// ratio exceeds it after a delete. 0 disables automatic compaction.
	AutoCompactRatio float64 `yaml:"auto_compact_ratio"`
}

// MaxRewritesOrDefault returns the rewrite budget; defaults to 2 when unset.
func (r *RetrievalConfig) MaxRewritesOrDefault() int {
	if r.MaxRewrites != nil {
		return *r.MaxRewrites
	}
	return 2
}

// IngestConfig holds chunking and queue settings for document ingestion.
type IngestConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	QueueSize    int `yaml:"queue_size"`
}

// WatchConfig holds drop-directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnvOverrides(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexDir = expandPath(cfg.Storage.IndexDir, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// ApplyEnvOverrides overrides model endpoints from the environment. Used with a
// .env file so deployments can point at a different Ollama host without editing
// the config file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KOTAE_EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("KOTAE_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KOTAE_LLM_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("KOTAE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
