// Package pipeline orchestrates the export -> extract -> dedupe -> build
// stage sequence that turns a directory of threads into an indexed memory
// backend, with resumable on-disk state and per-stage progress reporting.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LLMConfig configures the summarization endpoint, loaded from environment
// variables so deployments never need a config file for credentials.
type LLMConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func (c LLMConfig) Validate() []string {
	var errs []string
	if c.BaseURL == "" {
		errs = append(errs, "LLM base URL not set (LLM_API_BASE, or WC_LLM_API_BASE)")
	} else if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("invalid LLM API base URL (must start with http:// or https://): %s", c.BaseURL))
	}
	if c.Model == "" {
		errs = append(errs, "LLM model not set (LLM_MODEL, or WC_LLM_MODEL)")
	}
	return errs
}

// EmbeddingConfig configures the embedding endpoint.
type EmbeddingConfig struct {
	Model        string
	BaseURL      string
	APIKey       string
	EmbeddingDim int
	BatchSize    int
}

func (c EmbeddingConfig) Validate() []string {
	var errs []string
	if c.BaseURL == "" {
		errs = append(errs, "embedding API base URL not set (EMBEDDING_API_BASE, or WC_EMBEDDING_API_BASE)")
	} else if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, fmt.Sprintf("invalid embedding API base URL (must start with http:// or https://): %s", c.BaseURL))
	}
	return errs
}

// Config is the full pipeline configuration.
type Config struct {
	ThreadsDir string
	WorkDir    string

	BatchSize     int
	MaxConcurrent int

	MaxTokens     int
	OverlapTokens int

	LLM       LLMConfig
	Embedding EmbeddingConfig

	Backend string

	TestMode  bool
	TestLimit int

	// Fresh discards any existing work directory before a run starts.
	Fresh bool
	// Incremental skips threads whose (mtime, entry_count) match the last
	// successful run's cache, reusing their summaries and embeddings.
	Incremental bool
}

// Validate checks the full configuration, returning every error found
// rather than failing on the first.
func (c Config) Validate() []string {
	var errs []string
	if _, err := os.Stat(c.ThreadsDir); err != nil {
		errs = append(errs, fmt.Sprintf("threads directory not found: %s", c.ThreadsDir))
	}
	errs = append(errs, c.LLM.Validate()...)
	errs = append(errs, c.Embedding.Validate()...)
	return errs
}

// EnsureWorkDir creates the pipeline's on-disk layout: logs, state, export,
// extract, and graph subdirectories under WorkDir.
func (c Config) EnsureWorkDir() error {
	for _, sub := range []string{"", "logs", "state", "export", "extract", "graph"} {
		if err := os.MkdirAll(filepath.Join(c.WorkDir, sub), 0o755); err != nil {
			return fmt.Errorf("pipeline: ensure work dir %s: %w", sub, err)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

// envOrMulti returns the first non-empty value among keys, checked in
// order, or fallback if none are set. Used for settings that have both a
// documented bare env var name and a WC_-prefixed variant from before that
// name was fixed.
func envOrMulti(fallback string, keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return fallback
}

func envIntOrMulti(fallback int, keys ...string) int {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// LoadConfigFromEnv builds a Config from environment variables, defaulting
// threadsDir/workDir to the given paths when the env is unset. The LLM and
// embedding settings honor their documented bare names (LLM_API_BASE,
// LLM_MODEL, LLM_API_KEY, EMBEDDING_API_BASE, EMBEDDING_MODEL,
// EMBEDDING_BATCH_SIZE) first, falling back to the WC_-prefixed variants
// used by this pipeline's own settings.
func LoadConfigFromEnv(threadsDir, workDir string) Config {
	if workDir == "" {
		home, _ := os.UserHomeDir()
		workDir = filepath.Join(home, ".watercooler", "cache")
	}

	return Config{
		ThreadsDir:    envOr("WC_THREADS_DIR", threadsDir),
		WorkDir:       envOr("WC_PIPELINE_WORK_DIR", workDir),
		BatchSize:     envIntOr("WC_BATCH_SIZE", 10),
		MaxConcurrent: envIntOr("WC_MAX_CONCURRENT", 4),
		MaxTokens:     envIntOr("WC_MAX_TOKENS", 768),
		OverlapTokens: envIntOr("WC_OVERLAP_TOKENS", 64),
		Backend:       envOr("WC_MEMORY_BACKEND", "null"),
		LLM: LLMConfig{
			APIKey:  envOrMulti("", "LLM_API_KEY", "WC_LLM_API_KEY"),
			Model:   envOrMulti("deepseek-chat", "LLM_MODEL", "WC_LLM_MODEL"),
			BaseURL: envOrMulti("", "LLM_API_BASE", "WC_LLM_API_BASE"),
		},
		Embedding: EmbeddingConfig{
			Model:        envOrMulti("bge_m3", "EMBEDDING_MODEL", "WC_EMBEDDING_MODEL"),
			BaseURL:      envOrMulti("", "EMBEDDING_API_BASE", "WC_EMBEDDING_API_BASE"),
			APIKey:       envOrMulti("", "EMBEDDING_API_KEY", "WC_EMBEDDING_API_KEY"),
			EmbeddingDim: envIntOr("WC_EMBEDDING_DIM", 1024),
			BatchSize:    envIntOrMulti(8, "EMBEDDING_BATCH_SIZE", "WC_EMBEDDING_BATCH_SIZE"),
		},
		Fresh:       envBool("WC_FRESH"),
		Incremental: envBool("WC_INCREMENTAL"),
	}
}
