// Package config reads the service configuration from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"docqa/model"
	"docqa/splitter"
	"docqa/types"
)

type Config struct {
	ServerAddr string `json:"server_addr"`
	LogLevel   string `json:"log_level"`
	IndexPath  string `json:"index_path"`

	Pipeline  types.PipelineConfig  `json:"pipeline"`
	Embedding types.EmbeddingConfig `json:"embedding"`
	LLM       types.LLMConfig       `json:"llm"`
	Postgres  types.PostgresConfig  `json:"-"`
	Redis     types.RedisConfig     `json:"-"`
	Loader    types.LoaderConfig    `json:"loader"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: read .env: %w", types.ErrConfiguration, err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a validated Config from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := reader{getenv: getenv}

	cfg := &Config{
		ServerAddr: r.str("SERVER_ADDR", ":3000"),
		LogLevel:   r.str("LOG_LEVEL", "info"),
		IndexPath:  r.str("INDEX_PATH", "data/index.json"),
		Pipeline: types.PipelineConfig{
			ChunkSize:          r.integer("CHUNK_SIZE", splitter.DefaultChunkSize),
			ChunkOverlap:       r.integer("CHUNK_OVERLAP", splitter.DefaultChunkOverlap),
			Separators:         r.list("SPLIT_SEPARATORS", splitter.DefaultSeparators),
			TopK:               r.integer("RETRIEVAL_K", 4),
			RetrievalTimeout:   r.duration("RETRIEVAL_TIMEOUT", 10*time.Second),
			ContextTokenBudget: r.integer("CONTEXT_TOKEN_BUDGET", 0),
			EmbedBatchSize:     r.integer("EMBED_BATCH_SIZE", 16),
			EmbedWorkers:       r.integer("EMBED_WORKERS", 4),
		},
		Embedding: types.EmbeddingConfig{
			URL:        r.str("OLLAMA_EMBEDDING_URL", model.DefaultOllamaEmbeddingURL),
			Model:      r.str("OLLAMA_EMBEDDING_MODEL", model.DefaultOllamaModel),
			Dimensions: r.integer("EMBEDDING_DIMENSIONS", 768),
			Timeout:    r.duration("EMBEDDING_TIMEOUT", model.DefaultEmbeddingTimeout),
			CacheTTL:   r.duration("EMBED_CACHE_TTL", 24*time.Hour),
		},
		LLM: types.LLMConfig{
			Url:   r.str("LLM_URL", "http://localhost:11434/api/generate"),
			Model: r.str("LLM_MODEL", "llama3"),
		},
		Postgres: types.PostgresConfig{
			Host:     r.str("PG_HOST", ""),
			Port:     r.integer("PG_PORT", 5432),
			User:     r.str("PG_USER", ""),
			Password: r.str("PG_PASS", ""),
			DBName:   r.str("PG_DB_NAME", ""),
		},
		Redis: types.RedisConfig{
			Addr:     r.str("REDIS_ADDR", ""),
			Password: r.str("REDIS_PASSWORD", ""),
		},
		Loader: types.LoaderConfig{
			MonitoringTime: r.duration("LOADER_MONITORING_TIME", 5*time.Second),
			SourceDir:      r.str("LOADER_SOURCE_DIR", "data/source"),
			ArchiveDir:     r.str("LOADER_ARCHIVE_DIR", "data/archive"),
			BadDir:         r.str("LOADER_BAD_DIR", "data/bad"),
			CropTop:        r.number("PDF_CROP_TOP", 0),
			CropBottom:     r.number("PDF_CROP_BOTTOM", 0),
		},
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("%w: %s", types.ErrConfiguration, strings.Join(r.errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	for name, v := range map[string]any{
		"pipeline":  &c.Pipeline,
		"embedding": &c.Embedding,
		"loader":    &c.Loader,
	} {
		if errs := types.ValidateStruct(v); len(errs) > 0 {
			return fmt.Errorf("%w: %s: %v", types.ErrConfiguration, name, errs)
		}
	}
	if _, err := c.Splitter(); err != nil {
		return err
	}
	return nil
}

// Splitter builds the segment splitter described by the pipeline settings.
func (c *Config) Splitter() (*splitter.Splitter, error) {
	return splitter.New(c.Pipeline.ChunkSize, c.Pipeline.ChunkOverlap, c.Pipeline.Separators)
}

type reader struct {
	getenv func(string) string
	errs   []string
}

func (r *reader) str(key, def string) string {
	if v := r.getenv(key); v != "" {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not an integer", key, v))
		return def
	}
	return n
}

func (r *reader) number(key string, def float64) float64 {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not a number", key, v))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s=%q is not a duration", key, v))
		return def
	}
	return d
}

// list reads a JSON array of strings, so separators such as " " and "," survive.
func (r *reader) list(key string, def []string) []string {
	v := r.getenv(key)
	if v == "" {
		return append([]string(nil), def...)
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		r.errs = append(r.errs, fmt.Sprintf("%s must be a JSON array of strings: %v", key, err))
		return def
	}
	return out
}
