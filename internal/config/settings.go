package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// ErrInvalid is wrapped by every Settings validation error.
var ErrInvalid = errors.New("invalid configuration")

// Index backends.
const (
	IndexSQLite = "sqlite"
	IndexQdrant = "qdrant"
)

// Settings holds the typed runtime settings that are not owned by a
// provider package. Model and embedding credentials are read by
// internal/provider and internal/embedder directly.
type Settings struct {
	// KBPath is the knowledge file indexed at start-up and on reload.
	KBPath string `envconfig:"KB_PATH" default:"kb/knowledge.txt"`

	// IndexBackend selects the vector store: sqlite (local) or qdrant.
	IndexBackend string `envconfig:"INDEX_BACKEND" default:"sqlite"`
	// IndexDir holds the SQLite index database.
	IndexDir string `envconfig:"INDEX_DIR" default:"kb_index"`
	// Collection is the logical collection name.
	Collection string `envconfig:"INDEX_COLLECTION" default:"knowledge_base"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"50"`
	TopK         int `envconfig:"RAG_TOP_K" default:"3"`

	// ContextMaxTokens caps the retrieved context in the prompt. Zero
	// selects the generator default.
	ContextMaxTokens int `envconfig:"CONTEXT_MAX_TOKENS" default:"6000"`

	EmbeddingBatchSize   int     `envconfig:"EMBEDDING_BATCH_SIZE" default:"64"`
	EmbeddingConcurrency int     `envconfig:"EMBEDDING_CONCURRENCY" default:"4"`
	EmbeddingRateLimit   float64 `envconfig:"EMBEDDING_RATE_LIMIT" default:"0"`

	QdrantHost   string `envconfig:"QDRANT_HOST" default:"localhost"`
	QdrantPort   int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey string `envconfig:"QDRANT_API_KEY"`
	QdrantTLS    bool   `envconfig:"QDRANT_TLS" default:"false"`

	Host        string   `envconfig:"KBRAG_HOST" default:"127.0.0.1"`
	Port        int      `envconfig:"KBRAG_PORT" default:"8000"`
	APIKey      string   `envconfig:"KBRAG_API_KEY"`
	CORSOrigins []string `envconfig:"KBRAG_CORS_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
}

// FromEnv reads Settings from the environment and validates them.
func FromEnv() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	s.IndexBackend = strings.ToLower(strings.TrimSpace(s.IndexBackend))
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ranges and enumerations.
func (s *Settings) Validate() error {
	switch s.IndexBackend {
	case IndexSQLite:
		if s.IndexDir == "" {
			return fmt.Errorf("config: %w: INDEX_DIR is required for the sqlite backend", ErrInvalid)
		}
	case IndexQdrant:
		if s.QdrantHost == "" {
			return fmt.Errorf("config: %w: QDRANT_HOST is required for the qdrant backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("config: %w: INDEX_BACKEND %q (valid values: sqlite, qdrant)", ErrInvalid, s.IndexBackend)
	}

	if s.KBPath == "" {
		return fmt.Errorf("config: %w: KB_PATH must not be empty", ErrInvalid)
	}
	if s.Collection == "" {
		return fmt.Errorf("config: %w: INDEX_COLLECTION must not be empty", ErrInvalid)
	}
	if s.ChunkSize <= 0 {
		return fmt.Errorf("config: %w: CHUNK_SIZE must be positive, got %d", ErrInvalid, s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("config: %w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", ErrInvalid, s.ChunkOverlap)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("config: %w: RAG_TOP_K must be positive, got %d", ErrInvalid, s.TopK)
	}
	if s.ContextMaxTokens < 0 {
		return fmt.Errorf("config: %w: CONTEXT_MAX_TOKENS must not be negative", ErrInvalid)
	}
	if s.EmbeddingBatchSize <= 0 || s.EmbeddingConcurrency <= 0 {
		return fmt.Errorf("config: %w: EMBEDDING_BATCH_SIZE and EMBEDDING_CONCURRENCY must be positive", ErrInvalid)
	}
	if s.EmbeddingRateLimit < 0 {
		return fmt.Errorf("config: %w: EMBEDDING_RATE_LIMIT must not be negative", ErrInvalid)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("config: %w: KBRAG_PORT out of range: %d", ErrInvalid, s.Port)
	}
	return nil
}
