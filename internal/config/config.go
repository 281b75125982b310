// Package config provides layered configuration for kbrag.
// Precedence, lowest first: defaults → .env file → YAML file → env vars.
// Environment variables always win, so a shell export overrides any file.
//
// YAML file search order:
//  1. --config CLI flag (explicit path)
//  2. KBRAG_CONFIG environment variable
//  3. ~/.kbrag/config.yaml
//  4. ./kbrag.yaml
//
// If no file is found the system runs entirely from env vars. Typed settings
// are then read from the environment by FromEnv.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// File is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type File struct {
	// Knowledge locates the corpus and its index.
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the Qdrant vector store connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing configures Langfuse tracing integration.
	Tracing TracingConfig `yaml:"tracing"`
}

// KnowledgeConfig holds corpus, chunking and index settings.
type KnowledgeConfig struct {
	// Path is the knowledge file.
	Path string `yaml:"path"`
	// IndexBackend selects the vector store: sqlite or qdrant.
	IndexBackend string `yaml:"index_backend"`
	// IndexDir is the directory holding the SQLite index.
	IndexDir string `yaml:"index_dir"`
	// Collection is the logical collection name.
	Collection string `yaml:"collection"`
	// ChunkSize is the chunk window in characters.
	ChunkSize int `yaml:"chunk_size"`
	// ChunkOverlap is the number of characters shared by adjacent chunks.
	ChunkOverlap int `yaml:"chunk_overlap"`
	// TopK is the number of chunks retrieved per question.
	TopK int `yaml:"top_k"`
	// ContextMaxTokens caps the retrieved context sent to the model.
	ContextMaxTokens int `yaml:"context_max_tokens"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai, azure, ark, gemini.
	Provider string `yaml:"provider"`

	// MaxTokens is the maximum number of tokens in the response.
	MaxTokens int `yaml:"max_tokens"`

	// Temperature controls response randomness (0.0 to 2.0).
	Temperature float32 `yaml:"temperature"`

	// TopP is the nucleus sampling threshold.
	TopP float32 `yaml:"top_p"`

	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ark    ArkConfig    `yaml:"ark"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OllamaConfig holds Ollama provider settings.
type OllamaConfig struct {
	// Host is the Ollama API endpoint.
	Host string `yaml:"host"`
	// Model is the Ollama model name.
	Model string `yaml:"model"`
}

// OpenAIConfig holds OpenAI provider settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key. Prefer env var OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the OpenAI model name.
	Model string `yaml:"model"`
	// BaseURL points at an OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url"`
}

// AzureConfig holds Azure OpenAI provider settings.
type AzureConfig struct {
	// APIKey is the Azure OpenAI API key. Prefer env var AZURE_OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string `yaml:"endpoint"`
	// Deployment is the Azure OpenAI deployment name.
	Deployment string `yaml:"deployment"`
	// APIVersion is the Azure OpenAI API version.
	APIVersion string `yaml:"api_version"`
}

// ArkConfig holds Volcengine Ark provider settings.
type ArkConfig struct {
	// APIKey is the Ark API key. Prefer env var ARK_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Ark endpoint or model ID.
	Model string `yaml:"model"`
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string `yaml:"base_url"`
}

// GeminiConfig holds Google Gemini provider settings.
type GeminiConfig struct {
	// APIKey is the Google API key. Prefer env var GOOGLE_API_KEY.
	APIKey string `yaml:"api_key"`
	// Model is the Gemini model name.
	Model string `yaml:"model"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend (ollama, openai, azure, gemini).
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
	// BatchSize is the number of texts per backend call.
	BatchSize int `yaml:"batch_size"`
	// Concurrency bounds the backend calls in flight.
	Concurrency int `yaml:"concurrency"`
	// RateLimit is the sustained backend call rate per second.
	RateLimit float64 `yaml:"rate_limit"`
}

// QdrantConfig holds Qdrant vector store settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var KBRAG_API_KEY.
	APIKey string `yaml:"api_key"`
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// TracingConfig holds Langfuse tracing settings.
type TracingConfig struct {
	// PublicKey is the Langfuse public key. Prefer env var LANGFUSE_PUBLIC_KEY.
	PublicKey string `yaml:"public_key"`
	// SecretKey is the Langfuse secret key. Prefer env var LANGFUSE_SECRET_KEY.
	SecretKey string `yaml:"secret_key"`
	// Host is the Langfuse API host.
	Host string `yaml:"host"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*File) string
}{
	{"KB_PATH", func(c *File) string { return c.Knowledge.Path }},
	{"INDEX_BACKEND", func(c *File) string { return c.Knowledge.IndexBackend }},
	{"INDEX_DIR", func(c *File) string { return c.Knowledge.IndexDir }},
	{"INDEX_COLLECTION", func(c *File) string { return c.Knowledge.Collection }},
	{"CHUNK_SIZE", func(c *File) string { return intStr(c.Knowledge.ChunkSize) }},
	{"CHUNK_OVERLAP", func(c *File) string { return intStr(c.Knowledge.ChunkOverlap) }},
	{"RAG_TOP_K", func(c *File) string { return intStr(c.Knowledge.TopK) }},
	{"CONTEXT_MAX_TOKENS", func(c *File) string { return intStr(c.Knowledge.ContextMaxTokens) }},
	{"MODEL_PROVIDER", func(c *File) string { return c.Model.Provider }},
	{"MODEL_MAX_TOKENS", func(c *File) string { return intStr(c.Model.MaxTokens) }},
	{"MODEL_TEMPERATURE", func(c *File) string { return float32Str(c.Model.Temperature) }},
	{"MODEL_TOP_P", func(c *File) string { return float32Str(c.Model.TopP) }},
	{"OLLAMA_HOST", func(c *File) string { return c.Model.Ollama.Host }},
	{"OLLAMA_MODEL", func(c *File) string { return c.Model.Ollama.Model }},
	{"OPENAI_API_KEY", func(c *File) string { return c.Model.OpenAI.APIKey }},
	{"OPENAI_MODEL", func(c *File) string { return c.Model.OpenAI.Model }},
	{"OPENAI_BASE_URL", func(c *File) string { return c.Model.OpenAI.BaseURL }},
	{"AZURE_OPENAI_API_KEY", func(c *File) string { return c.Model.Azure.APIKey }},
	{"AZURE_OPENAI_ENDPOINT", func(c *File) string { return c.Model.Azure.Endpoint }},
	{"AZURE_OPENAI_DEPLOYMENT", func(c *File) string { return c.Model.Azure.Deployment }},
	{"AZURE_OPENAI_API_VERSION", func(c *File) string { return c.Model.Azure.APIVersion }},
	{"ARK_API_KEY", func(c *File) string { return c.Model.Ark.APIKey }},
	{"ARK_MODEL", func(c *File) string { return c.Model.Ark.Model }},
	{"ARK_BASE_URL", func(c *File) string { return c.Model.Ark.BaseURL }},
	{"GOOGLE_API_KEY", func(c *File) string { return c.Model.Gemini.APIKey }},
	{"GEMINI_MODEL", func(c *File) string { return c.Model.Gemini.Model }},
	{"EMBEDDING_PROVIDER", func(c *File) string { return c.Embedding.Provider }},
	{"EMBEDDING_MODEL", func(c *File) string { return c.Embedding.Model }},
	{"EMBEDDING_DIMENSIONS", func(c *File) string { return intStr(c.Embedding.Dimensions) }},
	{"EMBEDDING_API_KEY", func(c *File) string { return c.Embedding.APIKey }},
	{"EMBEDDING_ENDPOINT", func(c *File) string { return c.Embedding.Endpoint }},
	{"EMBEDDING_BATCH_SIZE", func(c *File) string { return intStr(c.Embedding.BatchSize) }},
	{"EMBEDDING_CONCURRENCY", func(c *File) string { return intStr(c.Embedding.Concurrency) }},
	{"EMBEDDING_RATE_LIMIT", func(c *File) string { return float64Str(c.Embedding.RateLimit) }},
	{"QDRANT_HOST", func(c *File) string { return c.Qdrant.Host }},
	{"QDRANT_PORT", func(c *File) string { return intStr(c.Qdrant.Port) }},
	{"QDRANT_API_KEY", func(c *File) string { return c.Qdrant.APIKey }},
	{"QDRANT_TLS", func(c *File) string { return boolStr(c.Qdrant.TLS) }},
	{"KBRAG_HOST", func(c *File) string { return c.Server.Host }},
	{"KBRAG_PORT", func(c *File) string { return intStr(c.Server.Port) }},
	{"KBRAG_API_KEY", func(c *File) string { return c.Server.APIKey }},
	{"KBRAG_CORS_ORIGINS", func(c *File) string { return strings.Join(c.Server.CORSOrigins, ",") }},
	{"LOG_LEVEL", func(c *File) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *File) string { return c.Logging.Format }},
	{"LANGFUSE_PUBLIC_KEY", func(c *File) string { return c.Tracing.PublicKey }},
	{"LANGFUSE_SECRET_KEY", func(c *File) string { return c.Tracing.SecretKey }},
	{"LANGFUSE_HOST", func(c *File) string { return c.Tracing.Host }},
}

// LoadDotEnv applies KEY=VALUE pairs from path onto unset env vars. A missing
// file is not an error. Returns true when a file was applied.
func LoadDotEnv(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return true, nil
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg File
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env wins
		}
		if err := os.Setenv(m.envKey, yamlVal); err != nil {
			return "", fmt.Errorf("config: set %s: %w", m.envKey, err)
		}
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("KBRAG_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".kbrag", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("kbrag.yaml"); err == nil {
		return "kbrag.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return strconv.Itoa(v)
}

// float32Str converts a float32 to string, returning "" for zero values.
func float32Str(v float32) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(float64(v), 'f', -1, 32)
}

// float64Str converts a float64 to string, returning "" for zero values.
func float64Str(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
