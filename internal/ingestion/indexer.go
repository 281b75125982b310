// Package ingestion turns the knowledge corpus into an indexed collection.
// It reads the corpus file, splits it into overlapping chunks, embeds every
// chunk in one batch and inserts the results into a vector collection.
// It is driven by the retrieval pipeline at start-up and on reload, and by
// the `kbrag index` CLI command.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"unicode/utf8"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// Config holds the chunking parameters for the indexer.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to DefaultChunkSize if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Clamped to ChunkSize-1.
	ChunkOverlap int
}

// Indexer orchestrates the chunk → embed → insert flow for one corpus.
type Indexer struct {
	// embedder converts chunk texts into dense vector embeddings.
	embedder rag.EmbeddingClient

	// cfg holds the resolved chunking configuration.
	cfg Config
}

// NewIndexer constructs an Indexer from the embedding client and config.
func NewIndexer(embedder rag.EmbeddingClient, cfg *Config) (*Indexer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	c := Config{ChunkOverlap: DefaultChunkOverlap}
	if cfg != nil {
		c = *cfg
	}
	c.ChunkSize, c.ChunkOverlap = Normalize(c.ChunkSize, c.ChunkOverlap)
	return &Indexer{embedder: embedder, cfg: c}, nil
}

// Index chunks text, embeds all chunks in a single EmbedMany call and
// inserts them into coll. It returns the number of chunks inserted.
// Progress is reported via the optional progress callback.
func (ix *Indexer) Index(ctx context.Context, coll rag.Collection, text string, progress func(msg string)) (int, error) {
	if progress == nil {
		progress = func(string) {}
	}

	chunks := Split(text, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	progress(fmt.Sprintf("created %d chunks from corpus", len(chunks)))
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	progress("generating embeddings")
	vectors, err := ix.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("ingestion: embedding failed: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	progress(fmt.Sprintf("storing %d chunks in collection %q", len(chunks), coll.Name()))
	if err := coll.InsertMany(ctx, chunks, vectors); err != nil {
		return 0, fmt.Errorf("ingestion: insert failed: %w", err)
	}

	progress(fmt.Sprintf("indexed %d chunks", len(chunks)))
	return len(chunks), nil
}

// ReadCorpus loads the corpus file at path. A missing file is reported as
// rag.ErrCorpusNotFound.
func ReadCorpus(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", rag.ErrCorpusNotFound, path)
		}
		return "", fmt.Errorf("ingestion: read corpus %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("ingestion: corpus %s is not valid UTF-8", path)
	}
	return string(data), nil
}
