// Package rag defines the contracts shared by the retrieval pipeline:
// chunks, vector collections, collection stores and embedders.
// Concrete backends (SQLite, Qdrant) satisfy these interfaces so the
// pipeline never depends on a specific storage engine.
package rag

import (
	"context"
	"strconv"
)

// Chunk is a bounded contiguous span of corpus text stored as one
// retrievable unit. Chunks are immutable once produced by the chunker.
type Chunk struct {
	// ID is the sequential index of the chunk within its corpus (0, 1, 2, ...).
	ID int

	// Text is the whitespace-trimmed chunk content.
	Text string

	// Length is the character count of Text.
	Length int
}

// Key returns the stable identifier under which the chunk is stored.
func (c Chunk) Key() string { return ChunkKey(c.ID) }

// ChunkKey formats a sequential chunk index as its stored identifier,
// e.g. "chunk_0".
func ChunkKey(id int) string { return "chunk_" + strconv.Itoa(id) }

// Match is a single nearest-neighbour hit returned by Collection.Query.
type Match struct {
	// ID is the stored chunk identifier ("chunk_<i>").
	ID string

	// Text is the stored chunk text.
	Text string

	// Score is the cosine similarity between the query and the chunk
	// (1.0 = identical direction). Higher is closer.
	Score float32
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingClient is the pipeline-facing view of the embedding service:
// one vector per input text, order preserved. Failures are reported as
// *EmbeddingServiceError and never replaced with placeholder vectors.
type EmbeddingClient interface {
	// EmbedOne returns the embedding of a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// EmbedMany returns one embedding per input text, parallel to texts.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Collection is a named, persistent mapping from chunk identifier to chunk
// text and embedding vector. Every vector in a collection has the same
// dimension. Implementations must be safe to call from multiple goroutines.
type Collection interface {
	// Name returns the logical name the collection is addressed by.
	Name() string

	// Dimension returns the vector dimension of the collection, or 0 when
	// no vector has been inserted yet and the backend does not fix it at
	// creation time.
	Dimension() int

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	// InsertMany stores chunks with their embeddings. vectors must be
	// parallel to chunks. Every vector is validated against the collection
	// dimension before anything is written; a mismatch returns a
	// *DimensionMismatchError and leaves the collection unchanged.
	// The write is durable when InsertMany returns nil.
	InsertMany(ctx context.Context, chunks []Chunk, vectors [][]float32) error

	// Query returns up to topK chunks closest to vector by cosine
	// similarity, closest first. An empty collection yields an empty slice.
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)
}

// OpenResult reports which branch Store.Open took.
type OpenResult struct {
	// Collection is the opened or newly created collection.
	Collection Collection

	// Created is true when the collection did not exist and was created.
	Created bool

	// Populated is true when the collection already holds at least one chunk.
	Populated bool
}

// Store manages named collections on a single storage backend.
// Implementations must be safe to call from multiple goroutines.
type Store interface {
	// Exists reports whether a collection with the given name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// Open returns the named collection, creating it when absent.
	Open(ctx context.Context, name string) (OpenResult, error)

	// Rebuild drops every entry of the named collection and returns it empty.
	Rebuild(ctx context.Context, name string) (Collection, error)

	// Stage creates an empty shadow collection that will replace name once
	// promoted. The shadow is not visible under name until Promote.
	Stage(ctx context.Context, name string) (Collection, error)

	// Promote atomically replaces the live collection name with shadow and
	// returns a handle to the new live collection. The previous contents
	// are released. If the swap succeeded but releasing the previous
	// contents failed, Promote returns the new handle together with a
	// *CleanupError; the shadow is live and must not be discarded.
	Promote(ctx context.Context, name string, shadow Collection) (Collection, error)

	// Discard removes a shadow collection that will not be promoted.
	Discard(ctx context.Context, shadow Collection) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
