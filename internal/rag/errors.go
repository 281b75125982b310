package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrCorpusNotFound is returned when the corpus file does not exist.
	// Callers treat it as soft: the index is left empty and a warning logged.
	ErrCorpusNotFound = errors.New("rag: corpus not found")

	// ErrNotReady is returned when a query is issued before the pipeline
	// has been started.
	ErrNotReady = errors.New("rag: pipeline not ready")

	// ErrCollectionNotFound is returned when a named collection is expected
	// to exist but does not.
	ErrCollectionNotFound = errors.New("rag: collection not found")
)

// EmbeddingServiceError wraps any failure of the external embedding
// service: transport errors, non-2xx responses, malformed or missing
// vectors. It is never replaced by a zero vector.
type EmbeddingServiceError struct {
	// Backend names the embedding provider (e.g. "ollama", "openai").
	Backend string
	// Op is the failing operation (e.g. "request", "decode", "validate").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding service %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// DimensionMismatchError is returned when a vector's length differs from
// the dimension established for its collection.
type DimensionMismatchError struct {
	// Collection is the logical collection name.
	Collection string
	// Want is the collection dimension.
	Want int
	// Got is the offending vector's length.
	Got int
	// Index is the position of the offending vector in the insert batch,
	// or -1 for a query vector.
	Index int
}

func (e *DimensionMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("rag: collection %q: query vector has dimension %d, want %d", e.Collection, e.Got, e.Want)
	}
	return fmt.Sprintf("rag: collection %q: vector %d has dimension %d, want %d", e.Collection, e.Index, e.Got, e.Want)
}

// VectorStoreError wraps storage I/O or corruption failures from a
// collection backend.
type VectorStoreError struct {
	// Backend names the store (e.g. "sqlite", "qdrant").
	Backend string
	// Op is the failing operation (e.g. "insert", "query", "promote").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// CleanupError is returned by Store.Promote alongside a valid collection
// when the swap succeeded but the previous physical collection could not be
// dropped. The new collection is live; only storage was leaked.
type CleanupError struct {
	// Backend names the store.
	Backend string
	// Collection is the physical collection left behind.
	Collection string
	// Err is the underlying cause.
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%s: drop previous collection %q: %v", e.Backend, e.Collection, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// CheckDimensions validates that every vector has length want. It returns
// a *DimensionMismatchError naming the first offending vector.
func CheckDimensions(collection string, want int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != want {
			return &DimensionMismatchError{Collection: collection, Want: want, Got: len(v), Index: i}
		}
	}
	return nil
}
