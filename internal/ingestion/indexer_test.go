package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// fakeEmbedder returns a two-dimensional vector per text and records calls.
type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

// fakeCollection records inserted chunks in memory.
type fakeCollection struct {
	chunks  []rag.Chunk
	vectors [][]float32
}

func (c *fakeCollection) Name() string { return "test" }
func (c *fakeCollection) Dimension() int { return 2 }
func (c *fakeCollection) Count(context.Context) (int, error) { return len(c.chunks), nil }
func (c *fakeCollection) Query(context.Context, []float32, int) ([]rag.Match, error) {
	return nil, nil
}
func (c *fakeCollection) InsertMany(_ context.Context, chunks []rag.Chunk, vectors [][]float32) error {
	c.chunks = append(c.chunks, chunks...)
	c.vectors = append(c.vectors, vectors...)
	return nil
}

func TestIndexer_Index(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{}
	ix, err := NewIndexer(emb, &Config{ChunkSize: 50, ChunkOverlap: 10})
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	coll := &fakeCollection{}

	var msgs []string
	n, err := ix.Index(context.Background(), coll, paris, func(m string) { msgs = append(msgs, m) })
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if n != 3 || len(coll.chunks) != 3 || len(coll.vectors) != 3 {
		t.Fatalf("want 3 chunks/vectors, got n=%d chunks=%d vectors=%d", n, len(coll.chunks), len(coll.vectors))
	}
	if emb.calls != 1 {
		t.Errorf("want a single batch embedding call, got %d", emb.calls)
	}
	for i, c := range coll.chunks {
		if c.Key() != rag.ChunkKey(i) {
			t.Errorf("chunk %d stored as %s", i, c.Key())
		}
		if coll.vectors[i][0] != float32(len(c.Text)) {
			t.Errorf("vector %d not aligned with its chunk", i)
		}
	}
	if len(msgs) == 0 {
		t.Error("progress callback never invoked")
	}
}

func TestIndexer_EmptyCorpusSkipsEmbedding(t *testing.T) {
	t.Parallel()

	emb := &fakeEmbedder{}
	ix, err := NewIndexer(emb, nil)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	n, err := ix.Index(context.Background(), &fakeCollection{}, "   ", nil)
	if err != nil || n != 0 {
		t.Fatalf("want 0/nil, got %d/%v", n, err)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times for an empty corpus", emb.calls)
	}
}

func TestIndexer_EmbeddingFailureAborts(t *testing.T) {
	t.Parallel()

	cause := &rag.EmbeddingServiceError{Backend: "fake", Op: "request", Err: errors.New("boom")}
	ix, err := NewIndexer(&fakeEmbedder{err: cause}, nil)
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	coll := &fakeCollection{}
	_, err = ix.Index(context.Background(), coll, paris, nil)

	var ese *rag.EmbeddingServiceError
	if !errors.As(err, &ese) {
		t.Fatalf("want *EmbeddingServiceError, got %v", err)
	}
	if len(coll.chunks) != 0 {
		t.Errorf("collection written despite embedding failure")
	}
}

func TestNewIndexer_NilEmbedder(t *testing.T) {
	t.Parallel()
	if _, err := NewIndexer(nil, nil); err == nil {
		t.Error("want error for nil embedder")
	}
}

func TestReadCorpus(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := ReadCorpus(filepath.Join(dir, "missing.txt"))
	if !errors.Is(err, rag.ErrCorpusNotFound) {
		t.Errorf("missing file: want ErrCorpusNotFound, got %v", err)
	}

	good := filepath.Join(dir, "knowledge.txt")
	if err := os.WriteFile(good, []byte(paris), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadCorpus(good)
	if err != nil || got != paris {
		t.Errorf("read: got %q, %v", got, err)
	}

	bad := filepath.Join(dir, "binary.txt")
	if err := os.WriteFile(bad, []byte{0xff, 0xfe, 0xfd}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadCorpus(bad); err == nil || errors.Is(err, rag.ErrCorpusNotFound) {
		t.Errorf("invalid UTF-8: want hard error, got %v", err)
	}
}
