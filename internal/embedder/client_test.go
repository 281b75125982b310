package embedder

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// fakeBackend encodes each text's numeric suffix into its vector so tests
// can verify ordering.
type fakeBackend struct {
	mu        sync.Mutex
	batches   [][]string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	delay     time.Duration
	// mutate lets a test corrupt the response for a given batch.
	mutate func(texts []string, out [][]float32) ([][]float32, error)
}

func (f *fakeBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxFlight.Load()
		if n <= m || f.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.batches = append(f.batches, texts)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		idx, _ := strconv.Atoi(strings.TrimPrefix(t, "text-"))
		out[i] = []float32{float32(idx), 1}
	}
	if f.mutate != nil {
		return f.mutate(texts, out)
	}
	return out, nil
}

func inputs(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = "text-" + strconv.Itoa(i)
	}
	return texts
}

func TestClient_EmbedManyPreservesOrder(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{delay: 5 * time.Millisecond}
	c := NewClient(backend, "fake", &ClientConfig{BatchSize: 3, Concurrency: 4}, nil)

	texts := inputs(20)
	vecs, err := c.EmbedMany(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("want %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if v[0] != float32(i) {
			t.Errorf("vector %d belongs to text %v", i, v[0])
		}
	}
	if got := len(backend.batches); got != 7 {
		t.Errorf("want 7 batches of <=3, got %d", got)
	}
	if m := backend.maxFlight.Load(); m > 4 {
		t.Errorf("concurrency limit exceeded: %d calls in flight", m)
	}
}

func TestClient_EmbedManyEmpty(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := NewClient(backend, "fake", nil, nil)
	vecs, err := c.EmbedMany(context.Background(), nil)
	if err != nil || len(vecs) != 0 {
		t.Fatalf("want empty result, got %v, %v", vecs, err)
	}
	if len(backend.batches) != 0 {
		t.Error("backend called for empty input")
	}
}

func TestClient_EmbedOne(t *testing.T) {
	t.Parallel()

	c := NewClient(&fakeBackend{}, "fake", nil, nil)
	v, err := c.EmbedOne(context.Background(), "text-7")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if v[0] != 7 {
		t.Errorf("want vector for text-7, got %v", v)
	}
}

func TestClient_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(texts []string, out [][]float32) ([][]float32, error)
		wantOp string
	}{
		{
			name: "backend error is wrapped",
			mutate: func([]string, [][]float32) ([][]float32, error) {
				return nil, errors.New("connection refused")
			},
			wantOp: "request",
		},
		{
			name: "count mismatch",
			mutate: func(_ []string, out [][]float32) ([][]float32, error) {
				return out[:len(out)-1], nil
			},
			wantOp: "validate",
		},
		{
			name: "empty vector",
			mutate: func(_ []string, out [][]float32) ([][]float32, error) {
				out[0] = nil
				return out, nil
			},
			wantOp: "validate",
		},
		{
			name: "dimension disagreement across batches",
			mutate: func(texts []string, out [][]float32) ([][]float32, error) {
				if texts[0] == "text-4" {
					out[0] = []float32{1, 2, 3}
				}
				return out, nil
			},
			wantOp: "validate",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := NewClient(&fakeBackend{mutate: tc.mutate}, "fake", &ClientConfig{BatchSize: 2}, nil)
			vecs, err := c.EmbedMany(context.Background(), inputs(6))
			if vecs != nil {
				t.Errorf("want nil vectors on failure, got %d", len(vecs))
			}
			var ese *rag.EmbeddingServiceError
			if !errors.As(err, &ese) {
				t.Fatalf("want *EmbeddingServiceError, got %v", err)
			}
			if ese.Op != tc.wantOp || ese.Backend != "fake" {
				t.Errorf("want op %q backend fake, got %+v", tc.wantOp, ese)
			}
		})
	}
}

func TestClient_BackendServiceErrorPassesThrough(t *testing.T) {
	t.Parallel()

	orig := &rag.EmbeddingServiceError{Backend: "ollama", Op: "response", Err: errors.New("HTTP 500")}
	c := NewClient(&fakeBackend{mutate: func([]string, [][]float32) ([][]float32, error) {
		return nil, orig
	}}, "ollama", nil, nil)

	_, err := c.EmbedOne(context.Background(), "text-0")
	var ese *rag.EmbeddingServiceError
	if !errors.As(err, &ese) || ese != orig {
		t.Errorf("want original service error, got %v", err)
	}
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	c := NewClient(&fakeBackend{}, "fake", &ClientConfig{RateLimit: 0.001, Burst: 1}, nil)
	if _, err := c.EmbedOne(context.Background(), "text-0"); err != nil {
		t.Fatalf("first call within burst: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.EmbedOne(ctx, "text-1")
	var ese *rag.EmbeddingServiceError
	if !errors.As(err, &ese) || ese.Op != "rate limit" {
		t.Errorf("want rate limit error, got %v", err)
	}
}

func TestClient_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewClient(&fakeBackend{}, "fake", &ClientConfig{BatchSize: 2}, reg)
	if _, err := c.EmbedMany(context.Background(), inputs(5)); err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}

	got := testutil.ToFloat64(c.metrics.requestsTotal.WithLabelValues("fake", "ok"))
	if got != 3 {
		t.Errorf("want 3 ok requests, got %v", got)
	}
}
