package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/54b3r/kbrag-go/internal/rag"
)

// Client defaults.
const (
	// DefaultBatchSize is the number of texts sent per backend call.
	DefaultBatchSize = 64
	// DefaultConcurrency is the number of backend calls allowed in flight.
	DefaultConcurrency = 4
)

// ClientConfig tunes how a Client drives its backend.
type ClientConfig struct {
	// BatchSize is the maximum number of texts per backend call.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Concurrency bounds the number of backend calls in flight.
	// Defaults to DefaultConcurrency if zero.
	Concurrency int

	// RateLimit is the sustained backend call rate in requests per second.
	// Zero disables rate limiting.
	RateLimit float64

	// Burst is the limiter bucket size. Defaults to Concurrency.
	Burst int
}

// Client implements rag.EmbeddingClient on top of a rag.Embedder backend.
// EmbedMany splits its input into batches, dispatches them in parallel up to
// the configured concurrency and reassembles the results in input order.
// Every response is validated: one non-empty vector per input, all of the
// same dimension. Any failure aborts the whole call with a
// *rag.EmbeddingServiceError; there is no retry and no placeholder vector.
type Client struct {
	// backend performs the actual embedding calls.
	backend rag.Embedder
	// name labels errors and metrics with the backend name.
	name string
	// cfg holds the resolved client configuration.
	cfg ClientConfig
	// limiter paces backend calls. Nil when rate limiting is disabled.
	limiter *rate.Limiter
	// metrics is nil when no registerer was supplied.
	metrics *clientMetrics
}

// NewClient wraps backend. reg may be nil to skip metrics registration.
func NewClient(backend rag.Embedder, name string, cfg *ClientConfig, reg prometheus.Registerer) *Client {
	c := ClientConfig{}
	if cfg != nil {
		c = *cfg
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Burst <= 0 {
		c.Burst = c.Concurrency
	}

	client := &Client{backend: backend, name: name, cfg: c}
	if c.RateLimit > 0 {
		client.limiter = rate.NewLimiter(rate.Limit(c.RateLimit), c.Burst)
	}
	if reg != nil {
		client.metrics = newClientMetrics(reg)
	}
	return client
}

// Backend returns the backend name the client was constructed with.
func (c *Client) Backend() string { return c.name }

// EmbedOne returns the embedding of a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany returns one embedding per input text, parallel to texts.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.call(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := len(out[0])
	for i, v := range out {
		if len(v) != dim {
			return nil, c.fail("validate", fmt.Errorf("vector %d has dimension %d, batch dimension is %d", i, len(v), dim))
		}
	}
	return out, nil
}

// call performs one validated backend request for texts.
func (c *Client) call(ctx context.Context, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.fail("rate limit", err)
		}
	}

	start := time.Now()
	vecs, err := c.backend.Embed(ctx, texts)
	c.observe(err, time.Since(start))
	if err != nil {
		var ese *rag.EmbeddingServiceError
		if errors.As(err, &ese) {
			return nil, err
		}
		return nil, c.fail("request", err)
	}

	if len(vecs) != len(texts) {
		return nil, c.fail("validate", fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs)))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, c.fail("validate", fmt.Errorf("embedding %d is empty", i))
		}
	}
	return vecs, nil
}

func (c *Client) fail(op string, err error) error {
	return &rag.EmbeddingServiceError{Backend: c.name, Op: op, Err: err}
}

func (c *Client) observe(err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.requestsTotal.WithLabelValues(c.name, outcome).Inc()
	c.metrics.durationSeconds.WithLabelValues(c.name).Observe(d.Seconds())
}

// clientMetrics holds the Prometheus metrics owned by an embedding Client.
type clientMetrics struct {
	// requestsTotal counts backend calls, partitioned by backend and outcome.
	requestsTotal *prometheus.CounterVec
	// durationSeconds records backend call latency.
	durationSeconds *prometheus.HistogramVec
}

func newClientMetrics(reg prometheus.Registerer) *clientMetrics {
	factory := promauto.With(reg)
	return &clientMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Total number of embedding backend calls, partitioned by backend and outcome.",
		}, []string{"backend", "outcome"}),
		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Latency of embedding backend calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
	}
}
