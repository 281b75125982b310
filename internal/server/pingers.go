package server

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/kbrag-go/internal/pipeline"
	"github.com/54b3r/kbrag-go/internal/provider"
)

// LLMPinger probes the chat model backend through its zero-cost health
// endpoint. It satisfies the Pinger interface and is used by GET /api/ready.
type LLMPinger struct {
	// healthCheck is the backend probe.
	healthCheck provider.HealthCheckConfig
	// name identifies the backend in readiness responses (e.g. "ollama").
	name string
}

// NewLLMPinger constructs an LLMPinger. It returns nil when hc is nil, so
// callers can skip backends without a cheap probe.
func NewLLMPinger(hc provider.HealthCheckConfig, name string) *LLMPinger {
	if hc == nil {
		return nil
	}
	return &LLMPinger{healthCheck: hc, name: name}
}

// Name returns the backend label used in readiness responses.
func (p *LLMPinger) Name() string { return p.name }

// Ping runs the backend health check.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if err := p.healthCheck.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s health check failed: %w", p.name, err)
	}
	return nil
}

// indexPinger is the subset of *pipeline.Pipeline used by IndexPinger.
type indexPinger interface {
	Ping(ctx context.Context) error
	State() pipeline.State
}

// IndexPinger reports the pipeline as unready until its index is loaded,
// and probes the vector store behind it.
type IndexPinger struct {
	index indexPinger
	name  string
}

// NewIndexPinger constructs an IndexPinger labelled with the index backend
// (e.g. "sqlite").
func NewIndexPinger(index indexPinger, backend string) *IndexPinger {
	return &IndexPinger{index: index, name: "index:" + backend}
}

// Name returns the dependency label used in readiness responses.
func (p *IndexPinger) Name() string { return p.name }

// Ping checks that the index is loaded and the store answers.
func (p *IndexPinger) Ping(ctx context.Context) error {
	if st := p.index.State(); st != pipeline.Ready {
		return fmt.Errorf("pipeline is %s", st)
	}
	if err := p.index.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
