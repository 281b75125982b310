package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/embedder"
	"github.com/54b3r/kbrag-go/internal/generator"
	"github.com/54b3r/kbrag-go/internal/pipeline"
	"github.com/54b3r/kbrag-go/internal/provider"
	"github.com/54b3r/kbrag-go/internal/rag"
	"github.com/54b3r/kbrag-go/internal/server"
	"github.com/54b3r/kbrag-go/internal/store"
)

// retrieval bundles the pieces every command that touches the index needs.
type retrieval struct {
	settings *config.Settings
	// embedBackend is the resolved embedding backend name.
	embedBackend string
	pipeline     *pipeline.Pipeline
	// qdrant is non-nil when INDEX_BACKEND=qdrant.
	qdrant *rag.QdrantStore
}

// buildRetrieval resolves settings, validates the embedding setup, opens the
// configured vector store and wires a Pipeline over it. The pipeline is not
// started. reg may be nil to skip metrics.
func buildRetrieval(log *slog.Logger, reg prometheus.Registerer) (*retrieval, error) {
	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	embCfg, err := embedder.ValidateForRAG(log)
	if err != nil {
		return nil, err
	}
	backend, err := embedder.New(context.Background(), embCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	client := embedder.NewClient(backend, embCfg.Backend, &embedder.ClientConfig{
		BatchSize:   settings.EmbeddingBatchSize,
		Concurrency: settings.EmbeddingConcurrency,
		RateLimit:   settings.EmbeddingRateLimit,
	}, reg)
	log.Info("embedder initialised",
		slog.String("backend", embCfg.Backend),
		slog.String("model", embCfg.Model),
	)

	r := &retrieval{settings: settings, embedBackend: embCfg.Backend}

	var vs rag.Store
	switch settings.IndexBackend {
	case config.IndexQdrant:
		dims := embCfg.Dimensions
		if dims <= 0 {
			dims = embedder.DefaultDimensions(embCfg.Backend)
		}
		qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:       settings.QdrantHost,
			Port:       settings.QdrantPort,
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     settings.QdrantAPIKey,
			UseTLS:     settings.QdrantTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", settings.QdrantHost, settings.QdrantPort, err)
		}
		r.qdrant = qs
		vs = qs
		log.Info("qdrant store ready",
			slog.String("host", settings.QdrantHost),
			slog.Int("port", settings.QdrantPort),
			slog.Int("dimension", dims),
		)
	default:
		ss, err := store.Open(settings.IndexDir)
		if err != nil {
			return nil, err
		}
		vs = ss
		log.Info("sqlite store ready", slog.String("path", ss.Path()))
	}

	p, err := pipeline.New(vs, client, &pipeline.Config{
		CorpusPath:   settings.KBPath,
		Collection:   settings.Collection,
		ChunkSize:    settings.ChunkSize,
		ChunkOverlap: settings.ChunkOverlap,
		TopK:         settings.TopK,
	}, reg)
	if err != nil {
		_ = vs.Close()
		return nil, err
	}
	r.pipeline = p
	return r, nil
}

// Close releases the vector store.
func (r *retrieval) Close() error { return r.pipeline.Close() }

// buildGenerator constructs the chat model from MODEL_PROVIDER and wraps it
// in a Generator. reg may be nil to skip metrics.
func buildGenerator(ctx context.Context, settings *config.Settings, reg prometheus.Registerer) (*generator.Generator, *provider.Config, error) {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}

	gen, err := generator.New(chatModel, &generator.Config{
		Backend:          string(providerCfg.Backend),
		MaxContextTokens: settings.ContextMaxTokens,
		Options:          providerCfg.CallOptions(),
	}, reg)
	if err != nil {
		return nil, nil, err
	}
	return gen, providerCfg, nil
}

// buildPingers assembles the readiness probes for GET /api/ready.
func buildPingers(r *retrieval, providerCfg *provider.Config, log *slog.Logger) []server.Pinger {
	pingers := []server.Pinger{server.NewIndexPinger(r.pipeline, r.settings.IndexBackend)}

	if r.qdrant != nil {
		pingers = append(pingers, server.NewQdrantPinger(r.qdrant.Client()))
	}

	hc := provider.NewHealthCheck(providerCfg, &http.Client{Timeout: 5 * time.Second})
	if lp := server.NewLLMPinger(hc, string(providerCfg.Backend)); lp != nil {
		pingers = append(pingers, lp)
	} else {
		log.Info("readiness: no cheap health probe for model backend, skipping",
			slog.String("backend", string(providerCfg.Backend)),
		)
	}
	return pingers
}
