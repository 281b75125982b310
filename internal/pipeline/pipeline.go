// Package pipeline owns the live knowledge index. It builds the index from
// the corpus on first start, answers retrieval queries against it and
// rebuilds it on demand without ever exposing a half-built collection.
//
// A Pipeline is safe for concurrent use. Start and Reload are serialized;
// queries run concurrently with each other and with a reload that is still
// building, and only block for the instant the new collection is swapped in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbrag-go/internal/ingestion"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// Defaults applied by New when the Config leaves a field unset.
const (
	DefaultCorpusPath = "kb/knowledge.txt"
	DefaultCollection = "knowledge_base"
	DefaultTopK       = 3
)

// ErrEmptyQuestion is returned by AnswerContext for a blank question.
var ErrEmptyQuestion = errors.New("pipeline: question is empty")

// State is the lifecycle state of a Pipeline.
type State int32

const (
	// Uninitialized means Start has not completed successfully.
	Uninitialized State = iota
	// Ready means a live collection is available for queries.
	Ready
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds the pipeline settings.
type Config struct {
	// CorpusPath is the UTF-8 knowledge file. Defaults to DefaultCorpusPath.
	CorpusPath string

	// Collection is the logical collection name. Defaults to DefaultCollection.
	Collection string

	// ChunkSize and ChunkOverlap configure the chunker.
	ChunkSize    int
	ChunkOverlap int

	// TopK is the number of chunks returned when a caller passes a
	// negative topK. Defaults to DefaultTopK.
	TopK int
}

// Stats describes the live index.
type Stats struct {
	State      State
	Collection string
	Chunks     int
	Dimension  int
}

// Pipeline couples a vector store and an embedding client into the
// retrieval half of the question-answering flow.
type Pipeline struct {
	// store hosts the live and shadow collections.
	store rag.Store
	// embedder embeds chunk texts and questions.
	embedder rag.EmbeddingClient
	// indexer performs chunk → embed → insert.
	indexer *ingestion.Indexer
	// cfg holds the resolved configuration.
	cfg Config
	// metrics is nil when no registerer was supplied.
	metrics *pipelineMetrics

	// buildMu serializes Start and Reload.
	buildMu sync.Mutex

	// mu guards live and state. Queries hold the read lock while querying;
	// the swap holds the write lock.
	mu    sync.RWMutex
	live  rag.Collection
	state State
}

// New constructs a Pipeline in the Uninitialized state. reg may be nil to
// skip metrics registration.
func New(store rag.Store, embedder rag.EmbeddingClient, cfg *Config, reg prometheus.Registerer) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("pipeline: store must not be nil")
	}
	c := Config{ChunkOverlap: ingestion.DefaultChunkOverlap}
	if cfg != nil {
		c = *cfg
	}
	if c.CorpusPath == "" {
		c.CorpusPath = DefaultCorpusPath
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	c.ChunkSize, c.ChunkOverlap = ingestion.Normalize(c.ChunkSize, c.ChunkOverlap)

	indexer, err := ingestion.NewIndexer(embedder, &ingestion.Config{
		ChunkSize:    c.ChunkSize,
		ChunkOverlap: c.ChunkOverlap,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{store: store, embedder: embedder, indexer: indexer, cfg: c}
	if reg != nil {
		p.metrics = newPipelineMetrics(reg)
	}
	return p, nil
}

// Start opens the configured collection and makes the pipeline Ready.
// An empty collection is built from the corpus; a populated one is reused
// as is, with no chunking or embedding. A missing corpus file is logged and
// leaves the index empty. Calling Start on a Ready pipeline is a no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	if p.State() == Ready {
		return nil
	}
	log := logging.FromContext(ctx).With(slog.String("collection", p.cfg.Collection))

	res, err := p.store.Open(ctx, p.cfg.Collection)
	if err != nil {
		return fmt.Errorf("pipeline: open collection: %w", err)
	}

	if res.Populated {
		n, err := res.Collection.Count(ctx)
		if err != nil {
			return fmt.Errorf("pipeline: count collection: %w", err)
		}
		log.Info("pipeline: using existing index",
			slog.Int("chunks", n),
			slog.Int("dimension", res.Collection.Dimension()),
		)
		p.swap(res.Collection, n)
		return nil
	}

	if res.Created {
		log.Info("pipeline: created collection")
	}

	text, err := ingestion.ReadCorpus(p.cfg.CorpusPath)
	if errors.Is(err, rag.ErrCorpusNotFound) {
		log.Warn("pipeline: corpus not found, starting with an empty index",
			slog.String("path", p.cfg.CorpusPath),
		)
		p.swap(res.Collection, 0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	if _, err := p.rebuild(ctx, text); err != nil {
		return err
	}
	return nil
}

// Reload rebuilds the index from the current corpus into a shadow
// collection and swaps it in only once fully built. On any failure the
// shadow is discarded and the previous index keeps serving queries.
// It returns the number of chunks in the new index.
func (p *Pipeline) Reload(ctx context.Context) (int, error) {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	text, err := ingestion.ReadCorpus(p.cfg.CorpusPath)
	if err != nil {
		p.observeReload("failure")
		return 0, fmt.Errorf("pipeline: reload: %w", err)
	}
	return p.rebuild(ctx, text)
}

// rebuild indexes text into a shadow collection and promotes it.
// Callers hold buildMu.
func (p *Pipeline) rebuild(ctx context.Context, text string) (int, error) {
	log := logging.FromContext(ctx).With(slog.String("collection", p.cfg.Collection))
	start := time.Now()

	shadow, err := p.store.Stage(ctx, p.cfg.Collection)
	if err != nil {
		p.observeReload("failure")
		return 0, fmt.Errorf("pipeline: stage collection: %w", err)
	}

	n, err := p.indexer.Index(ctx, shadow, text, func(msg string) {
		log.Debug("pipeline: " + msg)
	})
	if err != nil {
		p.discard(ctx, log, shadow)
		p.observeReload("failure")
		return 0, fmt.Errorf("pipeline: index corpus: %w", err)
	}

	// A *rag.CleanupError means the shadow is already live and only the old
	// collection was left behind, so the shadow must not be discarded.
	var cleanup *rag.CleanupError
	p.mu.Lock()
	coll, err := p.store.Promote(ctx, p.cfg.Collection, shadow)
	promoted := err == nil || (errors.As(err, &cleanup) && coll != nil)
	if promoted {
		p.live = coll
		p.state = Ready
	}
	p.mu.Unlock()
	if !promoted {
		p.discard(ctx, log, shadow)
		p.observeReload("failure")
		return 0, fmt.Errorf("pipeline: promote collection: %w", err)
	}
	if cleanup != nil {
		log.Warn("pipeline: previous collection left behind",
			slog.String("previous", cleanup.Collection),
			slog.Any("error", cleanup.Err),
		)
	}

	p.observeReload("success")
	p.setIndexed(n)
	log.Info("pipeline: index built",
		slog.Int("chunks", n),
		slog.Duration("elapsed", time.Since(start)),
	)
	return n, nil
}

// discard drops a shadow collection after a failed build. The cleanup
// outlives a cancelled ctx so the shadow is not left behind.
func (p *Pipeline) discard(ctx context.Context, log *slog.Logger, shadow rag.Collection) {
	if err := p.store.Discard(context.WithoutCancel(ctx), shadow); err != nil {
		log.Warn("pipeline: failed to discard shadow collection",
			slog.String("shadow", shadow.Name()),
			slog.Any("error", err),
		)
	}
}

// swap installs coll as the live collection and marks the pipeline Ready.
func (p *Pipeline) swap(coll rag.Collection, chunks int) {
	p.mu.Lock()
	p.live = coll
	p.state = Ready
	p.mu.Unlock()
	p.setIndexed(chunks)
}

// AnswerContext returns the texts of at most topK chunks most similar to
// question, best match first. topK == 0 returns no chunks; a negative topK
// selects the configured default.
func (p *Pipeline) AnswerContext(ctx context.Context, question string, topK int) ([]string, error) {
	matches, err := p.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Text
	}
	return texts, nil
}

// Retrieve is AnswerContext with chunk identifiers and similarity scores.
func (p *Pipeline) Retrieve(ctx context.Context, question string, topK int) ([]rag.Match, error) {
	if p.State() != Ready {
		return nil, rag.ErrNotReady
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if topK < 0 {
		topK = p.cfg.TopK
	}
	if topK == 0 {
		return []rag.Match{}, nil
	}

	start := time.Now()
	vec, err := p.embedder.EmbedOne(ctx, question)
	if err != nil {
		p.observeQuery("error", time.Since(start))
		return nil, fmt.Errorf("pipeline: embed question: %w", err)
	}

	// Close may have run while the question was being embedded.
	p.mu.RLock()
	live, state := p.live, p.state
	if state != Ready || live == nil {
		p.mu.RUnlock()
		return nil, rag.ErrNotReady
	}
	matches, err := live.Query(ctx, vec, topK)
	p.mu.RUnlock()
	if err != nil {
		p.observeQuery("error", time.Since(start))
		return nil, fmt.Errorf("pipeline: query: %w", err)
	}
	p.observeQuery("ok", time.Since(start))

	logging.FromContext(ctx).Debug("pipeline: retrieved context",
		slog.Int("top_k", topK),
		slog.Int("matches", len(matches)),
	)
	return matches, nil
}

// State reports the lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats reports the live index size. It returns rag.ErrNotReady before
// Start has succeeded.
func (p *Pipeline) Stats(ctx context.Context) (Stats, error) {
	p.mu.RLock()
	coll, state := p.live, p.state
	p.mu.RUnlock()
	if state != Ready {
		return Stats{State: state, Collection: p.cfg.Collection}, rag.ErrNotReady
	}
	n, err := coll.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("pipeline: count collection: %w", err)
	}
	return Stats{State: state, Collection: p.cfg.Collection, Chunks: n, Dimension: coll.Dimension()}, nil
}

// Ping reports whether the underlying store is reachable.
func (p *Pipeline) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// Close releases the store. The pipeline must not be used afterwards.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.state = Uninitialized
	p.live = nil
	p.mu.Unlock()
	return p.store.Close()
}
