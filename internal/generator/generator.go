package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/kbrag-go/internal/budget"
	"github.com/54b3r/kbrag-go/internal/logging"
)

// Source names the part of the model response an answer was taken from.
type Source string

const (
	// SourceContent means the message's plain Content field held the answer.
	SourceContent Source = "content"
	// SourceMultiContent means the answer was assembled from text parts.
	SourceMultiContent Source = "multi_content"
	// SourceSentinel means the response carried no text at all.
	SourceSentinel Source = "sentinel"
)

// Answer is a generated answer and where it came from.
type Answer struct {
	Text   string
	Source Source
}

// Config tunes a Generator.
type Config struct {
	// Backend labels logs and metrics (e.g. "ollama").
	Backend string

	// MaxContextTokens bounds the estimated prompt size. Lowest-ranked
	// chunks are dropped to fit. Zero means budget.DefaultMaxContextTokens;
	// negative disables trimming.
	MaxContextTokens int

	// Options are passed to every Generate call (sampling parameters).
	Options []model.Option
}

// Generator produces answers grounded in retrieved context.
// It is safe for concurrent use.
type Generator struct {
	// model is the chat model that writes the answer.
	model model.BaseChatModel
	// cfg holds the resolved configuration.
	cfg Config
	// metrics is nil when no registerer was supplied.
	metrics *generatorMetrics
}

// New constructs a Generator. reg may be nil to skip metrics registration.
func New(m model.BaseChatModel, cfg *Config, reg prometheus.Registerer) (*Generator, error) {
	if m == nil {
		return nil, errors.New("generator: chat model is required")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	g := &Generator{model: m, cfg: c}
	if reg != nil {
		g.metrics = newGeneratorMetrics(reg)
	}
	return g, nil
}

// Generate asks the model to answer question from retrieved context.
// Transport and model errors are returned; an empty response is not an
// error and yields the Sentinel answer.
func (g *Generator) Generate(ctx context.Context, retrieved []string, question string) (Answer, error) {
	log := logging.FromContext(ctx)

	fixed := budget.Estimate(BuildPrompt(nil, question))
	kept := budget.TrimContext(fixed, retrieved, g.cfg.MaxContextTokens)
	if len(kept) < len(retrieved) {
		log.Warn("generator: context trimmed to fit token budget",
			slog.Int("retrieved", len(retrieved)),
			slog.Int("kept", len(kept)),
			slog.Int("max_tokens", g.cfg.MaxContextTokens),
		)
	}

	msgs := []*schema.Message{schema.UserMessage(BuildPrompt(kept, question))}
	log.Debug("generator: invoking model",
		slog.String("backend", g.cfg.Backend),
		slog.Int("context_chunks", len(kept)),
		slog.Int("prompt_tokens_est", budget.EstimateMessages(msgs)),
	)

	start := time.Now()
	resp, err := g.model.Generate(ctx, msgs, g.cfg.Options...)
	if err != nil {
		g.observe("error", time.Since(start))
		return Answer{}, fmt.Errorf("generator: generate: %w", err)
	}

	ans := extract(resp)
	if ans.Source != SourceContent {
		log.Warn("generator: falling back to secondary response field",
			slog.String("backend", g.cfg.Backend),
			slog.String("source", string(ans.Source)),
		)
	}
	g.observe(string(ans.Source), time.Since(start))
	return ans, nil
}

// extract walks the response fallback chain: Content, then the text parts
// of MultiContent, then Sentinel.
func extract(msg *schema.Message) Answer {
	if msg == nil {
		return Answer{Text: Sentinel, Source: SourceSentinel}
	}
	if text := strings.TrimSpace(msg.Content); text != "" {
		return Answer{Text: text, Source: SourceContent}
	}

	var parts []string
	for _, p := range msg.MultiContent {
		if p.Type == schema.ChatMessagePartTypeText && strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	if text := strings.TrimSpace(strings.Join(parts, "")); text != "" {
		return Answer{Text: text, Source: SourceMultiContent}
	}
	return Answer{Text: Sentinel, Source: SourceSentinel}
}

func (g *Generator) observe(outcome string, d time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.answersTotal.WithLabelValues(outcome).Inc()
	g.metrics.durationSeconds.Observe(d.Seconds())
}

// generatorMetrics holds the Prometheus metrics owned by a Generator.
type generatorMetrics struct {
	// answersTotal counts model calls by outcome: a Source value or "error".
	answersTotal *prometheus.CounterVec
	// durationSeconds records model call latency.
	durationSeconds prometheus.Histogram
}

func newGeneratorMetrics(reg prometheus.Registerer) *generatorMetrics {
	factory := promauto.With(reg)
	return &generatorMetrics{
		answersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kbrag",
			Subsystem: "generator",
			Name:      "answers_total",
			Help:      "Total number of chat model calls, partitioned by answer source or error.",
		}, []string{"outcome"}),
		durationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kbrag",
			Subsystem: "generator",
			Name:      "duration_seconds",
			Help:      "Latency of chat model calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
	}
}
