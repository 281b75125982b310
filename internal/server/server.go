// Package server implements the HTTP front end that answers questions over
// the knowledge base and lets operators reload it.
// The server is started by the `kbrag serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/kbrag-go/internal/generator"
	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/pipeline"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// maxBodyBytes caps the size of a JSON request body.
const maxBodyBytes = 64 << 10

// Client-facing error messages. Causes are logged, never returned.
const (
	msgInvalidBody   = "invalid request body"
	msgEmptyQuestion = "Question cannot be empty"
	msgNotReady      = "knowledge base is not ready"
	msgTimeout       = "request timed out"
	msgChatFailed    = "error processing request"
	msgReloadFailed  = "error reloading knowledge base"
	msgReloadBusy    = "knowledge base reload already in progress"
)

// New constructs a Server answering from p and gen.
func New(p *pipeline.Pipeline, gen *generator.Generator, cfg *Config) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server: pipeline must not be nil")
	}
	if gen == nil {
		return nil, fmt.Errorf("server: generator must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	applyDefaults(cfg)

	s := &Server{
		retriever: p,
		reloader:  p,
		answerer:  gen,
		cfg:       cfg,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	s.limits = newLimits(cfg)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(s.limits),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: KBRAG_API_KEY not set, /api/chat and /api/reload-kb are unauthenticated")
	}
	return s, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = 2 * time.Minute
	}
	if cfg.ReloadTimeout == 0 {
		cfg.ReloadTimeout = 10 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must outlast the slowest handler.
		cfg.WriteTimeout = cfg.ReloadTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.TopK <= 0 {
		cfg.TopK = pipeline.DefaultTopK
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultChatRate
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultChatBurst
	}
	if cfg.ReloadRateLimit == 0 {
		cfg.ReloadRateLimit = defaultReloadRate
	}
	if cfg.ReloadRateBurst == 0 {
		cfg.ReloadRateBurst = defaultReloadBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
}

// routes builds the handler tree. The unprefixed paths are kept for
// front ends that call the API without the /api prefix.
func (s *Server) routes(ls *limits) http.Handler {
	protect := func(l *routeLimit, h http.HandlerFunc) http.Handler {
		return s.throttle(l, authMiddleware(s.cfg.APIKey, h))
	}
	chat := protect(ls.chat, s.handleChat)
	reload := protect(ls.reload, s.handleReload)

	mux := http.NewServeMux()
	for _, prefix := range []string{"/api", ""} {
		mux.Handle("POST "+prefix+"/chat", chat)
		mux.Handle("POST "+prefix+"/reload-kb", reload)
		mux.HandleFunc("GET "+prefix+"/health", s.handleHealth)
	}
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	var h http.Handler = mux
	h = s.instrument(h)
	h = corsMiddleware(s.cfg.CORSOrigins, h)
	h = requestLogger(s.log, h)
	return h
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.limits.stop()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.log.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleChat handles POST /api/chat: retrieve context for the question,
// generate an answer and return both.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, msgEmptyQuestion)
		return
	}

	if s.metrics != nil {
		s.metrics.chatInFlight.Inc()
		defer s.metrics.chatInFlight.Dec()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	retrieved, err := s.retriever.AnswerContext(ctx, question, s.cfg.TopK)
	if err != nil {
		s.chatFailed(w, log, "retrieve", err, start)
		return
	}
	log.Debug("chat: context retrieved", slog.Int("chunks", len(retrieved)))

	ans, err := s.answerer.Generate(ctx, retrieved, question)
	if err != nil {
		s.chatFailed(w, log, "generate", err, start)
		return
	}
	if ans.Source != generator.SourceContent {
		log.Info("chat: answer from fallback source", slog.String("source", string(ans.Source)))
	}

	if retrieved == nil {
		retrieved = []string{}
	}
	s.observeChat("ok", start)
	writeJSON(w, http.StatusOK, chatResponse{Answer: ans.Text, Context: retrieved})
}

// chatFailed maps a retrieval or generation error onto a client-safe
// response and records the outcome.
func (s *Server) chatFailed(w http.ResponseWriter, log *slog.Logger, stage string, err error, start time.Time) {
	switch {
	case errors.Is(err, rag.ErrNotReady):
		log.Warn("chat: pipeline not ready", slog.String("stage", stage))
		s.observeChat("not_ready", start)
		writeError(w, http.StatusServiceUnavailable, msgNotReady)
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		s.observeChat("bad_request", start)
		writeError(w, http.StatusBadRequest, msgEmptyQuestion)
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("chat: timed out", slog.String("stage", stage), slog.Any("error", err))
		s.observeChat("timeout", start)
		writeError(w, http.StatusGatewayTimeout, msgTimeout)
	default:
		log.Error("chat: failed", slog.String("stage", stage), slog.Any("error", err))
		s.observeChat("error", start)
		writeError(w, http.StatusInternalServerError, msgChatFailed)
	}
}

func (s *Server) observeChat(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// handleReload handles POST /api/reload-kb. The rebuild outlives a client
// disconnect so an interrupted request does not waste a half-built index.
// A second reload arriving while one runs gets 409 instead of queueing.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if !s.reloading.CompareAndSwap(false, true) {
		log.Warn("reload: rejected, rebuild already running")
		s.observeThrottle(routeReload, "busy")
		writeError(w, http.StatusConflict, msgReloadBusy)
		return
	}
	defer s.reloading.Store(false)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.ReloadTimeout)
	defer cancel()

	log.Info("reload: rebuilding knowledge base")
	n, err := s.reloader.Reload(ctx)
	if err != nil {
		log.Error("reload: failed, previous index kept", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, msgReloadFailed)
		return
	}
	log.Info("reload: done", slog.Int("chunks", n))
	writeJSON(w, http.StatusOK, reloadResponse{
		Status:  "success",
		Message: "Knowledge base reloaded",
		Chunks:  n,
	})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
