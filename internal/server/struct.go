package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/kbrag-go/internal/generator"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds retrieval plus generation for one /api/chat request.
	// Defaults to 2 minutes.
	ChatTimeout time.Duration
	// ReloadTimeout bounds one /api/reload-kb rebuild. Defaults to 10 minutes.
	ReloadTimeout time.Duration
	// TopK is the number of context chunks retrieved per question.
	// Defaults to pipeline.DefaultTopK.
	TopK int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained /api/chat rate allowed per IP
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the /api/chat burst per IP. Defaults to 20 if zero.
	RateBurst int
	// ReloadRateLimit is the sustained /api/reload-kb rate allowed per IP.
	// Defaults to one rebuild every 30 seconds.
	ReloadRateLimit float64
	// ReloadRateBurst is the /api/reload-kb burst per IP. Defaults to 2.
	ReloadRateBurst int
	// APIKey is the Bearer token required on /api/chat and /api/reload-kb.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// CORSOrigins lists the browser origins allowed to call the API.
	// "*" allows any origin.
	CORSOrigins []string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// retriever returns context chunks for a question.
// *pipeline.Pipeline satisfies it; tests inject a fake.
type retriever interface {
	AnswerContext(ctx context.Context, question string, topK int) ([]string, error)
}

// reloader rebuilds the knowledge index. *pipeline.Pipeline satisfies it.
type reloader interface {
	Reload(ctx context.Context) (int, error)
}

// answerer writes an answer from retrieved context.
// *generator.Generator satisfies it.
type answerer interface {
	Generate(ctx context.Context, context []string, question string) (generator.Answer, error)
}

// Server is the HTTP front end of the question-answering service.
type Server struct {
	// retriever supplies context for /api/chat.
	retriever retriever
	// reloader handles /api/reload-kb.
	reloader reloader
	// answerer generates the answer for /api/chat.
	answerer answerer
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus metrics for this server.
	metrics *serverMetrics
	// limits holds the per-route rate budgets.
	limits *limits
	// reloading is set while a /api/reload-kb rebuild runs.
	reloading atomic.Bool
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Answer is the generated answer.
	Answer string `json:"answer"`
	// Context is the retrieved chunk texts the answer was grounded on,
	// best match first. Never null.
	Context []string `json:"context"`
}

// reloadResponse is the JSON response for POST /api/reload-kb.
type reloadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	// Chunks is the number of chunks in the rebuilt index.
	Chunks int `json:"chunks"`
}

// errorResponse is the JSON body of every 4xx/5xx produced by a handler.
type errorResponse struct {
	// Detail is a client-safe message. Internal causes are only logged.
	Detail string `json:"detail"`
}
