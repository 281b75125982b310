package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/server"
	"github.com/54b3r/kbrag-go/internal/tracing"
	"github.com/54b3r/kbrag-go/internal/version"
)

// NewServeCmd constructs the `kbrag serve` command, which loads the index
// and starts the HTTP chat API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the kbrag HTTP API",
		Long: `Load the knowledge index and start the HTTP API.

On start-up the configured collection is reused when already populated;
otherwise it is built from KB_PATH. POST /api/reload-kb rebuilds it from the
current file without downtime.

Endpoints:
  POST /api/chat        {"question": "..."} → {"answer": "...", "context": [...]}
  POST /api/reload-kb   rebuild the index
  GET  /api/health      liveness
  GET  /api/ready       dependency probes
  GET  /metrics         Prometheus metrics

Examples:
  kbrag serve
  kbrag serve --port 9090
  MODEL_PROVIDER=openai KB_PATH=docs/handbook.txt kbrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			reg := prometheus.DefaultRegisterer

			// Langfuse tracing is opt-in and a no-op if keys are absent.
			handler, flush, ok := tracing.Setup(tracing.ConfigFromEnv(version.Version))
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			r, err := buildRetrieval(log, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = r.Close() }()

			gen, providerCfg, err := buildGenerator(ctx, r.settings, reg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("provider initialised",
				slog.String("provider", string(providerCfg.Backend)),
				slog.String("model", providerCfg.ModelName()),
			)

			if err := r.pipeline.Start(ctx); err != nil {
				return fmt.Errorf("serve: failed to load knowledge base: %w", err)
			}

			if !cmd.Flags().Changed("host") {
				host = r.settings.Host
			}
			if !cmd.Flags().Changed("port") {
				port = r.settings.Port
			}

			srv, err := server.New(r.pipeline, gen, &server.Config{
				Host:            host,
				Port:            port,
				TopK:            r.settings.TopK,
				Logger:          log,
				Pingers:         buildPingers(r, providerCfg, log),
				APIKey:          r.settings.APIKey,
				CORSOrigins:     r.settings.CORSOrigins,
				MetricsRegistry: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides KBRAG_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "TCP port to listen on (overrides KBRAG_PORT)")

	return cmd
}
