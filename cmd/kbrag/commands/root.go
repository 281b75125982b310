// Package commands defines all Cobra CLI commands for the kbrag binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/audit"
	"github.com/54b3r/kbrag-go/internal/config"
	"github.com/54b3r/kbrag-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "kbrag",
		Short: "kbrag: grounded question answering over a knowledge file",
		Long: `kbrag answers questions using only the content of a knowledge file.

The file (KB_PATH) is split into overlapping chunks, embedded and stored in a
local SQLite index or in Qdrant. Each question retrieves the closest chunks
and a chat model answers from that context alone.

Configuration comes from environment variables, an optional .env file and an
optional YAML file (~/.kbrag/config.yaml). Environment variables always win.
See 'kbrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			boot := logging.New()

			applied, err := config.LoadDotEnv("")
			if err != nil {
				return err
			}
			if applied {
				boot.Debug("config: applied .env file")
			}

			path, err := config.Load(configPath, boot)
			if err != nil {
				return err
			}

			// LOG_LEVEL and LOG_FORMAT may have come from a file.
			log := logging.New()
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), path)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.kbrag/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewIndexCmd(),
		NewAskCmd(),
		NewVersionCmd(),
	)

	return root
}
