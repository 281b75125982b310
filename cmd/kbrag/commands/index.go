package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// NewIndexCmd constructs the `kbrag index` command, which builds the vector
// index from the knowledge file without starting the server.
func NewIndexCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Build the vector index from the knowledge file",
		Long: `Chunk, embed and store the knowledge file (KB_PATH).

Without --rebuild an already populated collection is left untouched. With
--rebuild the index is rebuilt into a shadow collection and swapped in only
once complete, so a failure keeps the previous index.

Relevant environment variables:
  KB_PATH              Knowledge file (default: kb/knowledge.txt)
  INDEX_BACKEND        sqlite or qdrant (default: sqlite)
  INDEX_DIR            SQLite index directory (default: kb_index)
  INDEX_COLLECTION     Collection name (default: knowledge_base)
  CHUNK_SIZE           Chunk size in characters (default: 500)
  CHUNK_OVERLAP        Overlap in characters (default: 50)
  EMBEDDING_*          Embedding backend overrides (see README)

Examples:
  kbrag index
  kbrag index --rebuild
  KB_PATH=docs/handbook.txt INDEX_BACKEND=qdrant kbrag index`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			r, err := buildRetrieval(log, nil)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer func() { _ = r.Close() }()

			if rebuild {
				n, err := r.pipeline.Reload(ctx)
				if err != nil {
					return fmt.Errorf("index: rebuild failed, previous index kept: %w", err)
				}
				log.Info("index rebuilt", slog.Int("chunks", n))
			} else if err := r.pipeline.Start(ctx); err != nil {
				return fmt.Errorf("index: %w", err)
			}

			stats, err := r.pipeline.Stats(ctx)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collection %q: %d chunks (dimension %d) from %s\n",
				stats.Collection, stats.Chunks, stats.Dimension, r.settings.KBPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the index even if the collection is populated")

	return cmd
}
