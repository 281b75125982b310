package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/kbrag-go/internal/logging"
	"github.com/54b3r/kbrag-go/internal/rag"
)

// NewAskCmd constructs the `kbrag ask` command, which answers a single
// question from the knowledge file and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var topK int
	var contextOnly bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question answered from the knowledge file",
		Long: `Retrieve the chunks closest to the question and answer from them.

The index is built first if the collection is empty. With --context-only the
retrieved chunks are printed with their similarity scores and no chat model
is called.

Examples:
  kbrag ask "What is the capital of France?"
  kbrag ask --top-k 5 "Which plants use photosynthesis?"
  kbrag ask --context-only "refund policy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)
			out := cmd.OutOrStdout()

			question := strings.TrimSpace(strings.Join(args, " "))

			r, err := buildRetrieval(log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer func() { _ = r.Close() }()

			if err := r.pipeline.Start(ctx); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			if !cmd.Flags().Changed("top-k") {
				topK = r.settings.TopK
			}

			if contextOnly {
				matches, err := r.pipeline.Retrieve(ctx, question, topK)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				printMatches(out, matches)
				return nil
			}

			gen, _, err := buildGenerator(ctx, r.settings, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			retrieved, err := r.pipeline.AnswerContext(ctx, question, topK)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			ans, err := gen.Generate(ctx, retrieved, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out, ans.Text)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: RAG_TOP_K)")
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "Print the retrieved chunks without calling the chat model")

	return cmd
}

// printMatches writes one numbered block per match, best first.
func printMatches(w io.Writer, matches []rag.Match) {
	if len(matches) == 0 {
		fmt.Fprintln(w, "no matching context")
		return
	}
	for i, m := range matches {
		fmt.Fprintf(w, "[%d] score=%.3f id=%s\n%s\n\n", i+1, m.Score, m.ID, m.Text)
	}
}
