// Command kbrag answers questions grounded in a static knowledge file.
// It indexes the file into a vector store, serves an HTTP chat API and
// offers one-shot CLI queries (via Cobra).
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbrag-go/cmd/kbrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
