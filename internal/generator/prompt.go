// Package generator turns retrieved context and a question into an answer
// using an eino chat model.
package generator

import (
	"strings"
)

const (
	// NoContext replaces the context block when retrieval found nothing.
	NoContext = "No relevant context found."

	// Sentinel is returned as the answer when the model produced no text.
	Sentinel = "Sorry, I could not generate a response."

	// contextSeparator joins retrieved chunks inside the prompt.
	contextSeparator = "\n\n"

	promptHeader = "You are a helpful AI assistant. Use the following context to answer the user's question. " +
		"If the context doesn't contain relevant information, say so politely.\n\nContext:\n"
)

// BuildPrompt renders the grounded prompt for question. context is the
// ordered list of retrieved chunk texts, best match first.
func BuildPrompt(context []string, question string) string {
	block := NoContext
	if len(context) > 0 {
		block = strings.Join(context, contextSeparator)
	}

	var b strings.Builder
	b.Grow(len(promptHeader) + len(block) + len(question) + 24)
	b.WriteString(promptHeader)
	b.WriteString(block)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer: ")
	return b.String()
}
