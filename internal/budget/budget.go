// Package budget provides token budget estimation and context trimming for
// answer generation. Because kbrag supports multiple LLM backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This under-estimates
// token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default prompt budget in tokens.
	// Sized for 8k-context models with room left for a 1000-token answer.
	// Override via CONTEXT_MAX_TOKENS.
	DefaultMaxContextTokens = 6000

	// separatorTokens is the cost of the blank line joining two chunks.
	separatorTokens = 1
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// TrimContext drops retrieved chunks from the end of chunks until
// fixedTokens plus the joined chunks fit within maxTokens. chunks must be
// ordered best match first, so the lowest-ranked chunks go first.
// fixedTokens covers the prompt template and the question, which are never
// trimmed. maxTokens <= 0 disables trimming.
//
// If even the best chunk does not fit, the empty slice is returned; callers
// should log that case separately.
func TrimContext(fixedTokens int, chunks []string, maxTokens int) []string {
	if maxTokens <= 0 || len(chunks) == 0 {
		return chunks
	}

	used := fixedTokens
	for i, c := range chunks {
		cost := Estimate(c)
		if i > 0 {
			cost += separatorTokens
		}
		if used+cost > maxTokens {
			return chunks[:i]
		}
		used += cost
	}
	return chunks
}
