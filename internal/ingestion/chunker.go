package ingestion

import (
	"strings"
	"unicode/utf8"

	"github.com/54b3r/kbrag-go/internal/rag"
)

const (
	// DefaultChunkSize is the window size in characters used when none is set.
	DefaultChunkSize = 500

	// DefaultChunkOverlap is the number of characters shared by consecutive windows.
	DefaultChunkOverlap = 50

	// MinChunkLength is the trimmed length a chunk must exceed to be kept.
	MinChunkLength = 20
)

// span is a half-open [start, end) window over the corpus runes.
type span struct {
	start, end int
}

// Normalize applies defaults and clamps to chunking parameters: a
// non-positive size becomes DefaultChunkSize, a negative overlap becomes 0,
// and an overlap that would not leave room for progress is clamped to
// size-1.
func Normalize(size, overlap int) (int, int) {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return size, overlap
}

// Split cuts text into overlapping, boundary-aware chunks. Each window of
// size characters is shortened to end just after its last '.' or '\n' when
// that boundary sits at or past half the window. Chunks are trimmed and
// those of MinChunkLength characters or fewer are dropped; kept chunks are
// numbered sequentially from 0 in corpus order.
func Split(text string, size, overlap int) []rag.Chunk {
	runes := []rune(text)
	var chunks []rag.Chunk
	for _, sp := range windows(runes, size, overlap) {
		t := strings.TrimSpace(string(runes[sp.start:sp.end]))
		n := utf8.RuneCountInString(t)
		if n <= MinChunkLength {
			continue
		}
		chunks = append(chunks, rag.Chunk{ID: len(chunks), Text: t, Length: n})
	}
	return chunks
}

// windows computes the raw chunk spans before trimming and filtering.
func windows(runes []rune, size, overlap int) []span {
	size, overlap = Normalize(size, overlap)
	total := len(runes)
	half := float64(size) * 0.5

	var spans []span
	for start := 0; start < total; {
		end := start + size
		if end >= total {
			spans = append(spans, span{start, total})
			break
		}
		if bp := lastBreak(runes[start:end]); bp >= 0 && float64(bp) >= half {
			end = start + bp + 1
		}
		spans = append(spans, span{start, end})

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return spans
}

// lastBreak returns the index of the last '.' or '\n' in w, or -1.
func lastBreak(w []rune) int {
	for i := len(w) - 1; i >= 0; i-- {
		if w[i] == '.' || w[i] == '\n' {
			return i
		}
	}
	return -1
}
