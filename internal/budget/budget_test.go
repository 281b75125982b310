package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimContext(t *testing.T) {
	t.Parallel()

	chunk := strings.Repeat("x", 40) // 10 tokens
	three := []string{chunk + "1", chunk + "2", chunk + "3"}

	cases := []struct {
		name      string
		fixed     int
		chunks    []string
		maxTokens int
		want      int
	}{
		{name: "fits", fixed: 10, chunks: three, maxTokens: DefaultMaxContextTokens, want: 3},
		{name: "exact fit", fixed: 0, chunks: three, maxTokens: 32, want: 3},
		{name: "drops lowest ranked", fixed: 0, chunks: three, maxTokens: 31, want: 2},
		{name: "fixed crowds out context", fixed: 25, chunks: three, maxTokens: 30, want: 0},
		{name: "disabled", fixed: 100, chunks: three, maxTokens: 0, want: 3},
		{name: "no chunks", fixed: 0, chunks: nil, maxTokens: 10, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := TrimContext(tc.fixed, tc.chunks, tc.maxTokens)
			if len(got) != tc.want {
				t.Fatalf("TrimContext kept %d chunks, want %d", len(got), tc.want)
			}
			for i := range got {
				if got[i] != tc.chunks[i] {
					t.Errorf("chunk %d reordered: got %q", i, got[i])
				}
			}
		})
	}
}
