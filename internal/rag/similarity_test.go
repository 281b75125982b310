package rag

import (
	"errors"
	"math"
	"testing"
)

func TestCosine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "scaled", a: []float32{1, 1}, b: []float32{5, 5}, want: 1},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0},
		{name: "length mismatch", a: []float32{1}, b: []float32{1, 1}, want: 0},
		{name: "empty", a: nil, b: nil, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Cosine(tc.a, tc.b)
			if math.Abs(float64(got-tc.want)) > 1e-6 {
				t.Errorf("Cosine(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	t.Parallel()

	matches := []Match{
		{ID: "chunk_0", Score: 0.1},
		{ID: "chunk_1", Score: 0.9},
		{ID: "chunk_2", Score: 0.5},
		{ID: "chunk_3", Score: 0.9},
	}

	got := TopK(matches, 3)
	want := []string{"chunk_1", "chunk_3", "chunk_2"}
	if len(got) != len(want) {
		t.Fatalf("TopK len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("TopK[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	if got := TopK([]Match{{ID: "a"}}, 5); len(got) != 1 {
		t.Errorf("TopK with k > len returned %d matches, want 1", len(got))
	}
}

func TestChunkKey(t *testing.T) {
	t.Parallel()
	if got := (Chunk{ID: 7}).Key(); got != "chunk_7" {
		t.Errorf("Key() = %q, want chunk_7", got)
	}
}

func TestCheckDimensions(t *testing.T) {
	t.Parallel()

	if err := CheckDimensions("kb", 2, [][]float32{{1, 2}, {3, 4}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := CheckDimensions("kb", 2, [][]float32{{1, 2}, {3}})
	var dm *DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("expected *DimensionMismatchError, got %v", err)
	}
	if dm.Index != 1 || dm.Want != 2 || dm.Got != 1 {
		t.Errorf("unexpected mismatch detail: %+v", dm)
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	var err error = &EmbeddingServiceError{Backend: "ollama", Op: "request", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("EmbeddingServiceError does not unwrap to its cause")
	}
	err = &VectorStoreError{Backend: "sqlite", Op: "insert", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("VectorStoreError does not unwrap to its cause")
	}
}
