package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// keywordEmbedder serves /api/embed with vectors that only encode whether a
// text mentions Paris or photosynthesis.
func keywordEmbedder(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := struct {
			Embeddings [][]float32 `json:"embeddings"`
		}{}
		for _, text := range req.Input {
			lower := strings.ToLower(text)
			v := []float32{0, 0, 0.1}
			if strings.Contains(lower, "paris") || strings.Contains(lower, "france") {
				v[0] = 1
			}
			if strings.Contains(lower, "photosynthesis") {
				v[1] = 1
			}
			out.Embeddings = append(out.Embeddings, v)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setupCorpusEnv points every setting at temp files and the fake embedder.
func setupCorpusEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "knowledge.txt")
	corpus := "Paris is the capital of France.\n\nPhotosynthesis feeds green plants."
	if err := os.WriteFile(kb, []byte(corpus), 0o600); err != nil {
		t.Fatal(err)
	}

	srv := keywordEmbedder(t)
	for k, v := range map[string]string{
		"KB_PATH":              kb,
		"INDEX_BACKEND":        "sqlite",
		"INDEX_DIR":            filepath.Join(dir, "index"),
		"CHUNK_SIZE":           "40",
		"CHUNK_OVERLAP":        "5",
		"EMBEDDING_PROVIDER":   "ollama",
		"EMBEDDING_ENDPOINT":   srv.URL,
		"EMBEDDING_MODEL":      "nomic-embed-text",
		"EMBEDDING_DIMENSIONS": "",
		"MODEL_PROVIDER":       "ollama",
		"LOG_LEVEL":            "error",
	} {
		t.Setenv(k, v)
	}
	for _, k := range []string{"INDEX_COLLECTION", "RAG_TOP_K", "KBRAG_CONFIG", "EMBEDDING_BATCH_SIZE", "EMBEDDING_CONCURRENCY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "kbrag dev") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()

	want := map[string]bool{"serve": false, "index": false, "ask": false, "version": false}
	for _, c := range NewRootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestIndexThenAskContextOnly(t *testing.T) {
	dir := setupCorpusEnv(t)

	out, err := run(t, "index")
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	if !strings.Contains(out, `collection "knowledge_base": 2 chunks (dimension 3)`) {
		t.Errorf("unexpected index output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "index")); err != nil {
		t.Errorf("index directory not created: %v", err)
	}

	out, err = run(t, "ask", "--context-only", "--top-k", "1", "What is the capital of France?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Paris is the capital of France.") || strings.Contains(out, "Photosynthesis") {
		t.Errorf("unexpected context %q", out)
	}
}

func TestIndex_RebuildMissingCorpus(t *testing.T) {
	setupCorpusEnv(t)
	t.Setenv("KB_PATH", filepath.Join(t.TempDir(), "missing.txt"))

	if _, err := run(t, "index", "--rebuild"); err == nil {
		t.Fatal("want error when rebuilding from a missing corpus")
	}
}

func TestIndex_InvalidSettings(t *testing.T) {
	setupCorpusEnv(t)
	t.Setenv("INDEX_BACKEND", "chroma")

	_, err := run(t, "index")
	if err == nil || !strings.Contains(err.Error(), "INDEX_BACKEND") {
		t.Fatalf("want INDEX_BACKEND error, got %v", err)
	}
}
