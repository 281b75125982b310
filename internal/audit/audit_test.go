package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"OPENAI_API_KEY", "ARK_API_KEY", "KBRAG_API_KEY", "QDRANT_API_KEY"} {
		if got := SanitiseKey(key, "sk-abc123"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", key, got)
		}
		if got := SanitiseKey(key, ""); got != "unset" {
			t.Errorf("%s: expected 'unset', got %q", key, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("KB_PATH", "kb/knowledge.txt"); got != "kb/knowledge.txt" {
		t.Errorf("expected the value, got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/kbrag.yaml"); got != "/tmp/kbrag.yaml" {
		t.Errorf("expected '/tmp/kbrag.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil && home != "/" {
		p := home + "/.kbrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.kbrag/config.yaml" {
			t.Errorf("expected '~/.kbrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("LANGFUSE_SECRET_KEY", "lf-secret")
	t.Setenv("KB_PATH", "kb/handbook.txt")

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") || strings.Contains(out, "lf-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		"command":             "serve",
		"config_file":         "none",
		"OPENAI_API_KEY":      "set",
		"LANGFUSE_SECRET_KEY": "set",
		"KB_PATH":             "kb/handbook.txt",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %q", k, rec[k], v)
		}
	}
}

func TestAttrs_Order(t *testing.T) {
	t.Parallel()

	attrs := Attrs("index", "/etc/kbrag.yaml")
	if len(attrs) != len(auditKeys)+2 {
		t.Fatalf("want %d attrs, got %d", len(auditKeys)+2, len(attrs))
	}
	if attrs[0].Key != "command" || attrs[1].Key != "config_file" || attrs[2].Key != auditKeys[0].key {
		t.Errorf("unexpected leading attrs: %v", attrs[:3])
	}
}
