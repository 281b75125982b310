package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		// ── Ollama ────────────────────────────────────────────────────────────
		{
			name: "ollama/valid",
			cfg: Config{
				Backend: BackendOllama,
				Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
			},
		},
		{
			name:    "ollama/missing model",
			cfg:     Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: "http://localhost:11434"}},
			wantErr: "OLLAMA_MODEL",
		},

		// ── OpenAI ────────────────────────────────────────────────────────────
		{
			name: "openai/valid",
			cfg: Config{
				Backend: BackendOpenAI,
				OpenAI:  ProviderOpenAI{APIKey: "sk-test", Model: "gpt-4o"},
			},
		},
		{
			name:    "openai/missing api key",
			cfg:     Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{Model: "gpt-4o"}},
			wantErr: "OPENAI_API_KEY",
		},
		{
			name:    "openai/missing model",
			cfg:     Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test"}},
			wantErr: "OPENAI_MODEL",
		},

		// ── Azure ─────────────────────────────────────────────────────────────
		{
			name: "azure/valid",
			cfg: Config{
				Backend: BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{
					APIKey:     "key",
					Endpoint:   "https://my.openai.azure.com",
					Deployment: "gpt-4o",
					APIVersion: "2024-02-01",
				},
			},
		},
		{
			name: "azure/missing api key",
			cfg: Config{
				Backend: BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{
					Endpoint:   "https://my.openai.azure.com",
					Deployment: "gpt-4o",
				},
			},
			wantErr: "AZURE_OPENAI_API_KEY",
		},
		{
			name: "azure/missing endpoint",
			cfg: Config{
				Backend: BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{
					APIKey:     "key",
					Deployment: "gpt-4o",
				},
			},
			wantErr: "AZURE_OPENAI_ENDPOINT",
		},
		{
			name: "azure/missing deployment",
			cfg: Config{
				Backend: BackendAzure,
				AzureOpenAI: ProviderAzureOpenAI{
					APIKey:   "key",
					Endpoint: "https://my.openai.azure.com",
				},
			},
			wantErr: "AZURE_OPENAI_DEPLOYMENT",
		},

		// ── Ark ───────────────────────────────────────────────────────────────
		{
			name: "ark/valid",
			cfg: Config{
				Backend: BackendArk,
				Ark:     ProviderArk{APIKey: "ark-key", Model: "doubao-pro-32k"},
			},
		},
		{
			name:    "ark/missing model",
			cfg:     Config{Backend: BackendArk, Ark: ProviderArk{APIKey: "ark-key"}},
			wantErr: "ARK_MODEL",
		},
		{
			name:    "ark/missing api key",
			cfg:     Config{Backend: BackendArk, Ark: ProviderArk{Model: "doubao-pro-32k"}},
			wantErr: "ARK_API_KEY",
		},

		// ── Gemini ────────────────────────────────────────────────────────────
		{
			name: "gemini/valid",
			cfg: Config{
				Backend: BackendGemini,
				Gemini:  ProviderGemini{APIKey: "AIza-test", Model: "gemini-1.5-pro"},
			},
		},
		{
			name:    "gemini/missing api key",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{Model: "gemini-1.5-pro"}},
			wantErr: "GOOGLE_API_KEY",
		},
		{
			name:    "gemini/missing model",
			cfg:     Config{Backend: BackendGemini, Gemini: ProviderGemini{APIKey: "AIza-test"}},
			wantErr: "GEMINI_MODEL",
		},

		// ── Tuning ────────────────────────────────────────────────────────────
		{
			name: "tuning/temperature out of range",
			cfg: Config{
				Backend: BackendOllama,
				Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
				Tuning:  SharedTuning{Temperature: 2.5, TopP: 0.9},
			},
			wantErr: "MODEL_TEMPERATURE",
		},
		{
			name: "tuning/top_p out of range",
			cfg: Config{
				Backend: BackendOllama,
				Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
				Tuning:  SharedTuning{Temperature: 0.7, TopP: 1.5},
			},
			wantErr: "MODEL_TOP_P",
		},

		// ── Unknown backend ───────────────────────────────────────────────────
		{
			name:    "unknown backend",
			cfg:     Config{Backend: "bedrock"},
			wantErr: "unknown backend",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestIsAzureReasoningModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		deployment string
		want       bool
	}{
		// known o-series: should be detected
		{"o1", true},
		{"o1-preview", true},
		{"o1-mini", true},
		{"o3", true},
		{"o3-mini", true},
		{"o3-pro", true},
		{"o4-mini", true},
		{"O1-PREVIEW", true}, // case-insensitive
		{"O3-Mini", true},    // case-insensitive
		// codex-class: should be detected
		{"codex-mini", true},
		{"codex", true},
		{"gpt-5.2-codex", false}, // "codex" not at start, not matched by prefix rule
		// standard models: should NOT be detected
		{"gpt-4o", false},
		{"gpt-4o-mini", false},
		{"gpt-4", false},
		{"gpt-4.1", false},
		{"gpt-35-turbo", false},
		{"my-custom-deployment", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.deployment, func(t *testing.T) {
			t.Parallel()
			got := isAzureReasoningModel(tc.deployment)
			if got != tc.want {
				t.Errorf("isAzureReasoningModel(%q) = %v, want %v", tc.deployment, got, tc.want)
			}
		})
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE", "MODEL_TOP_P"} {
		t.Setenv(k, "")
	}

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOllama {
		t.Errorf("Backend = %q, want ollama", cfg.Backend)
	}
	if cfg.ModelName() != "llama3" {
		t.Errorf("ModelName() = %q, want llama3", cfg.ModelName())
	}
	want := SharedTuning{MaxTokens: DefaultMaxTokens, Temperature: DefaultTemperature, TopP: DefaultTopP}
	if cfg.Tuning != want {
		t.Errorf("Tuning = %+v, want %+v", cfg.Tuning, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("MODEL_MAX_TOKENS", "256")
	t.Setenv("MODEL_TEMPERATURE", "0.1")
	t.Setenv("MODEL_TOP_P", "not-a-number")

	cfg := ConfigFromEnv()
	if cfg.Backend != BackendOpenAI || cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("unexpected backend block: %+v", cfg)
	}
	if cfg.Tuning.MaxTokens != 256 || cfg.Tuning.Temperature != 0.1 {
		t.Errorf("unexpected tuning: %+v", cfg.Tuning)
	}
	if cfg.Tuning.TopP != DefaultTopP {
		t.Errorf("unparseable MODEL_TOP_P should fall back to default, got %v", cfg.Tuning.TopP)
	}
}

func TestConfig_CallOptions(t *testing.T) {
	t.Parallel()

	tuning := SharedTuning{MaxTokens: 1000, Temperature: 0.7, TopP: 0.9}

	cfg := &Config{Backend: BackendOllama, Tuning: tuning}
	got := model.GetCommonOptions(&model.Options{}, cfg.CallOptions()...)
	if got.MaxTokens == nil || *got.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %v, want 1000", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", got.Temperature)
	}
	if got.TopP == nil || *got.TopP != 0.9 {
		t.Errorf("TopP = %v, want 0.9", got.TopP)
	}

	reasoning := &Config{
		Backend:     BackendAzure,
		AzureOpenAI: ProviderAzureOpenAI{Deployment: "o3-mini"},
		Tuning:      tuning,
	}
	if opts := reasoning.CallOptions(); len(opts) != 0 {
		t.Errorf("reasoning deployment should get no sampling options, got %d", len(opts))
	}
}

func TestNew_ValidatesFirst(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &Config{Backend: BackendOpenAI})
	if err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("New() error = %v, want missing OPENAI_API_KEY", err)
	}
}

func TestNew_Ollama(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Backend: BackendOllama,
		Ollama:  ProviderOllama{Host: "http://localhost:11434", Model: "llama3"},
		Tuning:  SharedTuning{MaxTokens: 1000, Temperature: 0.7, TopP: 0.9},
	}
	m, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("New() returned nil model")
	}
}

func TestNewHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.WriteHeader(http.StatusOK)
		case "/v1/models":
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	ollama := NewHealthCheck(&Config{Backend: BackendOllama, Ollama: ProviderOllama{Host: srv.URL + "/"}}, srv.Client())
	if err := ollama.HealthCheck(context.Background()); err != nil {
		t.Fatalf("ollama HealthCheck: %v", err)
	}

	openai := NewHealthCheck(&Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}}, srv.Client())
	if err := openai.HealthCheck(context.Background()); err != nil {
		t.Fatalf("openai HealthCheck: %v", err)
	}

	bad := NewHealthCheck(&Config{Backend: BackendOpenAI, OpenAI: ProviderOpenAI{APIKey: "wrong", BaseURL: srv.URL + "/v1"}}, srv.Client())
	if err := bad.HealthCheck(context.Background()); err == nil {
		t.Error("want error for HTTP 401")
	}

	if hc := NewHealthCheck(&Config{Backend: BackendGemini}, nil); hc != nil {
		t.Errorf("gemini should have no zero-cost probe, got %T", hc)
	}
}
