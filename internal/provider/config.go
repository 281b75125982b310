// Package provider constructs the eino chat model that writes answers from
// retrieved context. Supported backends: Ollama, OpenAI, Azure OpenAI,
// Volcano Engine Ark and Google Gemini.
package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcano Engine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Generation defaults applied when the environment leaves them unset.
const (
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Config holds the selected backend plus the settings for every backend.
// Only the block matching Backend is validated and used.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	Ollama      ProviderOllama
	OpenAI      ProviderOpenAI
	AzureOpenAI ProviderAzureOpenAI
	Ark         ProviderArk
	Gemini      ProviderGemini

	// Tuning holds the sampling parameters shared by all backends.
	Tuning SharedTuning
}

// ProviderOllama configures a local Ollama server.
type ProviderOllama struct {
	Host  string
	Model string
}

// ProviderOpenAI configures the OpenAI API. BaseURL is optional and points
// the client at an OpenAI-compatible gateway.
type ProviderOpenAI struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderAzureOpenAI configures an Azure OpenAI deployment.
type ProviderAzureOpenAI struct {
	APIKey     string
	Endpoint   string
	Deployment string
	APIVersion string
}

// ProviderArk configures the Volcano Engine Ark runtime.
type ProviderArk struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderGemini configures Google Gemini through AI Studio.
type ProviderGemini struct {
	APIKey string
	Model  string
}

// SharedTuning holds generation parameters.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per answer.
	MaxTokens int
	// Temperature controls response randomness.
	Temperature float32
	// TopP is the nucleus sampling mass.
	TopP float32
}

// Validate reports the first missing setting for the selected backend,
// naming the environment variable that supplies it.
func (c *Config) Validate() error {
	var missing []string
	need := func(v, env string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, env)
		}
	}

	switch c.Backend {
	case BackendOllama:
		need(c.Ollama.Host, "OLLAMA_HOST")
		need(c.Ollama.Model, "OLLAMA_MODEL")
	case BackendOpenAI:
		need(c.OpenAI.APIKey, "OPENAI_API_KEY")
		need(c.OpenAI.Model, "OPENAI_MODEL")
	case BackendAzure:
		need(c.AzureOpenAI.APIKey, "AZURE_OPENAI_API_KEY")
		need(c.AzureOpenAI.Endpoint, "AZURE_OPENAI_ENDPOINT")
		need(c.AzureOpenAI.Deployment, "AZURE_OPENAI_DEPLOYMENT")
	case BackendArk:
		need(c.Ark.APIKey, "ARK_API_KEY")
		need(c.Ark.Model, "ARK_MODEL")
	case BackendGemini:
		need(c.Gemini.APIKey, "GOOGLE_API_KEY")
		need(c.Gemini.Model, "GEMINI_MODEL")
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, ark, gemini)", c.Backend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider: %s backend requires %s", c.Backend, strings.Join(missing, ", "))
	}

	if c.Tuning.MaxTokens < 0 {
		return errors.New("provider: MODEL_MAX_TOKENS must not be negative")
	}
	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE %.2f out of range [0, 2]", c.Tuning.Temperature)
	}
	if c.Tuning.TopP < 0 || c.Tuning.TopP > 1 {
		return fmt.Errorf("provider: MODEL_TOP_P %.2f out of range [0, 1]", c.Tuning.TopP)
	}
	return nil
}

// ModelName returns the model or deployment name of the selected backend.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// CallOptions returns the per-request sampling options for Generate.
// Azure reasoning deployments reject max_tokens, temperature and top_p, so
// they get none.
func (c *Config) CallOptions() []model.Option {
	if c.reasoning() {
		return nil
	}
	opts := []model.Option{
		model.WithTemperature(c.Tuning.Temperature),
		model.WithTopP(c.Tuning.TopP),
	}
	if c.Tuning.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.Tuning.MaxTokens))
	}
	return opts
}

func (c *Config) reasoning() bool {
	return c.Backend == BackendAzure && isAzureReasoningModel(c.AzureOpenAI.Deployment)
}

// isAzureReasoningModel reports whether deployment names an o-series or
// codex-class model, which only accept default sampling parameters.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, prefix := range []string{"o1", "o3", "o4", "codex"} {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}
