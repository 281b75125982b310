package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// HealthCheckConfig probes a backend without spending tokens.
type HealthCheckConfig interface {
	HealthCheck(ctx context.Context) error
}

// NewHealthCheck returns a zero-cost probe for the selected backend, or nil
// when the backend has no cheap endpoint to call.
func NewHealthCheck(cfg *Config, client *http.Client) HealthCheckConfig {
	if client == nil {
		client = http.DefaultClient
	}
	switch cfg.Backend {
	case BackendOllama:
		return &httpCheck{client: client, url: strings.TrimRight(cfg.Ollama.Host, "/") + "/api/tags"}
	case BackendOpenAI:
		base := cfg.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpCheck{
			client: client,
			url:    strings.TrimRight(base, "/") + "/models",
			header: http.Header{"Authorization": {"Bearer " + cfg.OpenAI.APIKey}},
		}
	}
	return nil
}

// httpCheck issues a GET and treats any 2xx status as healthy.
type httpCheck struct {
	client *http.Client
	url    string
	header http.Header
}

// HealthCheck implements HealthCheckConfig.
func (c *httpCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider: health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}
