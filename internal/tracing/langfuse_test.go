package tracing

import "testing"

func TestSetup_DisabledWithoutKeys(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{},
		{PublicKey: "pk-lf-test"},
		{SecretKey: "sk-lf-test"},
	} {
		handler, flush, ok := Setup(cfg)
		if ok || handler != nil || flush != nil {
			t.Errorf("Setup(%+v) enabled tracing without both keys", cfg)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LANGFUSE_HOST", "https://cloud.langfuse.com")
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-lf-test")
	t.Setenv("LANGFUSE_SECRET_KEY", "sk-lf-test")

	cfg := ConfigFromEnv("v1.2.3")
	if !cfg.Enabled() {
		t.Fatal("want tracing enabled when both keys are set")
	}
	if cfg.Host != "https://cloud.langfuse.com" || cfg.Release != "v1.2.3" {
		t.Errorf("unexpected config %+v", cfg)
	}
}
