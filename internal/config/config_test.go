package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quickpost.yaml")
	content := `
server:
  address: ":9090"
payment:
  driver: dev
jobs:
  store:
    driver: memory
artifacts:
  dir: out
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if cfg.Artifacts.Dir != filepath.Join(dir, "out") {
		t.Fatalf("artifact dir not resolved: %q", cfg.Artifacts.Dir)
	}
	if cfg.Payment.Stripe.PriceCents != 500 || cfg.Payment.Stripe.Currency != "usd" {
		t.Fatalf("unexpected price defaults: %+v", cfg.Payment.Stripe)
	}
	if cfg.RateLimit.MaxRequests != 5 || cfg.RateLimit.WindowSeconds != 60 {
		t.Fatalf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if cfg.LLM.OpenAI.Model != "gpt-4o-mini" || cfg.LLM.Temperature != 0.55 {
		t.Fatalf("unexpected llm defaults: %+v", cfg.LLM)
	}
	if len(cfg.Document.NicheHashtags) != 1 {
		t.Fatalf("expected default niche rule")
	}
}

func TestLoadJSONWithEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quickpost.json")
	if err := os.WriteFile(path, []byte(`{"payment":{"driver":"stripe"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("QPK_RL_MAX", "9")
	t.Setenv("QPK_OPENAI_TIMEOUT_MS", "1500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Payment.Stripe.SecretKey != "sk_test_123" {
		t.Fatalf("secret not read from env")
	}
	if cfg.RateLimit.MaxRequests != 9 {
		t.Fatalf("rate limit override ignored: %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.LLM.OpenAI.TimeoutSeconds != 2 {
		t.Fatalf("timeout override: %d", cfg.LLM.OpenAI.TimeoutSeconds)
	}
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults(".")
	cfg.Jobs.Store.Driver = "mysql"
	cfg.Jobs.Queue.Driver = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadDotEnvSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("QPK_DOTENV_PROBE=from-file\nQPK_DOTENV_KEEP=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("QPK_DOTENV_KEEP", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("QPK_DOTENV_PROBE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("QPK_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("QPK_DOTENV_KEEP"); got != "from-env" {
		t.Fatalf("existing variables must win, got %q", got)
	}
}
