package rtconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestratord.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Fatalf("expected default max_concurrent 8, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Persistence.Backend != "none" {
		t.Fatalf("expected default persistence backend none, got %q", cfg.Persistence.Backend)
	}
	if cfg.Scheduler.MaxToolRounds != 200 {
		t.Fatalf("expected default max_tool_rounds 200, got %d", cfg.Scheduler.MaxToolRounds)
	}
}

func TestLoadAppliesDefaultsOverPartialFile(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  max_concurrent: 16
llm:
  default_provider: anthropic
  providers:
    anthropic:
      kind: anthropic
      api_key: sk-test
      model: claude-sonnet
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrent != 16 {
		t.Fatalf("expected overridden max_concurrent 16, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Shutdown.TimeoutMs != 30_000 {
		t.Fatalf("expected default shutdown timeout, got %d", cfg.Shutdown.TimeoutMs)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test" {
		t.Fatalf("expected provider api key passthrough, got %+v", cfg.LLM.Providers["anthropic"])
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	path := writeConfig(t, `
scheduler:
  max_concurrent: 4
  bogus_field: true
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestValidateRejectsDanglingDefaultProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.DefaultProvider = "openai"
	cfg.LLM.Providers = map[string]ProviderConfig{"anthropic": {Kind: "anthropic"}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider validation error, got %v", err)
	}
}

func TestValidateRejectsUnknownProviderKind(t *testing.T) {
	cfg := Default()
	cfg.LLM.Providers = map[string]ProviderConfig{"weird": {Kind: "cohere"}}

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "unknown kind") {
		t.Fatalf("expected unknown kind validation error, got %v", err)
	}
}

func TestValidateRejectsUnknownPersistenceBackend(t *testing.T) {
	cfg := Default()
	cfg.Persistence.Backend = "dynamodb"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "persistence backend") {
		t.Fatalf("expected persistence backend validation error, got %v", err)
	}
}
