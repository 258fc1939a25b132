package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "no-such-file.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if cfg.LLM.Provider != ProviderOllama {
		t.Errorf("unexpected provider: %s", cfg.LLM.Provider)
	}
	if cfg.Context.MaxChars != 8000 {
		t.Errorf("unexpected max_chars: %d", cfg.Context.MaxChars)
	}
	if cfg.Search.ContextLines != 2 {
		t.Errorf("unexpected context_lines: %d", cfg.Search.ContextLines)
	}
	if cfg.Timeout() != 60*time.Second {
		t.Errorf("unexpected timeout: %s", cfg.Timeout())
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpilot.yaml")
	raw := `
search:
  whole_words: true
  context_lines: 4
context:
  max_pages: 3
  fast_mode: true
llm:
  model: mistral
  timeout_secs: 15
chat:
  max_history_messages: 4
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Search.WholeWords || cfg.Search.ContextLines != 4 {
		t.Errorf("search section not applied: %+v", cfg.Search)
	}
	if cfg.Context.MaxPages != 3 || !cfg.Context.FastMode {
		t.Errorf("context section not applied: %+v", cfg.Context)
	}
	if cfg.LLM.Model != "mistral" || cfg.LLM.TimeoutSecs != 15 {
		t.Errorf("llm section not applied: %+v", cfg.LLM)
	}
	if cfg.Chat.MaxHistoryMessages != 4 {
		t.Errorf("chat section not applied: %+v", cfg.Chat)
	}
	// Untouched fields keep their defaults.
	if cfg.Context.MaxChars != 8000 {
		t.Errorf("unset max_chars should default to 8000, got %d", cfg.Context.MaxChars)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpilot.yaml")
	if err := os.WriteFile(path, []byte("llm: [not a mapping"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docpilot.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  model: from-file\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DOCPILOT_MODEL", "from-env")
	t.Setenv("OLLAMA_HOST", "http://ollama.internal:11434")
	t.Setenv("DOCPILOT_FAST_MODE", "true")
	t.Setenv("DOCPILOT_TIMEOUT_SECS", "25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("env should beat file, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.OllamaHost != "http://ollama.internal:11434" {
		t.Errorf("unexpected host: %s", cfg.LLM.OllamaHost)
	}
	if !cfg.Context.FastMode {
		t.Error("DOCPILOT_FAST_MODE not applied")
	}
	if cfg.LLM.TimeoutSecs != 25 {
		t.Errorf("DOCPILOT_TIMEOUT_SECS not applied: %d", cfg.LLM.TimeoutSecs)
	}
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = ProviderOpenAI
	if err := cfg.Validate(); err == nil {
		t.Fatal("openai without an API key should fail validation")
	}
	cfg.LLM.OpenAIAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider = "anthropic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider should fail validation")
	}
}
