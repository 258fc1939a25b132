package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// GenOptions are per-task generation parameters forwarded to the model.
// Zero values are omitted from the request.
type GenOptions struct {
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	NumPredict  int     `yaml:"num_predict"`
}

// SearchConfig controls lexical matching and context extraction.
type SearchConfig struct {
	CaseSensitive bool `yaml:"case_sensitive"`
	WholeWords    bool `yaml:"whole_words"`
	ContextLines  int  `yaml:"context_lines"`
}

// ContextConfig bounds the assembled context block.
type ContextConfig struct {
	MaxPages            int  `yaml:"max_pages"`
	IncludeFullPages    bool `yaml:"include_full_pages"`
	MaxChars            int  `yaml:"max_chars"`
	MinRelevantSnippets int  `yaml:"min_relevant_snippets"`
	FastMode            bool `yaml:"fast_mode"`
}

// LLMConfig selects and configures the generation provider.
type LLMConfig struct {
	Provider      string `yaml:"provider"`
	Model         string `yaml:"model"`
	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	TimeoutSecs int `yaml:"timeout_secs"`

	ChatOptions      GenOptions `yaml:"chat_options"`
	KeywordOptions   GenOptions `yaml:"keyword_options"`
	RelevanceOptions GenOptions `yaml:"relevance_options"`
}

// ChatConfig controls the conversation window.
type ChatConfig struct {
	MaxHistoryMessages int `yaml:"max_history_messages"`
}

// Config is the root configuration value. It is constructed once and passed
// into each component; components never look configuration up globally.
type Config struct {
	Search  SearchConfig  `yaml:"search"`
	Context ContextConfig `yaml:"context"`
	LLM     LLMConfig     `yaml:"llm"`
	Chat    ChatConfig    `yaml:"chat"`
}

// Load reads a YAML config from path. A missing file yields defaults.
// Environment variables override file values afterwards.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Search: SearchConfig{
			CaseSensitive: false,
			WholeWords:    false,
			ContextLines:  2,
		},
		Context: ContextConfig{
			MaxPages:            5,
			IncludeFullPages:    false,
			MaxChars:            8000,
			MinRelevantSnippets: 6,
			FastMode:            false,
		},
		LLM: LLMConfig{
			Provider:         ProviderOllama,
			Model:            "llama3.1",
			OllamaHost:       "http://localhost:11434",
			TimeoutSecs:      60,
			ChatOptions:      GenOptions{Temperature: 0.7},
			KeywordOptions:   GenOptions{Temperature: 0.1, NumPredict: 128},
			RelevanceOptions: GenOptions{NumPredict: 8},
		},
		Chat: ChatConfig{
			MaxHistoryMessages: 10,
		},
	}
}

func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOllama:
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	return nil
}

// Timeout returns the per-request timeout for generation calls.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSecs) * time.Second
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Search.ContextLines <= 0 {
		cfg.Search.ContextLines = def.Search.ContextLines
	}
	if cfg.Context.MaxPages <= 0 {
		cfg.Context.MaxPages = def.Context.MaxPages
	}
	if cfg.Context.MaxChars <= 0 {
		cfg.Context.MaxChars = def.Context.MaxChars
	}
	if cfg.Context.MinRelevantSnippets <= 0 {
		cfg.Context.MinRelevantSnippets = def.Context.MinRelevantSnippets
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = def.LLM.Provider
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = def.LLM.Model
	}
	if cfg.LLM.OllamaHost == "" {
		cfg.LLM.OllamaHost = def.LLM.OllamaHost
	}
	if cfg.LLM.TimeoutSecs <= 0 {
		cfg.LLM.TimeoutSecs = def.LLM.TimeoutSecs
	}
	if cfg.Chat.MaxHistoryMessages <= 0 {
		cfg.Chat.MaxHistoryMessages = def.Chat.MaxHistoryMessages
	}
}

func applyEnv(cfg *Config) {
	cfg.LLM.Provider = getEnv("DOCPILOT_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("DOCPILOT_MODEL", cfg.LLM.Model)
	cfg.LLM.OllamaHost = getEnv("OLLAMA_HOST", cfg.LLM.OllamaHost)
	cfg.LLM.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIAPIKey)
	cfg.LLM.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.LLM.OpenAIBaseURL)

	if v, ok := os.LookupEnv("DOCPILOT_FAST_MODE"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Context.FastMode = parsed
		}
	}
	if v, ok := os.LookupEnv("DOCPILOT_TIMEOUT_SECS"); ok {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.LLM.TimeoutSecs = parsed
		}
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
