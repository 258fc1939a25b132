package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/fabfab/docpilot/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Options are per-call generation parameters. The zero value sends none.
type Options struct {
	Temperature float64
	TopP        float64
	NumPredict  int
}

// Client issues a single chat completion and returns the full answer.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}

// StreamClient delivers the answer incrementally. fn is invoked once per
// content fragment in arrival order; returning an error aborts the stream.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, opts Options, fn func(string) error) error
}

func NewClient(cfg config.Config) (StreamClient, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(cfg.LLM.OllamaHost, cfg.LLM.Model, cfg.Timeout()), nil
	case config.ProviderOpenAI:
		if cfg.LLM.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.OpenAIBaseURL, cfg.LLM.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}
}

// IsTimeout reports whether err is a timeout-class failure. Timeouts are the
// only errors eligible for automatic retry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}
	return false
}

// FromConfig converts config generation options to call options.
func FromConfig(opts config.GenOptions) Options {
	return Options{
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		NumPredict:  opts.NumPredict,
	}
}

// Backoff sleeps for d unless ctx is cancelled first.
func Backoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
