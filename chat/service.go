// Package chat holds the conversation layer: message types, the streaming
// session machinery and the service that ties retrieval to generation.
package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fabfab/docpilot/config"
	"github.com/fabfab/docpilot/llm"
	"github.com/fabfab/docpilot/retrieval"
)

// Service answers questions about the loaded document. It retrieves context,
// streams the answer and falls back to a non-streaming request when a stream
// closes cleanly without producing anything.
type Service struct {
	engine   *retrieval.Engine
	llm      llm.StreamClient
	streamer *Streamer
	cfg      config.Config
	logger   *log.Logger
}

func NewService(engine *retrieval.Engine, client llm.StreamClient, cfg config.Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		engine:   engine,
		llm:      client,
		streamer: NewStreamer(client, llm.FromConfig(cfg.LLM.ChatOptions), cfg.Chat.MaxHistoryMessages, logger),
		cfg:      cfg,
		logger:   logger,
	}
}

// Streamer exposes the underlying session manager, mainly for Stop.
func (s *Service) Streamer() *Streamer {
	return s.streamer
}

// Ask answers one question. history holds prior turns and is not mutated;
// the returned messages are the user turn (with attached context) and the
// assistant turn. onChunk receives incremental answer text when streaming.
func (s *Service) Ask(ctx context.Context, question string, history []Message, onChunk func(string)) (Message, Message, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Message{}, Message{}, fmt.Errorf("question cannot be empty")
	}

	userMsg := NewUserMessage(question)
	if s.engine != nil {
		result, err := s.engine.Retrieve(ctx, question)
		if err != nil {
			return Message{}, Message{}, fmt.Errorf("retrieve context: %w", err)
		}
		userMsg.Context = result.Context
		userMsg.Pages = result.Pages
	}

	turns := append(append([]Message(nil), history...), userMsg)

	answer, err := s.stream(ctx, turns, onChunk)
	if err != nil {
		return Message{}, Message{}, err
	}

	assistant := NewAssistantMessage(strings.TrimSpace(answer))
	assistant.Pages = userMsg.Pages
	return userMsg, assistant, nil
}

func (s *Service) stream(ctx context.Context, turns []Message, onChunk func(string)) (string, error) {
	resultCh := make(chan error, 1)
	var answer string

	sess := s.streamer.Send(ctx, turns, Callbacks{
		OnChunk: func(text string) {
			if onChunk != nil {
				onChunk(text)
			}
		},
		OnComplete: func(full string) {
			answer = full
			resultCh <- nil
		},
		OnError: func(err error) {
			resultCh <- err
		},
	})

	sess.Wait()

	select {
	case err := <-resultCh:
		if err != nil {
			return "", fmt.Errorf("chat stream: %w", err)
		}
	default:
		// Cancelled session: no terminal callback fires.
		return "", context.Canceled
	}

	if sess.Fragments() > 0 {
		return answer, nil
	}

	// A stream that completed without a single fragment usually means the
	// endpoint silently returned nothing; try once without streaming.
	s.logger.Printf("chat: empty stream, retrying without streaming")
	answer, err := s.llm.Generate(ctx, promptMessages(turns, s.cfg.Chat.MaxHistoryMessages), llm.FromConfig(s.cfg.LLM.ChatOptions))
	if err != nil {
		return "", fmt.Errorf("chat fallback: %w", err)
	}
	if onChunk != nil && answer != "" {
		onChunk(answer)
	}
	return answer, nil
}
