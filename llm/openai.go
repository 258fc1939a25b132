package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string) StreamClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &openAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, opts, false))
	if err != nil {
		return "", fmt.Errorf("create openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) GenerateStream(ctx context.Context, messages []Message, opts Options, fn func(string) error) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, opts, true))
	if err != nil {
		return fmt.Errorf("create openai chat stream: %w", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("receive openai stream chunk: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		content := chunk.Choices[0].Delta.Content
		if content == "" {
			continue
		}
		if err := fn(content); err != nil {
			return err
		}
	}
}

func (c *openAIClient) request(messages []Message, opts Options, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:  c.model,
		Stream: stream,
	}
	if opts.Temperature != 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.TopP != 0 {
		req.TopP = float32(opts.TopP)
	}
	if opts.NumPredict != 0 {
		req.MaxTokens = opts.NumPredict
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return req
}
