package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIOptions tunes the OpenAI provider. BaseURL is for proxies and tests.
type OpenAIOptions struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	BaseURL         string
	Retriever       Retriever
}

// OpenAIProvider implements Generator using the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
	opts   OpenAIOptions
}

func NewOpenAIProvider(apiKey string, opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), opts: opts}
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt, sources := groundPrompt(ctx, p.opts.Retriever, req)

	temperature := p.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.opts.Model,
		Temperature: temperature,
		MaxTokens:   int(p.opts.MaxOutputTokens),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned empty choices")
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("openai returned empty content")
	}
	return &Result{Text: text, Sources: sources}, nil
}
