package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiOptions tunes the Gemini provider.
type GeminiOptions struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	Retriever       Retriever
}

// GeminiProvider implements Generator using Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
	opts   GeminiOptions
}

// NewGeminiProvider initializes a new Gemini client.
// apiKey should be provided from environment variables.
func NewGeminiProvider(ctx context.Context, apiKey string, opts GeminiOptions) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	return &GeminiProvider{client: client, opts: opts}, nil
}

// Close cleans up the Gemini client resources.
func (p *GeminiProvider) Close() {
	p.client.Close()
}

// Generate runs one prompt. A model handle is built per call so temperature overrides
// never leak between concurrent requests.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (*Result, error) {
	prompt, sources := groundPrompt(ctx, p.opts.Retriever, req)

	model := p.client.GenerativeModel(p.opts.Model)
	temperature := p.opts.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	model.SetTemperature(temperature)
	if p.opts.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(p.opts.MaxOutputTokens)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini generation error: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("no response candidates from Gemini")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("gemini returned empty text parts")
	}

	return &Result{
		Text:      text.String(),
		Sources:   sources,
		Citations: geminiCitations(cand.CitationMetadata),
	}, nil
}

func geminiCitations(meta *genai.CitationMetadata) []Citation {
	if meta == nil {
		return nil
	}
	out := make([]Citation, 0, len(meta.CitationSources))
	for _, src := range meta.CitationSources {
		if src == nil {
			continue
		}
		c := Citation{License: src.License}
		if src.URI != nil {
			c.URI = *src.URI
		}
		if src.StartIndex != nil {
			c.Start = *src.StartIndex
		}
		if src.EndIndex != nil {
			c.End = *src.EndIndex
		}
		out = append(out, c)
	}
	return out
}
