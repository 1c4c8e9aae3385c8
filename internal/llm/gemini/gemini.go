// Package gemini is the transport for Google Gemini models.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/spigell/hh-analyzer/internal/llm"
)

const (
	defaultModel = "gemini-2.5-flash"
	providerName = "gemini"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Transport wraps the Google GenAI client for prompt based generation.
type Transport struct {
	models    contentGenerator
	modelName string
}

// New creates a Transport for the Gemini API backend. baseURL is optional.
func New(ctx context.Context, baseURL, model, apiKey string) (*Transport, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newTransport(client.Models, model), nil
}

func newTransport(models contentGenerator, model string) *Transport {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Transport{models: models, modelName: model}
}

// Generate implements llm.Transport.
func (t *Transport) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	if t == nil || t.models == nil {
		return llm.Response{}, errors.New("gemini transport is not initialized")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return llm.Response{}, errors.New("prompt must not be empty")
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := t.models.GenerateContent(ctx, t.modelName, genai.Text(prompt), config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return llm.Response{StatusCode: apiErr.Code, Attempts: 1}, &llm.ProviderError{
				Provider:   providerName,
				StatusCode: apiErr.Code,
				Message:    strings.TrimSpace(apiErr.Status + " " + apiErr.Message),
			}
		}
		return llm.Response{Attempts: 1}, fmt.Errorf("generate content: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return llm.Response{StatusCode: 200, Attempts: 1}, errors.New("gemini api returned empty response")
	}

	return llm.Response{Text: output, StatusCode: 200, Attempts: 1}, nil
}

func (t *Transport) Model() string {
	if t == nil {
		return ""
	}
	return t.modelName
}
