// Package openai is the transport for OpenAI compatible chat completion APIs.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/utils"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Transport sends prompts to /chat/completions of one model.
type Transport struct {
	client *resty.Client
	model  string
}

// New builds a transport. An empty baseURL means the OpenAI API.
func New(baseURL, model, apiKey string, policy utils.RetryPolicy) (*Transport, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("openai model is required")
	}

	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(2 * time.Minute)
	if apiKey = strings.TrimSpace(apiKey); apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	policy.Apply(client)

	return &Transport{client: client, model: model}, nil
}

// Generate implements llm.Transport.
func (t *Transport) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := chatRequest{
		Model:       t.model,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")

	out := llm.Response{}
	if resp != nil {
		out.StatusCode = resp.StatusCode()
		if resp.Request != nil {
			out.Attempts = resp.Request.Attempt
		}
	}
	if err != nil {
		return out, fmt.Errorf("chat completion request: %w", err)
	}

	if resp.IsError() {
		return out, &llm.ProviderError{
			Provider:   providerName,
			StatusCode: resp.StatusCode(),
			Message:    errorMessage(resp.Body()),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return out, fmt.Errorf("decode chat completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return out, errors.New("chat completion has no choices")
	}

	out.Text = strings.TrimSpace(parsed.Choices[0].Message.Content)
	return out, nil
}

func errorMessage(body []byte) string {
	var e errorBody
	if err := json.Unmarshal(body, &e); err == nil && strings.TrimSpace(e.Error.Message) != "" {
		return strings.TrimSpace(e.Error.Message)
	}
	return utils.TruncateForLog(string(body), 300)
}
