// Package providers builds llm transports from model configurations.
package providers

import (
	"context"
	"fmt"

	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/llm/gemini"
	"github.com/spigell/hh-analyzer/internal/llm/openai"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/utils"
)

// Factory returns an llm.TransportFactory using the given retry policy for
// HTTP based providers.
func Factory(policy utils.RetryPolicy) llm.TransportFactory {
	return func(ctx context.Context, m models.LLMModel, apiKey string) (llm.Transport, error) {
		switch m.Provider {
		case llm.ProviderOpenAI, "":
			t, err := openai.New(m.BaseURL, m.ProviderModel, apiKey, policy)
			if err != nil {
				return nil, err
			}
			return t, nil
		case llm.ProviderGemini:
			t, err := gemini.New(ctx, m.BaseURL, m.ProviderModel, apiKey)
			if err != nil {
				return nil, err
			}
			return t, nil
		default:
			return nil, fmt.Errorf("unknown provider %q", m.Provider)
		}
	}
}
