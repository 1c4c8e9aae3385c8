package providers

import (
	"context"
	"testing"

	"github.com/spigell/hh-analyzer/internal/llm/openai"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/utils"
)

func TestFactory(t *testing.T) {
	factory := Factory(utils.DefaultRetryPolicy)

	tr, err := factory(context.Background(), models.LLMModel{Provider: "openai", ProviderModel: "gpt-4o-mini"}, "key")
	if err != nil {
		t.Fatalf("openai transport: %v", err)
	}
	if _, ok := tr.(*openai.Transport); !ok {
		t.Fatalf("expected openai transport, got %T", tr)
	}

	if _, err := factory(context.Background(), models.LLMModel{Provider: "gemini", ProviderModel: "gemini-2.5-pro"}, ""); err == nil {
		t.Fatalf("expected gemini transport to require a key")
	}

	if _, err := factory(context.Background(), models.LLMModel{Provider: "claude"}, "key"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
