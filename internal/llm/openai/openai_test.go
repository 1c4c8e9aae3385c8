package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/utils"
)

var fastRetries = utils.RetryPolicy{Attempts: 3, Wait: time.Millisecond, MaxWait: 5 * time.Millisecond}

func TestGenerateSendsChatCompletion(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  {\"java\": true}  "}}]}`))
	}))
	defer server.Close()

	tr, err := New(server.URL+"/v1/", "deepseek-chat", "secret", fastRetries)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}

	resp, err := tr.Generate(context.Background(), llm.Request{Prompt: "hello", Temperature: 0.2, MaxTokens: 300})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if resp.Text != `{"java": true}` {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.StatusCode != http.StatusOK || resp.Attempts != 1 {
		t.Fatalf("unexpected status %d or attempts %d", resp.StatusCode, resp.Attempts)
	}
	if got.Model != "deepseek-chat" || got.MaxTokens != 300 || got.Temperature != 0.2 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "hello" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestGenerateSurfacesProviderError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached for requests"}}`))
	}))
	defer server.Close()

	tr, _ := New(server.URL, "m", "", fastRetries)
	_, err := tr.Generate(context.Background(), llm.Request{Prompt: "hi"})

	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if perr.StatusCode != http.StatusTooManyRequests || !strings.Contains(perr.Message, "Rate limit") {
		t.Fatalf("unexpected provider error %+v", perr)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 4xx not to be retried, got %d calls", calls)
	}
	if llm.Classify(err) != llm.KindRateLimit {
		t.Fatalf("expected RATE_LIMIT, got %s", llm.Classify(err))
	}
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	tr, _ := New(server.URL, "m", "", fastRetries)
	resp, err := tr.Generate(context.Background(), llm.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Text != "ok" || resp.Attempts != 3 {
		t.Fatalf("expected success on third attempt, got %+v", resp)
	}
}

func TestGenerateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	tr, _ := New(server.URL, "m", "", fastRetries)
	if _, err := tr.Generate(context.Background(), llm.Request{Prompt: "hi"}); err == nil {
		t.Fatalf("expected error for empty choices")
	}
}

func TestNewRequiresModel(t *testing.T) {
	if _, err := New("", " ", "key", utils.DefaultRetryPolicy); err == nil {
		t.Fatalf("expected error for empty model")
	}
}
