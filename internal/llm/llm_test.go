package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/repository/repotest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type reply struct {
	text string
	err  error
}

type fakeTransport struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	reqs    []Request
}

func (f *fakeTransport) Generate(_ context.Context, req Request) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reqs = append(f.reqs, req)
	r := reply{text: "{}"}
	if f.calls < len(f.replies) {
		r = f.replies[f.calls]
	} else if len(f.replies) > 0 {
		r = f.replies[len(f.replies)-1]
	}
	f.calls++

	if r.err != nil {
		return Response{Attempts: 1}, r.err
	}
	return Response{Text: r.text, StatusCode: http.StatusOK, Attempts: 1}, nil
}

type fakeFactory struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	built      map[string]int
	keys       map[string]string
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		transports: make(map[string]*fakeTransport),
		built:      make(map[string]int),
		keys:       make(map[string]string),
	}
}

func (f *fakeFactory) script(name string, replies ...reply) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{replies: replies}
	f.transports[name] = t
	return t
}

func (f *fakeFactory) build(_ context.Context, m models.LLMModel, apiKey string) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.built[m.Name]++
	f.keys[m.Name] = apiKey
	t, ok := f.transports[m.Name]
	if !ok {
		return nil, fmt.Errorf("no transport for %s", m.Name)
	}
	return t, nil
}

type harness struct {
	client  *Client
	models  *repository.ModelRepository
	logs    *repository.CallLogRepository
	factory *fakeFactory
	now     time.Time
}

func newHarness(t *testing.T, ms ...models.LLMModel) *harness {
	t.Helper()

	db := repotest.Open(t)
	h := &harness{
		models:  repository.NewModelRepository(db),
		logs:    repository.NewCallLogRepository(db),
		factory: newFakeFactory(),
		now:     testNow,
	}

	for i := range ms {
		if _, err := h.models.UpsertByName(context.Background(), &ms[i]); err != nil {
			t.Fatalf("create model %s: %v", ms[i].Name, err)
		}
	}

	h.client = NewClient(h.models, h.logs, h.factory.build, zap.NewNop(), nil)
	h.client.now = func() time.Time { return h.now }
	return h
}

func (h *harness) model(t *testing.T, name string) models.LLMModel {
	t.Helper()
	all, err := h.models.List(context.Background())
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	for _, m := range all {
		if m.Name == name {
			return m
		}
	}
	t.Fatalf("model %s not found", name)
	return models.LLMModel{}
}

func testModel(name string, priority int) models.LLMModel {
	return models.LLMModel{
		Name:           name,
		Provider:       ProviderOpenAI,
		ProviderModel:  name + "-model",
		APIKey:         "key-" + name,
		PriorityOrder:  priority,
		Enabled:        true,
		Temperature:    0.1,
		MaxTokens:      1000,
		TimeoutSeconds: 30,
	}
}

func TestCallFailsOverToNextModel(t *testing.T) {
	h := newHarness(t, testModel("primary", 1), testModel("backup", 2))
	h.factory.script("primary", reply{err: &ProviderError{Provider: "openai", StatusCode: http.StatusTooManyRequests}})
	h.factory.script("backup", reply{text: `{"java": true}`})

	got, err := h.client.Call(context.Background(), "prompt", Options{})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got != `{"java": true}` {
		t.Fatalf("unexpected response %q", got)
	}

	primary := h.model(t, "primary")
	if primary.FailureCount != 1 || primary.LastErrorKind != string(KindRateLimit) {
		t.Fatalf("unexpected primary health %+v", primary)
	}
	if primary.UnavailableUntil == nil || !primary.UnavailableUntil.Equal(testNow.Add(5*time.Minute)) {
		t.Fatalf("expected 5m cooldown, got %v", primary.UnavailableUntil)
	}

	backup := h.model(t, "backup")
	if backup.FailureCount != 0 || backup.LastSuccessAt == nil {
		t.Fatalf("unexpected backup health %+v", backup)
	}

	count, _ := h.logs.Count(context.Background())
	if count != 2 {
		t.Fatalf("expected 2 call logs, got %d", count)
	}
}

func TestCallLogsShareCorrelationID(t *testing.T) {
	h := newHarness(t, testModel("a", 1), testModel("b", 2))
	h.factory.script("a", reply{err: errors.New("boom")})
	h.factory.script("b", reply{text: "ok"})

	core, observed := observer.New(zapcore.InfoLevel)
	h.client.logger = zap.New(core)

	if _, err := h.client.Call(context.Background(), "prompt", Options{}); err != nil {
		t.Fatalf("call: %v", err)
	}

	success := observed.FilterMessage("model call succeeded").All()
	if len(success) != 1 {
		t.Fatalf("expected one success log, got %d", len(success))
	}
	correlationID, _ := success[0].ContextMap()["correlation_id"].(string)
	if correlationID == "" {
		t.Fatalf("expected correlation id in log")
	}

	entries, err := h.logs.ListByCorrelation(context.Background(), correlationID)
	if err != nil {
		t.Fatalf("list call logs: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 attempts under one correlation id, got %d", len(entries))
	}
	if entries[0].Success || entries[0].ErrorKind != string(KindUnknown) || entries[0].ErrorDetail != "boom" {
		t.Fatalf("unexpected failed attempt %+v", entries[0])
	}
	if !entries[1].Success || entries[1].Response != "ok" || entries[1].PromptLen != len("prompt") {
		t.Fatalf("unexpected successful attempt %+v", entries[1])
	}
}

func TestCallExhaustsAllModels(t *testing.T) {
	h := newHarness(t, testModel("a", 1), testModel("b", 2))
	h.factory.script("a", reply{err: &ProviderError{Provider: "openai", StatusCode: http.StatusInternalServerError}})
	h.factory.script("b", reply{err: &ProviderError{Provider: "openai", StatusCode: http.StatusUnauthorized}})

	_, err := h.client.Call(context.Background(), "prompt", Options{})
	if !errors.Is(err, ErrAllModelsFailed) {
		t.Fatalf("expected ErrAllModelsFailed, got %v", err)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %+v", exhausted)
	}
	if Classify(exhausted.Last) != KindAuth {
		t.Fatalf("expected last error to be the auth failure, got %v", exhausted.Last)
	}

	count, _ := h.logs.Count(context.Background())
	if count != 2 {
		t.Fatalf("expected 2 call logs, got %d", count)
	}

	if b := h.model(t, "b"); b.UnavailableUntil == nil || !b.UnavailableUntil.Equal(testNow.Add(24*time.Hour)) {
		t.Fatalf("expected 24h cooldown for auth error, got %v", b.UnavailableUntil)
	}
	// first API error has no cooldown
	if a := h.model(t, "a"); a.UnavailableUntil != nil {
		t.Fatalf("expected no cooldown on first api error, got %v", a.UnavailableUntil)
	}
}

func TestCallSkipsModelsOnCooldown(t *testing.T) {
	h := newHarness(t, testModel("a", 1), testModel("b", 2))
	a := h.factory.script("a", reply{err: &ProviderError{Provider: "openai", StatusCode: http.StatusTooManyRequests}}, reply{text: "a-ok"})
	b := h.factory.script("b", reply{text: "b-ok"})

	ctx := context.Background()
	if _, err := h.client.Call(ctx, "p", Options{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	h.now = testNow.Add(time.Minute)
	got, err := h.client.Call(ctx, "p", Options{})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got != "b-ok" || a.calls != 1 || b.calls != 2 {
		t.Fatalf("expected model on cooldown to be skipped, got %q a=%d b=%d", got, a.calls, b.calls)
	}

	h.now = testNow.Add(5 * time.Minute)
	got, err = h.client.Call(ctx, "p", Options{})
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if got != "a-ok" {
		t.Fatalf("expected model to be back after cooldown, got %q", got)
	}
	if m := h.model(t, "a"); m.FailureCount != 0 || m.UnavailableUntil != nil {
		t.Fatalf("expected success to clear failure state, got %+v", m)
	}
}

func TestCallWithoutAvailableModels(t *testing.T) {
	disabled := testModel("off", 1)
	disabled.Enabled = false
	h := newHarness(t, disabled)

	if _, err := h.client.Call(context.Background(), "p", Options{}); !errors.Is(err, ErrNoAvailableModels) {
		t.Fatalf("expected ErrNoAvailableModels, got %v", err)
	}
}

func TestCallAppliesOptions(t *testing.T) {
	h := newHarness(t, testModel("a", 1))
	tr := h.factory.script("a", reply{text: "ok"})

	if _, err := h.client.Call(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if _, err := h.client.Call(context.Background(), "p", Options{Temperature: Float(0), MaxTokens: 2500}); err != nil {
		t.Fatalf("call: %v", err)
	}

	if tr.reqs[0].Temperature != 0.1 || tr.reqs[0].MaxTokens != 1000 {
		t.Fatalf("expected model defaults, got %+v", tr.reqs[0])
	}
	if tr.reqs[1].Temperature != 0 || tr.reqs[1].MaxTokens != 2500 {
		t.Fatalf("expected overrides, got %+v", tr.reqs[1])
	}
	if h.factory.keys["a"] != "key-a" {
		t.Fatalf("expected api key to reach the factory, got %q", h.factory.keys["a"])
	}
}

func TestTransportCacheReuseAndEviction(t *testing.T) {
	h := newHarness(t, testModel("a", 1), testModel("b", 2))
	h.factory.script("a", reply{text: "1"}, reply{text: "2"}, reply{err: errors.New("boom")}, reply{text: "3"})
	h.factory.script("b", reply{text: "b"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.client.Call(ctx, "p", Options{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if h.factory.built["a"] != 1 {
		t.Fatalf("expected cached transport, built %d times", h.factory.built["a"])
	}

	// failure evicts, next call rebuilds
	if _, err := h.client.Call(ctx, "p", Options{}); err != nil {
		t.Fatalf("failover call: %v", err)
	}
	if _, err := h.client.Call(ctx, "p", Options{}); err != nil {
		t.Fatalf("call after failure: %v", err)
	}
	if h.factory.built["a"] != 2 {
		t.Fatalf("expected rebuild after failure, built %d times", h.factory.built["a"])
	}

	// a definition change invalidates the entry
	changed := testModel("a", 1)
	changed.BaseURL = "https://openrouter.ai/api/v1"
	if _, err := h.models.UpsertByName(ctx, &changed); err != nil {
		t.Fatalf("update model: %v", err)
	}
	if _, err := h.client.Call(ctx, "p", Options{}); err != nil {
		t.Fatalf("call after change: %v", err)
	}
	if h.factory.built["a"] != 3 {
		t.Fatalf("expected rebuild after base url change, built %d times", h.factory.built["a"])
	}
}

func TestMissingKeyFileIsAuthFailure(t *testing.T) {
	m := testModel("a", 1)
	m.APIKey = ""
	m.APIKeyFile = "/nonexistent/key"
	h := newHarness(t, m, testModel("b", 2))
	h.factory.script("b", reply{text: "ok"})

	if _, err := h.client.Call(context.Background(), "p", Options{}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := h.model(t, "a"); got.LastErrorKind != string(KindAuth) {
		t.Fatalf("expected AUTH_ERROR, got %q", got.LastErrorKind)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "429", err: &ProviderError{StatusCode: 429}, want: KindRateLimit},
		{name: "rate limit text", err: errors.New("Rate limit exceeded"), want: KindRateLimit},
		{name: "too many requests text", err: errors.New("too many requests"), want: KindRateLimit},
		{name: "402", err: &ProviderError{StatusCode: 402}, want: KindQuotaExceeded},
		{name: "quota text on 403", err: &ProviderError{StatusCode: 403, Message: "Insufficient credits"}, want: KindQuotaExceeded},
		{name: "billing text", err: errors.New("billing hard limit reached"), want: KindQuotaExceeded},
		{name: "401", err: &ProviderError{StatusCode: 401}, want: KindAuth},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "net error", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: KindTimeout},
		{name: "timeout text", err: errors.New("request timeout"), want: KindTimeout},
		{name: "500", err: &ProviderError{StatusCode: 500}, want: KindAPI},
		{name: "400", err: &ProviderError{StatusCode: 400, Message: "bad request"}, want: KindAPI},
		{name: "other", err: errors.New("boom"), want: KindUnknown},
		{name: "nil", err: nil, want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCooldown(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		failures int
		want     time.Duration
	}{
		{kind: KindRateLimit, failures: 1, want: 5 * time.Minute},
		{kind: KindQuotaExceeded, failures: 1, want: 24 * time.Hour},
		{kind: KindAuth, failures: 1, want: 24 * time.Hour},
		{kind: KindAPI, failures: 3, want: 0},
		{kind: KindAPI, failures: 4, want: time.Minute},
		{kind: KindTimeout, failures: 50, want: 0},
		{kind: KindUnknown, failures: 5, want: 0},
		{kind: KindUnknown, failures: 6, want: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.kind, tt.failures), func(t *testing.T) {
			if got := Cooldown(tt.kind, tt.failures); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestRecordFailureAppliesCooldownFromCount(t *testing.T) {
	m := &models.LLMModel{FailureCount: 3}
	if d := recordFailure(m, KindAPI, testNow); d != time.Minute {
		t.Fatalf("expected cooldown after fourth api error, got %s", d)
	}
	if m.FailureCount != 4 || m.UnavailableUntil == nil || !m.UnavailableUntil.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("unexpected model state %+v", m)
	}

	recordSuccess(m, testNow)
	if m.FailureCount != 0 || m.UnavailableUntil != nil || m.LastErrorKind != "" {
		t.Fatalf("expected success to clear state, got %+v", m)
	}
}

func TestParseErrorKind(t *testing.T) {
	if k, err := ParseErrorKind("rate_limit"); err != nil || k != KindRateLimit {
		t.Fatalf("unexpected parse result %s %v", k, err)
	}
	if _, err := ParseErrorKind("FLAKY"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
