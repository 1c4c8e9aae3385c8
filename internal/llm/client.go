// Package llm calls language models with failover between configured
// providers, classifying failures and putting failing models on cooldown.
package llm

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/secrets"
	"github.com/spigell/hh-analyzer/internal/utils"
)

const (
	warmupPrompt      = `Reply with the JSON object {"ok": true} and nothing else.`
	defaultLogPreview = 200
)

// Request is one generation request sent to a transport.
type Request struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Response is what a transport returns. Attempts counts transport level
// retries including the first try.
type Response struct {
	Text       string
	StatusCode int
	Attempts   int
}

// Transport talks to one provider model.
type Transport interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// TransportFactory builds the transport of a model with its resolved key.
type TransportFactory func(ctx context.Context, m models.LLMModel, apiKey string) (Transport, error)

// CallLogStore receives one entry per attempt.
type CallLogStore interface {
	Append(ctx context.Context, entry *models.LLMCallLog) error
}

// Options override the model defaults for one call.
type Options struct {
	Temperature *float64
	MaxTokens   int
	// Purpose is logged with the call, e.g. the chain step id.
	Purpose string
}

// Float returns a pointer to v, for Options.Temperature.
func Float(v float64) *float64 {
	return &v
}

type cachedTransport struct {
	transport   Transport
	fingerprint string
}

// Client is the resilient model client. It is safe for concurrent use.
type Client struct {
	registry *Registry
	store    ModelStore
	logs     CallLogStore
	factory  TransportFactory
	logger   *zap.Logger
	metrics  metrics.Recorder
	now      func() time.Time

	maxLogLength int

	cacheMu sync.RWMutex
	cache   map[uint]cachedTransport
}

func NewClient(store ModelStore, logs CallLogStore, factory TransportFactory, log *zap.Logger, recorder metrics.Recorder) *Client {
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		registry:     NewRegistry(store, log),
		store:        store,
		logs:         logs,
		factory:      factory,
		logger:       log,
		metrics:      metrics.OrNop(recorder),
		now:          time.Now,
		maxLogLength: defaultLogPreview,
		cache:        make(map[uint]cachedTransport),
	}
}

// Registry exposes the model registry the client selects candidates from.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Call sends the prompt to the available models in failover order and
// returns the first successful response.
func (c *Client) Call(ctx context.Context, prompt string, opts Options) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	correlationID := uuid.NewString()
	candidates, err := c.registry.Candidates(ctx, c.now())
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		c.logger.Warn("no available models", zap.String(logger.FieldCorrelation, correlationID))
		return "", ErrNoAvailableModels
	}

	var (
		last     error
		attempts int
	)
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		attempts++
		text, err := c.attempt(ctx, &candidates[i], prompt, opts, correlationID)
		if err == nil {
			return text, nil
		}
		last = err
	}

	c.logger.Error("all models failed",
		zap.String(logger.FieldCorrelation, correlationID),
		zap.Int("attempts", attempts),
		zap.Error(last),
	)
	return "", &ExhaustedError{Attempts: attempts, Last: last}
}

func (c *Client) attempt(ctx context.Context, m *models.LLMModel, prompt string, opts Options, correlationID string) (string, error) {
	log := logger.WithFields(c.logger, append(
		logger.CommonFields(m.Provider, m.Name),
		zap.String(logger.FieldCorrelation, correlationID),
	)...)
	if opts.Purpose != "" {
		log = log.With(zap.String("purpose", opts.Purpose))
	}

	req := Request{Prompt: prompt, Temperature: m.Temperature, MaxTokens: m.MaxTokens}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	timeout := time.Duration(m.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout * time.Second
	}

	log.Debug("calling model",
		zap.Int("prompt_length", len(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLength)),
	)

	started := c.now()
	var (
		resp Response
		err  error
		kind ErrorKind
	)

	transport, err := c.transportFor(ctx, *m)
	if err != nil {
		kind = KindAuth
	} else {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err = transport.Generate(callCtx, req)
		cancel()

		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = fmt.Errorf("%s returned an empty response", m.Provider)
		}
		if err != nil {
			kind = Classify(err)
		}
	}
	duration := c.now().Sub(started)

	entry := &models.LLMCallLog{
		CorrelationID: correlationID,
		ModelID:       m.ID,
		ModelName:     m.Name,
		Prompt:        prompt,
		PromptLen:     len(prompt),
		Response:      resp.Text,
		ResponseLen:   len(resp.Text),
		Success:       err == nil,
		HTTPStatus:    resp.StatusCode,
		DurationMs:    duration.Milliseconds(),
	}
	if resp.Attempts > 1 {
		entry.RetryCount = resp.Attempts - 1
	}

	now := c.now()
	labels := map[string]string{"model": m.Name}

	if err == nil {
		recordSuccess(m, now)
		c.persist(ctx, m, entry, log)

		c.metrics.IncCounter("llm_calls_total", map[string]string{"model": m.Name, "result": "success"}, 1)
		c.metrics.ObserveDuration("llm_call", labels, duration)
		log.Info("model call succeeded",
			zap.Duration("duration", duration),
			zap.Int("response_length", len(resp.Text)),
			zap.String("response_preview", utils.TruncateForLog(resp.Text, c.maxLogLength)),
		)
		return resp.Text, nil
	}

	cooldown := c.countFailure(ctx, m, kind, now, log)
	if entry.HTTPStatus == 0 {
		entry.HTTPStatus = statusCode(err)
	}
	entry.ErrorKind = string(kind)
	entry.ErrorDetail = err.Error()
	c.evict(m.ID)
	c.appendLog(ctx, entry, log)

	c.metrics.IncCounter("llm_calls_total", map[string]string{"model": m.Name, "result": "failure", "kind": string(kind)}, 1)
	c.metrics.ObserveDuration("llm_call", labels, duration)
	log.Warn("model call failed",
		zap.String("error_kind", string(kind)),
		zap.Int("failure_count", m.FailureCount),
		zap.Duration("cooldown", cooldown),
		zap.Duration("duration", duration),
		zap.Error(err),
	)

	return "", fmt.Errorf("model %s: %w", m.Name, err)
}

// persist writes health and the call log. Failures are logged only; a lost
// bookkeeping write must not fail the call.
func (c *Client) persist(ctx context.Context, m *models.LLMModel, entry *models.LLMCallLog, log *zap.Logger) {
	if err := c.store.SaveHealth(context.WithoutCancel(ctx), m); err != nil {
		log.Error("failed to save model health", zap.Error(err))
	}
	c.appendLog(ctx, entry, log)
}

func (c *Client) appendLog(ctx context.Context, entry *models.LLMCallLog, log *zap.Logger) {
	if c.logs == nil {
		return
	}
	if err := c.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("failed to append call log", zap.Error(err))
	}
}

// countFailure increments the stored failure counter and copies the stored
// health into m. When the store is unreachable the failure is counted on m
// only.
func (c *Client) countFailure(ctx context.Context, m *models.LLMModel, kind ErrorKind, now time.Time, log *zap.Logger) time.Duration {
	stored, err := c.store.RecordFailure(context.WithoutCancel(ctx), m.ID, string(kind), now, func(failures int) time.Duration {
		return Cooldown(kind, failures)
	})
	if err != nil {
		log.Error("failed to save model health", zap.Error(err))
		return recordFailure(m, kind, now)
	}

	m.FailureCount = stored.FailureCount
	m.LastFailureAt = stored.LastFailureAt
	m.LastErrorKind = stored.LastErrorKind
	m.UnavailableUntil = stored.UnavailableUntil
	return Cooldown(kind, m.FailureCount)
}

func (c *Client) transportFor(ctx context.Context, m models.LLMModel) (Transport, error) {
	apiKey, err := secrets.Optional(secrets.Source{
		Name:  fmt.Sprintf("api key of model %s", m.Name),
		Value: m.APIKey,
		File:  m.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	fp := fingerprint(m, apiKey)

	c.cacheMu.RLock()
	if cached, ok := c.cache[m.ID]; ok && cached.fingerprint == fp {
		c.cacheMu.RUnlock()
		return cached.transport, nil
	}
	c.cacheMu.RUnlock()

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	if cached, ok := c.cache[m.ID]; ok && cached.fingerprint == fp {
		return cached.transport, nil
	}

	transport, err := c.factory(ctx, m, apiKey)
	if err != nil {
		return nil, fmt.Errorf("create %s transport: %w", m.Provider, err)
	}
	c.cache[m.ID] = cachedTransport{transport: transport, fingerprint: fp}

	return transport, nil
}

func (c *Client) evict(id uint) {
	c.cacheMu.Lock()
	delete(c.cache, id)
	c.cacheMu.Unlock()
}

func fingerprint(m models.LLMModel, apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return fmt.Sprintf("%s|%s|%s|%x", m.Provider, m.BaseURL, m.ProviderModel, sum[:8])
}

// WarmupResult is the probe outcome of one model.
type WarmupResult struct {
	ModelID  uint          `json:"model_id"`
	Name     string        `json:"name"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Warmup sends a short probe to every enabled model, including those on
// cooldown. Results update model health like any other call.
func (c *Client) Warmup(ctx context.Context) ([]WarmupResult, error) {
	enabled, err := c.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled models: %w", err)
	}
	SortCandidates(enabled)

	correlationID := uuid.NewString()
	results := make([]WarmupResult, 0, len(enabled))
	for i := range enabled {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		m := &enabled[i]
		started := c.now()
		_, err := c.attempt(ctx, m, warmupPrompt, Options{MaxTokens: 20, Purpose: "warmup"}, correlationID)

		res := WarmupResult{ModelID: m.ID, Name: m.Name, Success: err == nil, Duration: c.now().Sub(started)}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}

	return results, nil
}
