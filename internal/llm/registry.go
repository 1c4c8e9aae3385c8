package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/models"
)

// ModelStore persists model configurations and their health.
type ModelStore interface {
	List(ctx context.Context) ([]models.LLMModel, error)
	ListEnabled(ctx context.Context) ([]models.LLMModel, error)
	Get(ctx context.Context, id uint) (*models.LLMModel, error)
	SaveHealth(ctx context.Context, m *models.LLMModel) error
	RecordFailure(ctx context.Context, id uint, kind string, at time.Time, cooldown func(failures int) time.Duration) (*models.LLMModel, error)
	UpsertByName(ctx context.Context, m *models.LLMModel) (bool, error)
	ResetFailures(ctx context.Context, id uint) (int64, error)
}

// ModelSpec is a model definition coming from configuration.
type ModelSpec struct {
	Name           string  `mapstructure:"name"`
	Provider       string  `mapstructure:"provider"`
	Model          string  `mapstructure:"model"`
	BaseURL        string  `mapstructure:"base-url"`
	APIKey         string  `mapstructure:"api-key"`
	APIKeyFile     string  `mapstructure:"api-key-file"`
	Priority       int     `mapstructure:"priority"`
	Enabled        *bool   `mapstructure:"enabled"`
	Default        bool    `mapstructure:"default"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max-tokens"`
	TimeoutSeconds int     `mapstructure:"timeout-seconds"`
}

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	defaultTemperature = 0.1
	defaultMaxTokens   = 1000
	defaultTimeout     = 30
)

func (s ModelSpec) toModel() (models.LLMModel, error) {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return models.LLMModel{}, fmt.Errorf("model name is required")
	}

	provider := strings.ToLower(strings.TrimSpace(s.Provider))
	switch provider {
	case "":
		provider = ProviderOpenAI
	case ProviderOpenAI, ProviderGemini:
	default:
		return models.LLMModel{}, fmt.Errorf("model %s: unknown provider %q", name, s.Provider)
	}

	providerModel := strings.TrimSpace(s.Model)
	if providerModel == "" {
		return models.LLMModel{}, fmt.Errorf("model %s: provider model is required", name)
	}

	m := models.LLMModel{
		Name:           name,
		Provider:       provider,
		ProviderModel:  providerModel,
		BaseURL:        strings.TrimRight(strings.TrimSpace(s.BaseURL), "/"),
		APIKey:         strings.TrimSpace(s.APIKey),
		APIKeyFile:     strings.TrimSpace(s.APIKeyFile),
		PriorityOrder:  s.Priority,
		Enabled:        s.Enabled == nil || *s.Enabled,
		IsDefault:      s.Default,
		Temperature:    s.Temperature,
		MaxTokens:      s.MaxTokens,
		TimeoutSeconds: s.TimeoutSeconds,
	}
	if m.Temperature <= 0 {
		m.Temperature = defaultTemperature
	}
	if m.MaxTokens <= 0 {
		m.MaxTokens = defaultMaxTokens
	}
	if m.TimeoutSeconds <= 0 {
		m.TimeoutSeconds = defaultTimeout
	}

	return m, nil
}

// Registry reads and maintains the model pool.
type Registry struct {
	store  ModelStore
	logger *zap.Logger
}

func NewRegistry(store ModelStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, logger: logger}
}

// Candidates returns the models that may be tried at now, in failover order.
func (r *Registry) Candidates(ctx context.Context, now time.Time) ([]models.LLMModel, error) {
	enabled, err := r.store.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled models: %w", err)
	}

	out := make([]models.LLMModel, 0, len(enabled))
	for i := range enabled {
		if enabled[i].IsAvailable(now) {
			out = append(out, enabled[i])
		}
	}

	SortCandidates(out)
	return out, nil
}

// SortCandidates orders models by priority, default first, then id.
func SortCandidates(ms []models.LLMModel) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		if a.PriorityOrder != b.PriorityOrder {
			return a.PriorityOrder < b.PriorityOrder
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.ID < b.ID
	})
}

// Reset clears the failure state of one model.
func (r *Registry) Reset(ctx context.Context, id uint) error {
	if id == 0 {
		return fmt.Errorf("model id is required")
	}
	if _, err := r.store.Get(ctx, id); err != nil {
		return fmt.Errorf("load model %d: %w", id, err)
	}
	if _, err := r.store.ResetFailures(ctx, id); err != nil {
		return fmt.Errorf("reset model %d: %w", id, err)
	}
	r.logger.Info("model failure state reset", zap.Uint("model_id", id))
	return nil
}

// ResetAll clears the failure state of every model.
func (r *Registry) ResetAll(ctx context.Context) (int64, error) {
	n, err := r.store.ResetFailures(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("reset models: %w", err)
	}
	r.logger.Info("failure state reset for all models", zap.Int64("models", n))
	return n, nil
}

// Sync upserts the configured models by name. Health columns are left alone.
func (r *Registry) Sync(ctx context.Context, specs []ModelSpec) (created, updated int, err error) {
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		m, err := spec.toModel()
		if err != nil {
			return created, updated, err
		}
		if _, dup := seen[m.Name]; dup {
			return created, updated, fmt.Errorf("model %s is defined twice", m.Name)
		}
		seen[m.Name] = struct{}{}

		isNew, err := r.store.UpsertByName(ctx, &m)
		if err != nil {
			return created, updated, fmt.Errorf("upsert model %s: %w", m.Name, err)
		}
		if isNew {
			created++
		} else {
			updated++
		}
	}

	r.logger.Info("models synced", zap.Int("created", created), zap.Int("updated", updated))
	return created, updated, nil
}

// Diagnosis is the health report of one model.
type Diagnosis struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	Provider          string     `json:"provider"`
	ProviderModel     string     `json:"provider_model"`
	PriorityOrder     int        `json:"priority_order"`
	IsDefault         bool       `json:"is_default"`
	Enabled           bool       `json:"enabled"`
	Available         bool       `json:"available"`
	CooldownRemaining string     `json:"cooldown_remaining,omitempty"`
	FailureCount      int        `json:"failure_count"`
	LastErrorKind     string     `json:"last_error_kind,omitempty"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
}

// Diagnose reports the health of every configured model in failover order.
// It makes no provider calls.
func (r *Registry) Diagnose(ctx context.Context, now time.Time) ([]Diagnosis, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	SortCandidates(all)

	out := make([]Diagnosis, 0, len(all))
	for i := range all {
		m := &all[i]
		d := Diagnosis{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      m.Provider,
			ProviderModel: m.ProviderModel,
			PriorityOrder: m.PriorityOrder,
			IsDefault:     m.IsDefault,
			Enabled:       m.Enabled,
			Available:     m.IsAvailable(now),
			FailureCount:  m.FailureCount,
			LastErrorKind: m.LastErrorKind,
			LastFailureAt: m.LastFailureAt,
			LastSuccessAt: m.LastSuccessAt,
		}
		if m.UnavailableUntil != nil && now.Before(*m.UnavailableUntil) {
			d.CooldownRemaining = m.UnavailableUntil.Sub(now).Round(time.Second).String()
		}
		out = append(out, d)
	}

	return out, nil
}

// recordSuccess clears the failure state after a successful attempt.
func recordSuccess(m *models.LLMModel, now time.Time) {
	m.FailureCount = 0
	m.UnavailableUntil = nil
	m.LastErrorKind = ""
	at := now
	m.LastSuccessAt = &at
}

// recordFailure counts the failure and applies the cooldown of its kind.
func recordFailure(m *models.LLMModel, kind ErrorKind, now time.Time) time.Duration {
	m.FailureCount++
	at := now
	m.LastFailureAt = &at
	m.LastErrorKind = string(kind)

	cooldown := Cooldown(kind, m.FailureCount)
	if cooldown > 0 {
		until := now.Add(cooldown)
		m.UnavailableUntil = &until
	}
	return cooldown
}
