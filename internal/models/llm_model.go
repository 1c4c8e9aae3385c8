package models

import "time"

// LLMModel is a provider configuration annotated with its health.
type LLMModel struct {
	ID               uint       `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name             string     `gorm:"column:name;size:100;not null;uniqueIndex" json:"name"`
	Provider         string     `gorm:"column:provider;size:20;not null;default:openai" json:"provider"`
	ProviderModel    string     `gorm:"column:provider_model;size:255;not null" json:"provider_model"`
	BaseURL          string     `gorm:"column:base_url;size:255" json:"base_url"`
	APIKey           string     `gorm:"column:api_key;size:512" json:"-"`
	APIKeyFile       string     `gorm:"column:api_key_file;size:512" json:"api_key_file,omitempty"`
	PriorityOrder    int        `gorm:"column:priority_order;not null;index" json:"priority_order"`
	Enabled          bool       `gorm:"column:enabled;not null" json:"enabled"`
	IsDefault        bool       `gorm:"column:is_default;not null;default:false" json:"is_default"`
	Temperature      float64    `gorm:"column:temperature;not null;default:0.1" json:"temperature"`
	MaxTokens        int        `gorm:"column:max_tokens;not null;default:1000" json:"max_tokens"`
	TimeoutSeconds   int        `gorm:"column:timeout_seconds;not null;default:30" json:"timeout_seconds"`
	FailureCount     int        `gorm:"column:failure_count;not null;default:0" json:"failure_count"`
	LastFailureAt    *time.Time `gorm:"column:last_failure_at" json:"last_failure_at,omitempty"`
	LastSuccessAt    *time.Time `gorm:"column:last_success_at" json:"last_success_at,omitempty"`
	UnavailableUntil *time.Time `gorm:"column:unavailable_until" json:"unavailable_until,omitempty"`
	LastErrorKind    string     `gorm:"column:last_error_kind;size:30" json:"last_error_kind,omitempty"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (LLMModel) TableName() string {
	return "llm_models"
}

// IsAvailable reports whether the model can be tried at the given moment.
func (m *LLMModel) IsAvailable(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	return m.UnavailableUntil == nil || !now.Before(*m.UnavailableUntil)
}

// LLMCallLog is one attempt against one model. Attempts of a single logical
// call share the correlation id.
type LLMCallLog struct {
	ID            uint      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CorrelationID string    `gorm:"column:correlation_id;size:36;not null;index" json:"correlation_id"`
	ModelID       uint      `gorm:"column:model_id;index" json:"model_id"`
	ModelName     string    `gorm:"column:model_name;size:100" json:"model_name"`
	Prompt        string    `gorm:"column:prompt;type:text" json:"prompt"`
	PromptLen     int       `gorm:"column:prompt_len" json:"prompt_len"`
	Response      string    `gorm:"column:response;type:text" json:"response"`
	ResponseLen   int       `gorm:"column:response_len" json:"response_len"`
	Success       bool      `gorm:"column:success;not null" json:"success"`
	HTTPStatus    int       `gorm:"column:http_status" json:"http_status,omitempty"`
	ErrorKind     string    `gorm:"column:error_kind;size:30" json:"error_kind,omitempty"`
	ErrorDetail   string    `gorm:"column:error_detail;type:text" json:"error_detail,omitempty"`
	DurationMs    int64     `gorm:"column:duration_ms" json:"duration_ms"`
	RetryCount    int       `gorm:"column:retry_count" json:"retry_count"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (LLMCallLog) TableName() string {
	return "llm_call_logs"
}
