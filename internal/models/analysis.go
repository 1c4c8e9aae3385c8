package models

import (
	"time"

	"gorm.io/datatypes"
)

// PostingAnalysis accumulates the step results of every chain run of a posting.
type PostingAnalysis struct {
	PostingID      string         `gorm:"column:posting_id;primaryKey;size:64" json:"posting_id"`
	StepResults    datatypes.JSON `gorm:"column:step_results" json:"step_results"`
	LastUpdatedAt  *time.Time     `gorm:"column:last_updated_at" json:"last_updated_at,omitempty"`
	LastOperation  string         `gorm:"column:last_operation;size:100" json:"last_operation,omitempty"`
	CompletedSteps int            `gorm:"column:completed_steps;not null;default:0" json:"completed_steps"`
	FinalScore     *int           `gorm:"column:final_score" json:"final_score,omitempty"`
	Rating         string         `gorm:"column:rating;size:20" json:"rating,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PostingAnalysis) TableName() string {
	return "posting_analyses"
}

// StepRecord keeps the latest output of one step for one posting.
type StepRecord struct {
	ID          string         `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostingID   string         `gorm:"column:posting_id;size:64;not null;index" json:"posting_id"`
	StepID      string         `gorm:"column:step_id;size:64;not null" json:"step_id"`
	Data        datatypes.JSON `gorm:"column:data" json:"data"`
	RawResponse string         `gorm:"column:raw_response;type:text" json:"raw_response,omitempty"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (StepRecord) TableName() string {
	return "posting_step_records"
}

// PostingScore is the latest score of a posting. ID is derived from the
// posting id so recomputation overwrites the row.
type PostingScore struct {
	ID               string                      `gorm:"column:id;primaryKey;size:36" json:"id"`
	PostingID        string                      `gorm:"column:posting_id;size:64;not null;uniqueIndex" json:"posting_id"`
	TotalScore       int                         `gorm:"column:total_score;not null" json:"total_score"`
	Rating           string                      `gorm:"column:rating;size:20;not null" json:"rating"`
	PositiveFactors  datatypes.JSONSlice[string] `gorm:"column:positive_factors" json:"positive_factors"`
	NegativeFactors  datatypes.JSONSlice[string] `gorm:"column:negative_factors" json:"negative_factors"`
	AlgorithmVersion string                      `gorm:"column:algorithm_version;size:20" json:"algorithm_version"`
	CalculatedAt     time.Time                   `gorm:"column:calculated_at" json:"calculated_at"`
}

func (PostingScore) TableName() string {
	return "posting_scores"
}

// ChainAudit is a persisted projection of one chain run.
type ChainAudit struct {
	ID            uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PostingID     string         `gorm:"column:posting_id;size:64;not null;index" json:"posting_id"`
	ChainID       string         `gorm:"column:chain_id;size:64;not null;index" json:"chain_id"`
	Success       bool           `gorm:"column:success;not null" json:"success"`
	ErrorMessage  string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	StoppedAtStep string         `gorm:"column:stopped_at_step;size:64" json:"stopped_at_step,omitempty"`
	StopReason    string         `gorm:"column:stop_reason;type:text" json:"stop_reason,omitempty"`
	StepsExecuted int            `gorm:"column:steps_executed" json:"steps_executed"`
	Steps         datatypes.JSON `gorm:"column:steps" json:"steps,omitempty"`
	FinalScore    *int           `gorm:"column:final_score" json:"final_score,omitempty"`
	Rating        string         `gorm:"column:rating;size:20" json:"rating,omitempty"`
	DurationMs    int64          `gorm:"column:duration_ms" json:"duration_ms"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ChainAudit) TableName() string {
	return "chain_audits"
}

// All returns every model managed by migrations.
func All() []interface{} {
	return []interface{}{
		&QueueItem{},
		&LLMModel{},
		&LLMCallLog{},
		&Posting{},
		&PostingAnalysis{},
		&StepRecord{},
		&PostingScore{},
		&ChainAudit{},
	}
}
