package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/spigell/hh-analyzer/internal/models"
)

// ModelRepository stores LLM model configurations and their health.
type ModelRepository struct {
	db *gorm.DB
}

func NewModelRepository(db *gorm.DB) *ModelRepository {
	return &ModelRepository{db: db}
}

func (r *ModelRepository) List(ctx context.Context) ([]models.LLMModel, error) {
	var list []models.LLMModel
	err := r.db.WithContext(ctx).
		Order("priority_order ASC").
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *ModelRepository) ListEnabled(ctx context.Context) ([]models.LLMModel, error) {
	var list []models.LLMModel
	err := r.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority_order ASC").
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *ModelRepository) Get(ctx context.Context, id uint) (*models.LLMModel, error) {
	var m models.LLMModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// SaveHealth persists the health fields of the model.
func (r *ModelRepository) SaveHealth(ctx context.Context, m *models.LLMModel) error {
	return r.db.WithContext(ctx).Model(&models.LLMModel{}).
		Where("id = ?", m.ID).
		Updates(map[string]interface{}{
			"failure_count":     m.FailureCount,
			"last_failure_at":   m.LastFailureAt,
			"last_success_at":   m.LastSuccessAt,
			"unavailable_until": m.UnavailableUntil,
			"last_error_kind":   m.LastErrorKind,
		}).Error
}

// RecordFailure increments the failure counter of the model in the database
// and, when cooldown returns a positive duration for the new count, marks the
// model unavailable until at plus that duration. The counter is incremented
// in SQL so concurrent failures on one model are all counted.
func (r *ModelRepository) RecordFailure(ctx context.Context, id uint, kind string, at time.Time, cooldown func(failures int) time.Duration) (*models.LLMModel, error) {
	var m models.LLMModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.LLMModel{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"failure_count":   gorm.Expr("failure_count + ?", 1),
				"last_failure_at": at,
				"last_error_kind": kind,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		if err := tx.First(&m, id).Error; err != nil {
			return notFound(err)
		}

		if d := cooldown(m.FailureCount); d > 0 {
			until := at.Add(d)
			m.UnavailableUntil = &until
			return tx.Model(&models.LLMModel{}).
				Where("id = ?", id).
				Update("unavailable_until", until).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertByName creates the model or updates its definition, keeping the
// health fields of an existing row.
func (r *ModelRepository) UpsertByName(ctx context.Context, m *models.LLMModel) (bool, error) {
	var existing models.LLMModel
	err := r.db.WithContext(ctx).Where("name = ?", m.Name).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, r.db.WithContext(ctx).Create(m).Error
	}
	if err != nil {
		return false, err
	}

	m.ID = existing.ID
	return false, r.db.WithContext(ctx).Model(&existing).
		Select("provider", "provider_model", "base_url", "api_key", "api_key_file",
			"priority_order", "enabled", "is_default", "temperature", "max_tokens", "timeout_seconds").
		Updates(m).Error
}

// ResetFailures clears the failure state of one model, or of every model
// when id is zero.
func (r *ModelRepository) ResetFailures(ctx context.Context, id uint) (int64, error) {
	q := r.db.WithContext(ctx).Model(&models.LLMModel{})
	if id != 0 {
		q = q.Where("id = ?", id)
	} else {
		q = q.Where("1 = 1")
	}

	res := q.Updates(map[string]interface{}{
		"failure_count":     0,
		"unavailable_until": nil,
		"last_error_kind":   "",
	})
	return res.RowsAffected, res.Error
}

// CallLogRepository appends call attempts.
type CallLogRepository struct {
	db *gorm.DB
}

func NewCallLogRepository(db *gorm.DB) *CallLogRepository {
	return &CallLogRepository{db: db}
}

func (r *CallLogRepository) Append(ctx context.Context, entry *models.LLMCallLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *CallLogRepository) ListByCorrelation(ctx context.Context, correlationID string) ([]models.LLMCallLog, error) {
	var list []models.LLMCallLog
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("id ASC").
		Find(&list).Error
	return list, err
}

func (r *CallLogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LLMCallLog{}).Count(&count).Error
	return count, err
}
