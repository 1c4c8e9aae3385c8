package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/hh-analyzer/internal/models"
)

// AnalysisRepository stores the accumulated step results of postings.
type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Load returns the analysis of the posting or nil when there is none yet.
func (r *AnalysisRepository) Load(ctx context.Context, postingID string) (*models.PostingAnalysis, error) {
	var a models.PostingAnalysis
	err := r.db.WithContext(ctx).First(&a, "posting_id = ?", postingID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Save stores the analysis together with an optional step record in one
// transaction.
func (r *AnalysisRepository) Save(ctx context.Context, a *models.PostingAnalysis, step *models.StepRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "posting_id"}},
			UpdateAll: true,
		}).Create(a).Error; err != nil {
			return err
		}

		if step == nil {
			return nil
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(step).Error
	})
}

func (r *AnalysisRepository) StepRecords(ctx context.Context, postingID string) ([]models.StepRecord, error) {
	var list []models.StepRecord
	err := r.db.WithContext(ctx).Where("posting_id = ?", postingID).Order("step_id ASC").Find(&list).Error
	return list, err
}

// ScoreRepository stores posting scores.
type ScoreRepository struct {
	db *gorm.DB
}

func NewScoreRepository(db *gorm.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// Upsert writes the score keyed by its deterministic id.
func (r *ScoreRepository) Upsert(ctx context.Context, s *models.PostingScore) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(s).Error
}

func (r *ScoreRepository) GetByPosting(ctx context.Context, postingID string) (*models.PostingScore, error) {
	var s models.PostingScore
	if err := r.db.WithContext(ctx).First(&s, "posting_id = ?", postingID).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *ScoreRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PostingScore{}).Count(&count).Error
	return count, err
}

// AuditRepository stores chain run audits.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, a *models.ChainAudit) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *AuditRepository) ListByPosting(ctx context.Context, postingID string, limit int) ([]models.ChainAudit, error) {
	var list []models.ChainAudit
	q := r.db.WithContext(ctx).Where("posting_id = ?", postingID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&list).Error
	return list, err
}
