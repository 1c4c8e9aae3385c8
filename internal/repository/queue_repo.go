package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/spigell/hh-analyzer/internal/models"
)

// QueueRepository stores queue items.
type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// FindActive returns the newest item for the subject and kind in one of the
// statuses, or nil when there is none.
func (r *QueueRepository) FindActive(ctx context.Context, subjectID, kind string, statuses []string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := r.db.WithContext(ctx).
		Where("subject_id = ? AND kind = ? AND status IN ?", subjectID, kind, statuses).
		Order("id DESC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ExistingSubjects returns the subset of ids that already have an item of the
// kind in one of the statuses. It runs a single query.
func (r *QueueRepository) ExistingSubjects(ctx context.Context, kind string, statuses, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("kind = ? AND status IN ? AND subject_id IN ?", kind, statuses, ids).
		Distinct().
		Pluck("subject_id", &found).Error
	if err != nil {
		return nil, err
	}

	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

func (r *QueueRepository) Create(ctx context.Context, item *models.QueueItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *QueueRepository) CreateBatch(ctx context.Context, items []models.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&items, 200).Error
}

// NextByStatus returns the item with the highest priority and then the
// lowest id, or nil when the kind has none in the status.
func (r *QueueRepository) NextByStatus(ctx context.Context, kind, status string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status = ?", kind, status).
		Order("priority DESC").
		Order("id ASC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Transition moves the item from one status to another. It reports false when
// the item was not in the expected status anymore.
func (r *QueueRepository) Transition(ctx context.Context, id uint, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *QueueRepository) UpdateStatus(ctx context.Context, id uint, status, errorMessage string) error {
	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *QueueRepository) Get(ctx context.Context, id uint) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (r *QueueRepository) CountByStatus(ctx context.Context, kind string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Select("status, COUNT(*) AS count").
		Where("kind = ?", kind).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *QueueRepository) Count(ctx context.Context, kind, status string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("kind = ? AND status = ?", kind, status).
		Count(&count).Error
	return count, err
}

func (r *QueueRepository) Delete(ctx context.Context, kind string, statuses []string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("kind = ? AND status IN ?", kind, statuses).
		Delete(&models.QueueItem{})
	return res.RowsAffected, res.Error
}

// Requeue moves items stuck in a status since before the threshold back to
// the target status.
func (r *QueueRepository) Requeue(ctx context.Context, kind, from, to string, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.QueueItem{}).
		Where("kind = ? AND status = ? AND updated_at < ?", kind, from, before).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}
