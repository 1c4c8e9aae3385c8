package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/spigell/hh-analyzer/internal/models"
)

// PostingFilter narrows the candidate set of batch operations.
type PostingFilter struct {
	IncludeArchived bool
	// WithoutScore keeps only postings that were never scored.
	WithoutScore bool
	// SyncedBefore keeps only postings not refreshed since the moment.
	SyncedBefore *time.Time
}

// PostingRepository stores postings.
type PostingRepository struct {
	db *gorm.DB
}

func NewPostingRepository(db *gorm.DB) *PostingRepository {
	return &PostingRepository{db: db}
}

func (r *PostingRepository) Get(ctx context.Context, id string) (*models.Posting, error) {
	var p models.Posting
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Upsert inserts the posting or refreshes every column of an existing one.
func (r *PostingRepository) Upsert(ctx context.Context, p *models.Posting) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(p).Error
}

// listingColumns are the columns a search result carries in full. Search
// results hold only a snippet of the description, so description, key skills,
// raw document and archive state are left to the detail refresh.
var listingColumns = []string{
	"name", "employer_id", "employer_name", "area",
	"salary_from", "salary_to", "currency", "schedule", "experience",
	"alternate_url", "published_at", "synced_at", "updated_at",
}

// UpsertListing inserts a posting built from a search result, or refreshes
// only the search-derived columns of an existing one.
func (r *PostingRepository) UpsertListing(ctx context.Context, p *models.Posting) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(listingColumns),
	}).Create(p).Error
}

func (r *PostingRepository) Archive(ctx context.Context, id string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Posting{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"archived":    true,
			"archived_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns one page of posting ids ordered by id.
func (r *PostingRepository) ListIDs(ctx context.Context, filter PostingFilter, offset, limit int) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&models.Posting{})
	if !filter.IncludeArchived {
		q = q.Where("archived = ?", false)
	}
	if filter.WithoutScore {
		q = q.Where("id NOT IN (?)", r.db.Model(&models.PostingScore{}).Select("posting_id"))
	}
	if filter.SyncedBefore != nil {
		q = q.Where("synced_at < ?", *filter.SyncedBefore)
	}

	var ids []string
	err := q.Order("id ASC").Offset(offset).Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// KnownIDs returns the subset of ids already stored.
func (r *PostingRepository) KnownIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	known := make(map[string]struct{})
	if len(ids) == 0 {
		return known, nil
	}

	var found []string
	if err := r.db.WithContext(ctx).Model(&models.Posting{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		known[id] = struct{}{}
	}
	return known, nil
}
