package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/filtering"
	"github.com/spigell/hh-analyzer/internal/headhunter"
	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/queue"
)

// Searcher lists vacancies.
type Searcher interface {
	SearchAll(ctx context.Context, params *headhunter.SearchParams, maxPages int) (*headhunter.Vacancies, error)
}

// Enqueuer queues subject ids.
type Enqueuer interface {
	EnqueueIDs(ctx context.Context, kind queue.Kind, priority int, ids []string) (queue.BatchSummary, error)
}

// ListingStore stores postings found by a search.
type ListingStore interface {
	Upsert(ctx context.Context, p *models.Posting) error
	UpsertListing(ctx context.Context, p *models.Posting) error
}

// SyncOptions control one sync pass.
type SyncOptions struct {
	Search   *headhunter.SearchParams
	MaxPages int
	// Kinds are the queues every stored posting is added to.
	Kinds    []queue.Kind
	Priority int
	Filters  *filtering.Config
}

// SyncSummary describes a sync pass. Detailed counts postings stored with the
// full vacancy document, Gone counts search hits the API no longer returns by id.
type SyncSummary struct {
	Found    int                           `json:"found"`
	Filtered int                           `json:"filtered"`
	Stored   int                           `json:"stored"`
	Detailed int                           `json:"detailed"`
	Gone     int                           `json:"gone"`
	Enqueued map[string]queue.BatchSummary `json:"enqueued"`
}

// Syncer pulls vacancies from the listings API, filters and stores them, and
// queues them for analysis.
type Syncer struct {
	searcher Searcher
	details  VacancySource
	postings ListingStore
	known    filtering.KnownStore
	queue    Enqueuer
	logger   *zap.Logger
	now      func() time.Time
}

func NewSyncer(searcher Searcher, postings ListingStore, known filtering.KnownStore, q Enqueuer, log *zap.Logger) *Syncer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Syncer{
		searcher: searcher,
		postings: postings,
		known:    known,
		queue:    q,
		logger:   log,
		now:      time.Now,
	}
}

// WithDetails makes the syncer fetch every vacancy by id before storing it,
// so postings carry the full description instead of the search snippet.
func (s *Syncer) WithDetails(source VacancySource) *Syncer {
	s.details = source
	return s
}

func (s *Syncer) Sync(ctx context.Context, opts SyncOptions) (SyncSummary, error) {
	summary := SyncSummary{Enqueued: map[string]queue.BatchSummary{}}

	vacancies, err := s.searcher.SearchAll(ctx, opts.Search, opts.MaxPages)
	if err != nil {
		return summary, fmt.Errorf("search vacancies: %w", err)
	}
	summary.Found = vacancies.Len()

	filters := filtering.Default(opts.Filters)
	vacancies, err = filtering.Run(ctx, opts.Filters, filtering.Deps{Logger: s.logger, Known: s.known}, filters, vacancies)
	if err != nil {
		return summary, fmt.Errorf("filter vacancies: %w", err)
	}
	summary.Filtered = summary.Found - vacancies.Len()

	now := s.now().UTC()
	ids := make([]string, 0, vacancies.Len())
	for _, v := range vacancies.Items {
		stored, err := s.store(ctx, v, now, &summary)
		if err != nil {
			return summary, err
		}
		if stored {
			ids = append(ids, v.ID)
		}
	}
	summary.Stored = len(ids)

	for _, kind := range opts.Kinds {
		res, err := s.queue.EnqueueIDs(ctx, kind, opts.Priority, ids)
		summary.Enqueued[kind.String()] = res
		if err != nil {
			return summary, fmt.Errorf("enqueue %s: %w", kind, err)
		}
	}

	s.logger.Info("sync finished",
		zap.Int("found", summary.Found),
		zap.Int("filtered", summary.Filtered),
		zap.Int("stored", summary.Stored),
		zap.Int("detailed", summary.Detailed),
		zap.Int("gone", summary.Gone),
	)
	return summary, nil
}

// store saves one search hit. With a detail source the full vacancy replaces
// the stored posting; without one, or when the detail fetch fails, only the
// search-derived columns are written so an earlier full description survives.
func (s *Syncer) store(ctx context.Context, v *headhunter.Vacancy, now time.Time, summary *SyncSummary) (bool, error) {
	if s.details != nil {
		full, err := s.details.GetVacancy(ctx, v.ID)
		switch {
		case headhunter.IsNotFound(err):
			summary.Gone++
			s.logger.Info("vacancy disappeared before details were fetched", zap.String(logger.FieldPosting, v.ID))
			return false, nil
		case err != nil:
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Warn("failed to fetch vacancy details, storing search result",
				zap.String(logger.FieldPosting, v.ID), zap.Error(err))
		default:
			if err := s.postings.Upsert(ctx, full.Posting(now)); err != nil {
				return false, fmt.Errorf("store posting %s: %w", v.ID, err)
			}
			summary.Detailed++
			return true, nil
		}
	}

	if err := s.postings.UpsertListing(ctx, v.Posting(now)); err != nil {
		return false, fmt.Errorf("store posting %s: %w", v.ID, err)
	}
	return true, nil
}
