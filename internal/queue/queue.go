// Package queue implements the deduplicating, priority-aware work queue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
)

const (
	defaultPageSize   = 500
	maxClaimAttempts  = 10
	maxSummaryErrors  = 20
	fieldKind         = "queue_kind"
	fieldSubject      = "subject_id"
	fieldItem         = "item_id"
	metricEnqueued    = "queue_enqueued_total"
	metricDepth       = "queue_depth"
	metricProcessed   = "queue_processed_total"
	metricItemSeconds = "queue_item"
)

// Store is the persistence the queue relies on.
type Store interface {
	FindActive(ctx context.Context, subjectID, kind string, statuses []string) (*models.QueueItem, error)
	ExistingSubjects(ctx context.Context, kind string, statuses, ids []string) (map[string]struct{}, error)
	Create(ctx context.Context, item *models.QueueItem) error
	CreateBatch(ctx context.Context, items []models.QueueItem) error
	NextByStatus(ctx context.Context, kind, status string) (*models.QueueItem, error)
	Transition(ctx context.Context, id uint, from, to string) (bool, error)
	UpdateStatus(ctx context.Context, id uint, status, errorMessage string) error
	CountByStatus(ctx context.Context, kind string) (map[string]int64, error)
	Count(ctx context.Context, kind, status string) (int64, error)
	Delete(ctx context.Context, kind string, statuses []string) (int64, error)
	Requeue(ctx context.Context, kind, from, to string, before time.Time) (int64, error)
}

// CandidateSource returns one page of subject ids. A page shorter than limit
// ends the iteration.
type CandidateSource func(ctx context.Context, offset, limit int) ([]string, error)

// SliceSource pages over a fixed list of ids.
func SliceSource(ids []string) CandidateSource {
	return func(_ context.Context, offset, limit int) ([]string, error) {
		if offset >= len(ids) {
			return nil, nil
		}
		end := offset + limit
		if end > len(ids) {
			end = len(ids)
		}
		return ids[offset:end], nil
	}
}

// BatchSummary is the result of a batch operation.
type BatchSummary struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors,omitempty"`
}

// AddError records a failure, keeping at most a fixed number of messages.
func (s *BatchSummary) AddError(msg string) {
	s.Failed++
	if len(s.Errors) < maxSummaryErrors {
		s.Errors = append(s.Errors, msg)
	}
}

// Merge adds the counters of another summary.
func (s *BatchSummary) Merge(o BatchSummary) {
	s.Processed += o.Processed
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	for _, e := range o.Errors {
		if len(s.Errors) >= maxSummaryErrors {
			break
		}
		s.Errors = append(s.Errors, e)
	}
}

// Stats counts the items of a kind per status.
type Stats struct {
	Kind       Kind  `json:"kind"`
	New        int64 `json:"new"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Driver enqueues and dequeues items.
type Driver struct {
	store    Store
	guard    Guard
	logger   *zap.Logger
	metrics  metrics.Recorder
	PageSize int
}

func New(store Store, guard Guard, logger *zap.Logger, recorder metrics.Recorder) *Driver {
	if guard == nil {
		guard = NewMemoryGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Driver{
		store:    store,
		guard:    guard,
		logger:   logger,
		metrics:  metrics.OrNop(recorder),
		PageSize: defaultPageSize,
	}
}

// Enqueue adds an item unless an equivalent one is already NEW or
// PROCESSING. It reports whether a row was inserted.
func (d *Driver) Enqueue(ctx context.Context, subjectID string, kind Kind, priority int) (bool, error) {
	if subjectID == "" {
		return false, errors.New("subject id is required")
	}

	unlock, ok, err := d.guard.TryLock(ctx, string(kind)+":"+subjectID)
	if err != nil {
		return false, fmt.Errorf("enqueue guard: %w", err)
	}
	if !ok {
		d.logger.Debug("enqueue skipped, concurrent enqueue in progress",
			zap.String(fieldKind, kind.String()),
			zap.String(fieldSubject, subjectID),
		)
		return false, nil
	}
	defer unlock()

	existing, err := d.store.FindActive(ctx, subjectID, string(kind), pendingStatuses)
	if err != nil {
		return false, fmt.Errorf("find pending item: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	item := &models.QueueItem{
		SubjectID: subjectID,
		Kind:      string(kind),
		Status:    string(StatusNew),
		Priority:  priority,
	}
	if err := d.store.Create(ctx, item); err != nil {
		return false, fmt.Errorf("create item: %w", err)
	}

	d.metrics.IncCounter(metricEnqueued, map[string]string{"kind": kind.String()}, 1)
	return true, nil
}

// EnqueueBatch enqueues every candidate of the source. Existing pending
// subjects are looked up once per page.
func (d *Driver) EnqueueBatch(ctx context.Context, kind Kind, priority int, source CandidateSource) (BatchSummary, error) {
	var summary BatchSummary

	size := d.PageSize
	if size <= 0 {
		size = defaultPageSize
	}

	for offset := 0; ; offset += size {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ids, err := source(ctx, offset, size)
		if err != nil {
			return summary, fmt.Errorf("load candidates at offset %d: %w", offset, err)
		}

		if len(ids) > 0 {
			page, err := d.enqueuePage(ctx, kind, priority, ids)
			summary.Merge(page)
			if err != nil {
				return summary, err
			}
		}

		if len(ids) < size {
			break
		}
	}

	d.logger.Info("batch enqueue finished",
		zap.String(fieldKind, kind.String()),
		zap.Int("processed", summary.Processed),
		zap.Int("enqueued", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
	)

	return summary, nil
}

// EnqueueIDs is EnqueueBatch over a fixed list.
func (d *Driver) EnqueueIDs(ctx context.Context, kind Kind, priority int, ids []string) (BatchSummary, error) {
	return d.EnqueueBatch(ctx, kind, priority, SliceSource(ids))
}

func (d *Driver) enqueuePage(ctx context.Context, kind Kind, priority int, ids []string) (BatchSummary, error) {
	summary := BatchSummary{Processed: len(ids)}

	existing, err := d.store.ExistingSubjects(ctx, string(kind), pendingStatuses, ids)
	if err != nil {
		return summary, fmt.Errorf("load existing subjects: %w", err)
	}

	items := make([]models.QueueItem, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			summary.Skipped++
			continue
		}
		if _, dup := seen[id]; dup {
			summary.Skipped++
			continue
		}
		seen[id] = struct{}{}

		if _, pending := existing[id]; pending {
			summary.Skipped++
			continue
		}

		items = append(items, models.QueueItem{
			SubjectID: id,
			Kind:      string(kind),
			Status:    string(StatusNew),
			Priority:  priority,
		})
	}

	if err := d.store.CreateBatch(ctx, items); err != nil {
		summary.AddError(err.Error())
		return summary, fmt.Errorf("insert items: %w", err)
	}

	summary.Succeeded = len(items)
	d.metrics.IncCounter(metricEnqueued, map[string]string{"kind": kind.String()}, float64(len(items)))
	return summary, nil
}

// DequeueNext claims the next NEW item of the kind, highest priority first
// and FIFO within a priority. It reports false when the queue is empty.
func (d *Driver) DequeueNext(ctx context.Context, kind Kind) (*models.QueueItem, bool, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		item, err := d.store.NextByStatus(ctx, string(kind), string(StatusNew))
		if err != nil {
			return nil, false, fmt.Errorf("select next item: %w", err)
		}
		if item == nil {
			return nil, false, nil
		}

		claimed, err := d.store.Transition(ctx, item.ID, string(StatusNew), string(StatusProcessing))
		if err != nil {
			return nil, false, fmt.Errorf("claim item %d: %w", item.ID, err)
		}
		if claimed {
			item.Status = string(StatusProcessing)
			return item, true, nil
		}

		d.logger.Debug("item claimed by another consumer, retrying",
			zap.String(fieldKind, kind.String()),
			zap.Uint(fieldItem, item.ID),
		)
	}

	return nil, false, fmt.Errorf("could not claim an item of %s after %d attempts", kind, maxClaimAttempts)
}

// MarkStatus sets the status of an item.
func (d *Driver) MarkStatus(ctx context.Context, id uint, status Status, errorMessage string) error {
	if err := d.store.UpdateStatus(ctx, id, string(status), errorMessage); err != nil {
		return fmt.Errorf("mark item %d as %s: %w", id, status, err)
	}
	return nil
}

// Depth is the number of items waiting in the queue.
func (d *Driver) Depth(ctx context.Context, kind Kind) (int64, error) {
	count, err := d.store.Count(ctx, string(kind), string(StatusNew))
	if err != nil {
		return 0, fmt.Errorf("count items of %s: %w", kind, err)
	}
	d.metrics.SetGauge(metricDepth, map[string]string{"kind": kind.String()}, float64(count))
	return count, nil
}

func (d *Driver) Stats(ctx context.Context, kind Kind) (Stats, error) {
	counts, err := d.store.CountByStatus(ctx, string(kind))
	if err != nil {
		return Stats{}, fmt.Errorf("count items of %s: %w", kind, err)
	}

	s := Stats{
		Kind:       kind,
		New:        counts[string(StatusNew)],
		Processing: counts[string(StatusProcessing)],
		Completed:  counts[string(StatusCompleted)],
		Failed:     counts[string(StatusFailed)],
	}
	s.Total = s.New + s.Processing + s.Completed + s.Failed
	return s, nil
}

// Purge deletes items of the kind in the given statuses. Without statuses it
// deletes terminal items only.
func (d *Driver) Purge(ctx context.Context, kind Kind, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusCompleted, StatusFailed}
	}

	raw := make([]string, 0, len(statuses))
	for _, s := range statuses {
		raw = append(raw, string(s))
	}

	deleted, err := d.store.Delete(ctx, string(kind), raw)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", kind, err)
	}

	d.logger.Info("queue purged", zap.String(fieldKind, kind.String()), zap.Strings("statuses", raw), zap.Int64("deleted", deleted))
	return deleted, nil
}

// ResetStale returns items stuck in PROCESSING for longer than olderThan to
// NEW. It is meant for recovery after a crash.
func (d *Driver) ResetStale(ctx context.Context, kind Kind, olderThan time.Duration) (int64, error) {
	before := time.Now().UTC().Add(-olderThan)
	n, err := d.store.Requeue(ctx, string(kind), string(StatusProcessing), string(StatusNew), before)
	if err != nil {
		return 0, fmt.Errorf("reset stale items of %s: %w", kind, err)
	}
	if n > 0 {
		d.logger.Warn("stale items returned to queue", zap.String(fieldKind, kind.String()), zap.Int64("count", n))
	}
	return n, nil
}
