package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/utils"
)

// ErrSkipped tells the consumer the item needed no work. The item is marked
// COMPLETED and counted as skipped.
var ErrSkipped = errors.New("item skipped")

// Handler processes one claimed item.
type Handler interface {
	Handle(ctx context.Context, item *models.QueueItem) error
}

type HandlerFunc func(ctx context.Context, item *models.QueueItem) error

func (f HandlerFunc) Handle(ctx context.Context, item *models.QueueItem) error {
	return f(ctx, item)
}

// Consumer drains one queue kind sequentially. Concurrent Drain calls on the
// same Consumer share one lane: at most one item is in flight.
type Consumer struct {
	mu      sync.Mutex
	driver  *Driver
	kind    Kind
	handler Handler
	logger  *zap.Logger
}

func NewConsumer(driver *Driver, kind Kind, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		driver:  driver,
		kind:    kind,
		handler: handler,
		logger:  logger.With(zap.String(fieldKind, kind.String())),
	}
}

func (c *Consumer) Kind() Kind {
	return c.kind
}

// Drain processes items until the queue is empty, limit items were handled
// (zero means no limit) or ctx is cancelled. Cancellation is checked between
// items: an item already being handled runs to completion and its status is
// recorded.
func (c *Consumer) Drain(ctx context.Context, limit int) (BatchSummary, error) {
	var summary BatchSummary

	for limit <= 0 || summary.Processed < limit {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ok, err := c.next(ctx, &summary)
		if err != nil {
			return summary, err
		}
		if !ok {
			break
		}
	}

	if summary.Processed > 0 {
		c.logger.Info("queue drained",
			zap.Int("processed", summary.Processed),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("skipped", summary.Skipped),
		)
	}

	return summary, nil
}

// next claims and handles one item while holding the lane.
func (c *Consumer) next(ctx context.Context, summary *BatchSummary) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok, err := c.driver.DequeueNext(ctx, c.kind)
	if err != nil || !ok {
		return false, err
	}

	c.process(context.WithoutCancel(ctx), item, summary)
	return true, nil
}

func (c *Consumer) process(ctx context.Context, item *models.QueueItem, summary *BatchSummary) {
	start := time.Now()
	summary.Processed++

	log := c.logger.With(zap.Uint(fieldItem, item.ID), zap.String(fieldSubject, item.SubjectID))
	log.Debug("processing item")

	err := c.handler.Handle(ctx, item)

	status, result, message := StatusCompleted, "succeeded", ""
	switch {
	case err == nil:
		summary.Succeeded++
	case errors.Is(err, ErrSkipped):
		summary.Skipped++
		result = "skipped"
	default:
		status, result, message = StatusFailed, "failed", err.Error()
		summary.AddError(fmt.Sprintf("%s: %s", item.SubjectID, message))
		log.Warn("item failed", zap.Error(err))
	}

	if err := c.driver.MarkStatus(ctx, item.ID, status, message); err != nil {
		log.Error("failed to record item status", zap.String("status", string(status)), zap.Error(err))
	}

	labels := map[string]string{"kind": c.kind.String(), "result": result}
	c.driver.metrics.IncCounter(metricProcessed, labels, 1)
	c.driver.metrics.ObserveDuration(metricItemSeconds, map[string]string{"kind": c.kind.String()}, time.Since(start))
}

// Run drains the queue repeatedly, sleeping idle between empty passes, until
// ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, idle time.Duration) error {
	c.logger.Info("consumer started", zap.Duration("idle", idle))
	defer c.logger.Info("consumer stopped")

	for {
		summary, err := c.Drain(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("drain failed", zap.Error(err))
		}

		if _, err := c.driver.Depth(ctx, c.kind); err != nil && ctx.Err() == nil {
			c.logger.Warn("failed to read queue depth", zap.Error(err))
		}

		if summary.Processed > 0 && err == nil {
			continue
		}

		if err := utils.WaitFor(ctx, idle); err != nil {
			return nil
		}
	}
}
