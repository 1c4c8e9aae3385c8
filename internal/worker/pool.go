package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/queue"
)

// Pool runs one sequential consumer loop per queue kind.
type Pool struct {
	consumers []*queue.Consumer
	idle      time.Duration
	logger    *zap.Logger
}

func NewPool(idle time.Duration, log *zap.Logger, consumers ...*queue.Consumer) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if idle <= 0 {
		idle = 10 * time.Second
	}
	return &Pool{consumers: consumers, idle: idle, logger: log}
}

// Run blocks until ctx is cancelled and every loop has finished its item.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range p.consumers {
		wg.Add(1)
		go func(c *queue.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx, p.idle); err != nil {
				p.logger.Error("consumer exited", zap.String("queue_kind", c.Kind().String()), zap.Error(err))
			}
		}(c)
	}
	wg.Wait()
}

// DrainAll drains every queue once, sequentially.
func (p *Pool) DrainAll(ctx context.Context, limit int) (map[string]queue.BatchSummary, error) {
	out := make(map[string]queue.BatchSummary, len(p.consumers))
	for _, c := range p.consumers {
		summary, err := c.Drain(ctx, limit)
		out[c.Kind().String()] = summary
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
