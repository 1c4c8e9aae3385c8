// Package worker holds the queue handlers and the processes that feed and
// drain the queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/chain"
	"github.com/spigell/hh-analyzer/internal/headhunter"
	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
)

// PostingStore is the posting persistence used by the handlers.
type PostingStore interface {
	Get(ctx context.Context, id string) (*models.Posting, error)
	Upsert(ctx context.Context, p *models.Posting) error
	Archive(ctx context.Context, id string, at time.Time) error
}

// VacancySource fetches a vacancy from the listings API.
type VacancySource interface {
	GetVacancy(ctx context.Context, id string) (*headhunter.Vacancy, error)
}

// ChainRunner runs a chain for one posting.
type ChainRunner interface {
	Run(ctx context.Context, postingID string, cfg chain.Config) chain.Outcome
}

// ChainCatalog resolves chain ids.
type ChainCatalog interface {
	Get(id string) (chain.Config, error)
}

// UpdateHandler refreshes a stored posting from the listings API. A vacancy
// the API no longer knows is archived.
type UpdateHandler struct {
	postings PostingStore
	source   VacancySource
	logger   *zap.Logger
	now      func() time.Time
}

func NewUpdateHandler(postings PostingStore, source VacancySource, log *zap.Logger) *UpdateHandler {
	return &UpdateHandler{
		postings: postings,
		source:   source,
		logger:   logger.WithFields(log),
		now:      time.Now,
	}
}

func (h *UpdateHandler) Handle(ctx context.Context, item *models.QueueItem) error {
	log := h.logger.With(zap.String(logger.FieldPosting, item.SubjectID))

	vacancy, err := h.source.GetVacancy(ctx, item.SubjectID)
	if headhunter.IsNotFound(err) {
		if err := h.postings.Archive(ctx, item.SubjectID, h.now().UTC()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("posting %s is not stored", item.SubjectID)
			}
			return fmt.Errorf("archive posting %s: %w", item.SubjectID, err)
		}
		log.Info("posting archived", zap.String("reason", "vacancy not found upstream"))
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.postings.Upsert(ctx, vacancy.Posting(h.now().UTC())); err != nil {
		return fmt.Errorf("store posting %s: %w", item.SubjectID, err)
	}
	log.Debug("posting refreshed", zap.Bool("archived", vacancy.Archived))
	return nil
}

// ChainHandler runs one chain for every item.
type ChainHandler struct {
	runner ChainRunner
	config chain.Config
}

func NewChainHandler(runner ChainRunner, cfg chain.Config) *ChainHandler {
	return &ChainHandler{runner: runner, config: cfg}
}

func (h *ChainHandler) Handle(ctx context.Context, item *models.QueueItem) error {
	out := h.runner.Run(ctx, item.SubjectID, h.config)
	if !out.Success {
		return errors.New(out.ErrorMessage)
	}
	return nil
}

// ConfigForKind maps an analysis queue kind to the chain it runs.
func ConfigForKind(kind queue.Kind, catalog ChainCatalog) (chain.Config, error) {
	switch kind {
	case queue.KindAnalysisFirst:
		return chain.Predefined(chain.PrimaryOnly)
	case queue.KindAnalysisFull:
		cfg, err := chain.Predefined(chain.FullAnalysis)
		if err != nil {
			return chain.Config{}, err
		}
		return cfg.WithForce(true), nil
	case queue.KindUpdate:
		return chain.Config{}, fmt.Errorf("queue %s does not run a chain", kind)
	}

	id, ok := kind.Chain()
	if !ok {
		return chain.Config{}, fmt.Errorf("unknown queue kind: %q", kind)
	}
	if catalog == nil {
		return chain.Config{}, fmt.Errorf("%w: %q", chain.ErrUnknownChain, id)
	}
	return catalog.Get(id)
}

// HandlerDeps is what HandlerFor needs to build any handler.
type HandlerDeps struct {
	Postings PostingStore
	Source   VacancySource
	Runner   ChainRunner
	Catalog  ChainCatalog
	Logger   *zap.Logger
}

// HandlerFor returns the handler of a queue kind.
func HandlerFor(kind queue.Kind, deps HandlerDeps) (queue.Handler, error) {
	if kind == queue.KindUpdate {
		if deps.Postings == nil || deps.Source == nil {
			return nil, errors.New("update handler needs postings and a listings client")
		}
		return NewUpdateHandler(deps.Postings, deps.Source, deps.Logger), nil
	}

	cfg, err := ConfigForKind(kind, deps.Catalog)
	if err != nil {
		return nil, err
	}
	if deps.Runner == nil {
		return nil, errors.New("chain handler needs a chain runner")
	}
	return NewChainHandler(deps.Runner, cfg), nil
}
