package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/spigell/hh-analyzer/internal/chain"
	"github.com/spigell/hh-analyzer/internal/headhunter"
	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/llm/providers"
	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/secrets"
	"github.com/spigell/hh-analyzer/internal/utils"
	"github.com/spigell/hh-analyzer/internal/worker"
)

// application holds everything a command may need. Commands build it once.
type application struct {
	config  *Config
	logger  *zap.Logger
	db      *gorm.DB
	metrics *metrics.Registry

	postings *repository.PostingRepository
	analyses *repository.AnalysisRepository
	scores   *repository.ScoreRepository
	audits   *repository.AuditRepository
	models   *repository.ModelRepository

	queue    *queue.Driver
	llm      *llm.Client
	catalog  *chain.Catalog
	chains   *chain.Orchestrator
	listings *headhunter.Client
}

func newLogger() *zap.Logger {
	l, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	return l
}

func newApplication() (*application, error) {
	lg := newLogger()

	config, err := getConfig()
	if err != nil {
		return nil, fmt.Errorf("getting a config: %w", err)
	}

	lg.Debug("starting", zap.String("app", app), zap.String("version", version))

	db, err := repository.Open(config.Database, lg)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, err
	}

	a := &application{
		config:   config,
		logger:   lg,
		db:       db,
		metrics:  metrics.NewRegistry(),
		postings: repository.NewPostingRepository(db),
		analyses: repository.NewAnalysisRepository(db),
		scores:   repository.NewScoreRepository(db),
		audits:   repository.NewAuditRepository(db),
		models:   repository.NewModelRepository(db),
	}
	recorder := metrics.Tee{a.metrics, metrics.NewLogged(lg)}

	guard, err := queue.NewGuard(config.Redis, time.Duration(config.Worker.GuardTTL)*time.Second, lg.Named("guard"))
	if err != nil {
		lg.Warn("redis unavailable for the enqueue guard, using in-memory fallback", zap.Error(err))
	}
	a.queue = queue.New(repository.NewQueueRepository(db), guard, lg, recorder)

	a.llm = llm.NewClient(a.models, repository.NewCallLogRepository(db), providers.Factory(utils.DefaultRetryPolicy), lg, recorder)

	steps, err := chain.NewSteps(a.llm, lg)
	if err != nil {
		return nil, err
	}

	a.catalog = chain.NewCatalog()
	if config.ChainsFile != "" {
		n, err := a.catalog.LoadFile(config.ChainsFile, steps)
		if err != nil {
			return nil, err
		}
		lg.Info("custom chains loaded", zap.Int("count", n), zap.String("file", config.ChainsFile))
	}

	a.chains, err = chain.NewOrchestrator(chain.Dependencies{
		Steps:    steps,
		Postings: a.postings,
		Analyses: a.analyses,
		Scores:   a.scores,
		Audits:   a.audits,
		Logger:   lg,
		Metrics:  recorder,
	})
	if err != nil {
		return nil, err
	}

	token, err := secrets.Optional(secrets.Source{
		Name:  "headhunter token",
		File:  config.Listings.TokenFile,
		Env:   "HH_TOKEN",
		Value: config.Listings.Token,
	})
	if err != nil {
		return nil, err
	}
	a.listings = headhunter.New(lg, token, headhunter.Options{
		BaseURL:   config.Listings.BaseURL,
		UserAgent: config.Listings.UserAgent,
		Timeout:   time.Duration(config.Listings.TimeoutSeconds) * time.Second,
	})

	return a, nil
}

func (a *application) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
	_ = a.logger.Sync()
}

// syncModels upserts the configured models. Nothing happens without models
// in the config.
func (a *application) syncModels(ctx context.Context) error {
	if len(a.config.Models) == 0 {
		return nil
	}
	_, _, err := a.llm.Registry().Sync(ctx, a.config.Models)
	return err
}

func (a *application) handlerDeps() worker.HandlerDeps {
	return worker.HandlerDeps{
		Postings: a.postings,
		Source:   a.listings,
		Runner:   a.chains,
		Catalog:  a.catalog,
		Logger:   a.logger,
	}
}

func (a *application) consumers(kinds []queue.Kind) ([]*queue.Consumer, error) {
	deps := a.handlerDeps()
	out := make([]*queue.Consumer, 0, len(kinds))
	for _, kind := range kinds {
		h, err := worker.HandlerFor(kind, deps)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", kind, err)
		}
		out = append(out, queue.NewConsumer(a.queue, kind, h, a.logger))
	}
	return out, nil
}

func (a *application) syncer() *worker.Syncer {
	s := worker.NewSyncer(a.listings, a.postings, a.postings, a.queue, a.logger)
	if a.config.Sync.Details {
		s.WithDetails(a.listings)
	}
	return s
}

func parseKinds(raw []string) ([]queue.Kind, error) {
	kinds := make([]queue.Kind, 0, len(raw))
	for _, s := range raw {
		k, err := queue.ParseKind(s)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func printJSON(v any) error {
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(pretty))
	return err
}
