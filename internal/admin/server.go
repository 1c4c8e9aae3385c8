// Package admin serves the administrative HTTP API.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/chain"
	"github.com/spigell/hh-analyzer/internal/llm"
	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
)

// Queue is the queue driver surface the API uses.
type Queue interface {
	Depth(ctx context.Context, kind queue.Kind) (int64, error)
	Stats(ctx context.Context, kind queue.Kind) (queue.Stats, error)
	EnqueueIDs(ctx context.Context, kind queue.Kind, priority int, ids []string) (queue.BatchSummary, error)
	EnqueueBatch(ctx context.Context, kind queue.Kind, priority int, source queue.CandidateSource) (queue.BatchSummary, error)
}

// PostingLister pages over stored posting ids.
type PostingLister interface {
	ListIDs(ctx context.Context, filter repository.PostingFilter, offset, limit int) ([]string, error)
}

type ChainRunner interface {
	Run(ctx context.Context, postingID string, cfg chain.Config) chain.Outcome
}

type ChainCatalog interface {
	Get(id string) (chain.Config, error)
	List() []chain.Config
}

// Models manages the model registry.
type Models interface {
	Diagnose(ctx context.Context, now time.Time) ([]llm.Diagnosis, error)
	Reset(ctx context.Context, id uint) error
	ResetAll(ctx context.Context) (int64, error)
}

type ScoreReader interface {
	GetByPosting(ctx context.Context, postingID string) (*models.PostingScore, error)
}

type AuditReader interface {
	ListByPosting(ctx context.Context, postingID string, limit int) ([]models.ChainAudit, error)
}

// Deps are the services behind the endpoints.
type Deps struct {
	Queue    Queue
	Postings PostingLister
	Runner   ChainRunner
	Catalog  ChainCatalog
	Models   Models
	Scores   ScoreReader
	Audits   AuditReader
	Metrics  *metrics.Registry
	Logger   *zap.Logger
}

// Server wraps the echo instance.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: deps, logger: deps.Logger.Named("admin"), now: time.Now}

	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			s.logger.Debug("request", fields...)
			return nil
		},
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.echo.GET("/healthz", s.health)

	api := s.echo.Group("/api")
	api.GET("/queues/:kind/depth", s.queueDepth)
	api.GET("/queues/:kind/stats", s.queueStats)
	api.POST("/queues/:kind/enqueue", s.enqueue)

	api.GET("/chains", s.listChains)
	api.POST("/chains/:chain/run/:postingId", s.runChain)

	api.GET("/models", s.diagnoseModels)
	api.POST("/models/reset", s.resetModels)
	api.POST("/models/:id/reset", s.resetModel)

	api.GET("/postings/:id/score", s.postingScore)
	api.GET("/postings/:id/audits", s.postingAudits)

	api.GET("/metrics", s.metricsSnapshot)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting admin server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
