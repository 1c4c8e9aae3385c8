package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/chain"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/repository"
)

const (
	defaultAuditLimit = 20
	maxAuditLimit     = 200
)

type enqueueRequest struct {
	IDs      []string `json:"ids"`
	Priority int      `json:"priority"`
	All      bool     `json:"all"`
	// Unscored limits an all-postings enqueue to postings without a score.
	Unscored bool `json:"unscored"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) kind(c echo.Context) (queue.Kind, error) {
	kind, err := queue.ParseKind(c.Param("kind"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return kind, nil
}

func (s *Server) queueDepth(c echo.Context) error {
	kind, err := s.kind(c)
	if err != nil {
		return err
	}

	depth, err := s.deps.Queue.Depth(c.Request().Context(), kind)
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"kind": kind, "depth": depth})
}

func (s *Server) queueStats(c echo.Context) error {
	kind, err := s.kind(c)
	if err != nil {
		return err
	}

	stats, err := s.deps.Queue.Stats(c.Request().Context(), kind)
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) enqueue(c echo.Context) error {
	kind, err := s.kind(c)
	if err != nil {
		return err
	}

	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	ctx := c.Request().Context()
	var summary queue.BatchSummary
	switch {
	case req.All:
		if s.deps.Postings == nil {
			return echo.NewHTTPError(http.StatusNotImplemented, "posting listing is not configured")
		}
		filter := repository.PostingFilter{WithoutScore: req.Unscored}
		summary, err = s.deps.Queue.EnqueueBatch(ctx, kind, req.Priority, func(ctx context.Context, offset, limit int) ([]string, error) {
			return s.deps.Postings.ListIDs(ctx, filter, offset, limit)
		})
	case len(req.IDs) > 0:
		summary, err = s.deps.Queue.EnqueueIDs(ctx, kind, req.Priority, req.IDs)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "either ids or all is required")
	}
	if err != nil {
		s.logger.Warn("enqueue failed", zap.String("queue_kind", kind.String()), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, summary)
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) listChains(c echo.Context) error {
	if s.deps.Catalog == nil {
		return c.JSON(http.StatusOK, []chain.Config{})
	}
	return c.JSON(http.StatusOK, s.deps.Catalog.List())
}

func (s *Server) runChain(c echo.Context) error {
	if s.deps.Runner == nil || s.deps.Catalog == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "chain runner is not configured")
	}

	cfg, err := s.deps.Catalog.Get(c.Param("chain"))
	if errors.Is(err, chain.ErrUnknownChain) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return s.internal(err)
	}

	if raw := c.QueryParam("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "force must be a boolean")
		}
		cfg = cfg.WithForce(force)
	}

	out := s.deps.Runner.Run(c.Request().Context(), c.Param("postingId"), cfg)
	status := http.StatusOK
	if !out.Success {
		status = http.StatusUnprocessableEntity
	}
	return c.JSON(status, out)
}

func (s *Server) diagnoseModels(c echo.Context) error {
	report, err := s.deps.Models.Diagnose(c.Request().Context(), s.now())
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) resetModel(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "model id must be a positive integer")
	}

	if err := s.deps.Models.Reset(c.Request().Context(), uint(id)); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": 1})
}

func (s *Server) resetModels(c echo.Context) error {
	n, err := s.deps.Models.ResetAll(c.Request().Context())
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"reset": n})
}

func (s *Server) postingScore(c echo.Context) error {
	score, err := s.deps.Scores.GetByPosting(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "posting has no score")
	}
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, score)
}

func (s *Server) postingAudits(c echo.Context) error {
	if s.deps.Audits == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "audits are not configured")
	}

	limit := defaultAuditLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxAuditLimit)
	}

	audits, err := s.deps.Audits.ListByPosting(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return s.internal(err)
	}
	return c.JSON(http.StatusOK, audits)
}

func (s *Server) metricsSnapshot(c echo.Context) error {
	if s.deps.Metrics == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "metrics registry is not configured")
	}
	return c.JSON(http.StatusOK, s.deps.Metrics.Snapshot())
}

func (s *Server) internal(err error) error {
	s.logger.Error("admin request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
