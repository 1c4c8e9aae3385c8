// Package chain runs postings through ordered analysis steps, accumulating
// step results and scoring the posting at the end of a run.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/spigell/hh-analyzer/internal/identity"
	"github.com/spigell/hh-analyzer/internal/logger"
	"github.com/spigell/hh-analyzer/internal/metrics"
	"github.com/spigell/hh-analyzer/internal/models"
	"github.com/spigell/hh-analyzer/internal/repository"
	"github.com/spigell/hh-analyzer/internal/scoring"
)

type PostingStore interface {
	Get(ctx context.Context, id string) (*models.Posting, error)
}

// AnalysisStore loads and saves the accumulated results. Load returns nil
// when the posting was never analysed.
type AnalysisStore interface {
	Load(ctx context.Context, postingID string) (*models.PostingAnalysis, error)
	Save(ctx context.Context, a *models.PostingAnalysis, step *models.StepRecord) error
}

type ScoreStore interface {
	Upsert(ctx context.Context, s *models.PostingScore) error
}

type AuditSink interface {
	Create(ctx context.Context, a *models.ChainAudit) error
}

// StepReport is the outcome of one step inside a run.
type StepReport struct {
	StepID string `json:"step_id"`
	StepOutcome
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Outcome describes one chain run. Failures are reported here, never as an
// error of Run.
type Outcome struct {
	PostingID     string          `json:"posting_id"`
	ChainID       string          `json:"chain_id"`
	Success       bool            `json:"success"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	StoppedAtStep string          `json:"stopped_at_step,omitempty"`
	StopReason    string          `json:"stop_reason,omitempty"`
	Steps         []StepReport    `json:"steps"`
	FinalScore    *int            `json:"final_score,omitempty"`
	Score         *scoring.Result `json:"score,omitempty"`
	Duration      time.Duration   `json:"duration"`
}

// Stopped reports whether a step asked the chain to stop.
func (o Outcome) Stopped() bool {
	return o.StoppedAtStep != ""
}

type Dependencies struct {
	Steps    *Steps
	Postings PostingStore
	Analyses AnalysisStore
	Scores   ScoreStore
	Audits   AuditSink
	Logger   *zap.Logger
	Metrics  metrics.Recorder
}

type Orchestrator struct {
	steps    *Steps
	postings PostingStore
	analyses AnalysisStore
	scores   ScoreStore
	audits   AuditSink
	monitor  *Monitor
	logger   *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	if deps.Steps == nil || deps.Postings == nil || deps.Analyses == nil || deps.Scores == nil {
		return nil, errors.New("orchestrator needs steps, postings, analyses and scores")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		steps:    deps.Steps,
		postings: deps.Postings,
		analyses: deps.Analyses,
		scores:   deps.Scores,
		audits:   deps.Audits,
		monitor:  NewMonitor(deps.Metrics),
		logger:   log,
		now:      time.Now,
	}, nil
}

func (o *Orchestrator) Steps() *Steps {
	return o.steps
}

// Run executes the chain for the posting. Every run is audited.
func (o *Orchestrator) Run(ctx context.Context, postingID string, cfg Config) Outcome {
	start := o.now()
	out := Outcome{PostingID: postingID, ChainID: cfg.ID, Steps: []StepReport{}}
	log := o.logger.With(logger.ChainFields(postingID, cfg.ID, "")...)

	defer func() {
		out.Duration = o.now().Sub(start)
		o.monitor.observeRun(out)
		o.audit(ctx, out, log)

		if out.Success {
			log.Info("chain finished",
				zap.Int("steps", len(out.Steps)),
				zap.String("stopped_at", out.StoppedAtStep),
				zap.Duration("duration", out.Duration),
			)
		} else {
			log.Warn("chain failed", zap.String("error", out.ErrorMessage), zap.Duration("duration", out.Duration))
		}
	}()

	if err := cfg.Validate(nil); err != nil {
		out.ErrorMessage = err.Error()
		return out
	}

	posting, err := o.postings.Get(ctx, postingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			out.ErrorMessage = fmt.Sprintf("posting %s not found", postingID)
		} else {
			out.ErrorMessage = fmt.Sprintf("load posting: %v", err)
		}
		return out
	}

	analysis, err := o.analyses.Load(ctx, postingID)
	if err != nil {
		out.ErrorMessage = fmt.Sprintf("load analysis: %v", err)
		return out
	}
	if analysis == nil {
		analysis = &models.PostingAnalysis{PostingID: postingID}
	}

	results, err := ParseResults(analysis.StepResults)
	if err != nil {
		out.ErrorMessage = fmt.Sprintf("load analysis: %v", err)
		return out
	}

	for _, stepID := range cfg.Steps {
		step, err := o.steps.Lookup(stepID)
		if err != nil {
			out.ErrorMessage = err.Error()
			return out
		}

		stepStart := o.now()
		so, err := step.Execute(ctx, posting, results, cfg.ForceReanalyze)
		elapsed := o.now().Sub(stepStart)
		o.monitor.observeStep(cfg.ID, stepID, so, err, elapsed)

		report := StepReport{StepID: stepID, StepOutcome: so, DurationMs: elapsed.Milliseconds()}
		if err != nil {
			report.Error = err.Error()
			out.Steps = append(out.Steps, report)
			out.ErrorMessage = err.Error()
			return out
		}

		if err := o.persistStep(ctx, analysis, results, cfg.ID, stepID, so); err != nil {
			out.Steps = append(out.Steps, report)
			out.ErrorMessage = err.Error()
			return out
		}
		out.Steps = append(out.Steps, report)

		if !so.Continue {
			out.StoppedAtStep = stepID
			out.StopReason = so.StopReason
			log.Info("chain stopped", zap.String(logger.FieldStep, stepID), zap.String("reason", so.StopReason))
			break
		}
	}

	if cfg.CalculateScoreAtEnd && (!out.Stopped() || cfg.ScoreOnStop) {
		res, err := o.score(ctx, analysis, results)
		if err != nil {
			out.ErrorMessage = err.Error()
			return out
		}
		if len(res.Invalid) > 0 {
			log.Warn("steps left out of the score", zap.Strings("steps", res.Invalid))
		}
		out.Score = &res
		out.FinalScore = &res.Total
	}

	out.Success = true
	return out
}

func (o *Orchestrator) persistStep(ctx context.Context, a *models.PostingAnalysis, results *Results, chainID, stepID string, so StepOutcome) error {
	data, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode step results: %w", err)
	}

	now := o.now()
	a.StepResults = datatypes.JSON(data)
	a.LastUpdatedAt = &now
	a.LastOperation = chainID + ":" + stepID
	a.CompletedSteps = results.Len()

	var record *models.StepRecord
	if !so.Cached {
		record = &models.StepRecord{
			ID:          identity.Step(a.PostingID, stepID),
			PostingID:   a.PostingID,
			StepID:      stepID,
			Data:        datatypes.JSON(so.Data),
			RawResponse: so.RawResponse,
		}
	}

	if err := o.analyses.Save(ctx, a, record); err != nil {
		return fmt.Errorf("save step %s: %w", stepID, err)
	}
	return nil
}

func (o *Orchestrator) score(ctx context.Context, a *models.PostingAnalysis, results *Results) (scoring.Result, error) {
	res := scoring.Score(a.PostingID, results.Objects())
	now := o.now()

	record := res.Record(now)
	if err := o.scores.Upsert(ctx, &record); err != nil {
		return res, fmt.Errorf("save score: %w", err)
	}

	total := res.Total
	a.FinalScore = &total
	a.Rating = string(res.Rating)
	a.LastUpdatedAt = &now
	a.LastOperation = "score"
	if err := o.analyses.Save(ctx, a, nil); err != nil {
		return res, fmt.Errorf("save analysis score: %w", err)
	}
	return res, nil
}

func (o *Orchestrator) audit(ctx context.Context, out Outcome, log *zap.Logger) {
	if o.audits == nil {
		return
	}
	record := out.Audit()
	if err := o.audits.Create(context.WithoutCancel(ctx), &record); err != nil {
		log.Error("failed to write chain audit", zap.Error(err))
	}
}
