// Package scheduler runs the periodic sync and queue drains.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Config holds the cron expressions, seconds first. An empty expression
// disables the job.
type Config struct {
	Sync       string `mapstructure:"sync"`
	Drain      string `mapstructure:"drain"`
	DrainLimit int    `mapstructure:"drain-limit"`
}

// DefaultConfig syncs every six hours and drains every five minutes.
func DefaultConfig() Config {
	return Config{
		Sync:       "0 0 */6 * * *",
		Drain:      "0 */5 * * * *",
		DrainLimit: 100,
	}
}

// Entry describes a registered job.
type Entry struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
}

// Scheduler manages the cron jobs. A job still running when its next tick
// comes is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	ctx    context.Context
	names  map[cron.EntryID]string
	specs  map[cron.EntryID]string
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		ctx:    context.Background(),
		names:  map[cron.EntryID]string{},
		specs:  map[cron.EntryID]string{},
	}
}

// Add registers a job. An empty spec is ignored.
func (s *Scheduler) Add(name, spec string, job Job) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		s.logger.Debug("schedule disabled", zap.String("job", name))
		return nil
	}

	id, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.names[id] = name
	s.specs[id] = spec
	return nil
}

// Setup registers the sync and drain jobs of cfg.
func (s *Scheduler) Setup(cfg Config, sync, drain Job) error {
	if err := s.Add("sync", cfg.Sync, sync); err != nil {
		return err
	}
	return s.Add("drain", cfg.Drain, drain)
}

func (s *Scheduler) run(name string, job Job) {
	start := time.Now()
	s.logger.Debug("running scheduled job", zap.String("job", name))

	if err := job(s.ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}

// Start runs the scheduler in its own goroutine. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("starting scheduler", zap.Int("jobs", len(s.names)))
	s.cron.Start()
}

// Stop stops the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries lists the registered jobs by name.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.names))
	for _, e := range s.cron.Entries() {
		out = append(out, Entry{Name: s.names[e.ID], Spec: s.specs[e.ID], Next: e.Next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
