package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hh-analyzer/internal/admin"
	"github.com/spigell/hh-analyzer/internal/queue"
	"github.com/spigell/hh-analyzer/internal/scheduler"
	"github.com/spigell/hh-analyzer/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the queue consumers, the schedules and the admin API until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorker(cmd)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(_ *cobra.Command) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication()
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.config
	if err := a.syncModels(ctx); err != nil {
		return err
	}

	kinds, err := parseKinds(cfg.Worker.Kinds)
	if err != nil {
		return err
	}
	consumers, err := a.consumers(kinds)
	if err != nil {
		return err
	}
	pool := worker.NewPool(time.Duration(cfg.Worker.IdleSeconds)*time.Second, a.logger, consumers...)

	syncKinds, err := parseKinds(cfg.Sync.Kinds)
	if err != nil {
		return err
	}
	syncer := a.syncer()

	sched := scheduler.New(a.logger.Named("scheduler"))
	err = sched.Setup(cfg.Schedule,
		func(ctx context.Context) error {
			_, err := syncer.Sync(ctx, worker.SyncOptions{
				Search:   cfg.Search,
				MaxPages: cfg.Sync.MaxPages,
				Kinds:    syncKinds,
				Priority: cfg.Sync.Priority,
				Filters:  &cfg.Filters,
			})
			return err
		},
		func(ctx context.Context) error {
			_, err := pool.DrainAll(ctx, cfg.Schedule.DrainLimit)
			return err
		},
	)
	if err != nil {
		return err
	}
	stale := time.Duration(cfg.Worker.StaleMinutes) * time.Minute
	err = sched.Add("requeue-stale", cfg.Worker.RequeueStale, func(ctx context.Context) error {
		return requeueStale(ctx, a.queue, kinds, stale, a.logger)
	})
	if err != nil {
		return err
	}

	var server *admin.Server
	if cfg.Admin.Enabled {
		server = admin.New(admin.Deps{
			Queue:    a.queue,
			Postings: a.postings,
			Runner:   a.chains,
			Catalog:  a.catalog,
			Models:   a.llm.Registry(),
			Scores:   a.scores,
			Audits:   a.audits,
			Metrics:  a.metrics,
			Logger:   a.logger,
		})
		go func() {
			if err := server.Start(cfg.Admin.Listen); err != nil {
				a.logger.Error("admin server stopped", zap.Error(err))
				stop()
			}
		}()
	}

	// items left in PROCESSING by a previous crash
	if err := requeueStale(ctx, a.queue, kinds, stale, a.logger); err != nil {
		a.logger.Warn("requeue of stale items failed", zap.Error(err))
	}

	sched.Start(ctx)

	a.logger.Info("worker started", zap.Int("queues", len(kinds)), zap.Bool("loops", !cfg.Worker.DisableLoops))
	if cfg.Worker.DisableLoops {
		<-ctx.Done()
	} else {
		pool.Run(ctx)
	}

	a.logger.Info("shutting down")

	grace := time.Duration(cfg.Worker.ShutdownGrace) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		a.logger.Warn("scheduled jobs did not finish in time")
	}

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("admin server forced to shutdown", zap.Error(err))
		}
	}

	a.logger.Info("worker exited")
	return nil
}

func requeueStale(ctx context.Context, q *queue.Driver, kinds []queue.Kind, olderThan time.Duration, log *zap.Logger) error {
	var errs []error
	for _, kind := range kinds {
		n, err := q.ResetStale(ctx, kind, olderThan)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n > 0 {
			log.Info("stale items returned to the queue", zap.String("queue_kind", kind.String()), zap.Int64("items", n))
		}
	}
	return errors.Join(errs...)
}
