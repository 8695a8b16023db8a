package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyhistory/internal/pipeline"
	"github.com/alanyoungcy/polyhistory/internal/server"
	"github.com/alanyoungcy/polyhistory/internal/server/handler"
)

// OnceMode performs a single run and, when a Pushgateway is configured, pushes
// the run's metrics before returning. A failed push is logged, not returned.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	orch := newOrchestrator(a.cfg, deps, a.logger)
	report, runErr := orch.RunOnce(ctx)

	if url := a.cfg.Metrics.PushgatewayURL; url != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := deps.Metrics.Push(pushCtx, url, a.cfg.Metrics.Job); err != nil {
			a.logger.WarnContext(ctx, "metrics push failed", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		return fmt.Errorf("once mode: run %s: %w", report.RunID, runErr)
	}
	return nil
}

// LoopMode runs the pipeline until ctx is cancelled: on the cron schedule when
// one is configured, otherwise every interval. The ops server runs alongside
// when a listen address is set.
func (a *App) LoopMode(ctx context.Context, deps *Dependencies) error {
	var (
		sched    pipeline.Schedule
		useCron  = a.cfg.Schedule != ""
		extraOps []pipeline.OrchestratorOption
	)
	if useCron {
		var err error
		if sched, err = pipeline.ParseSchedule(a.cfg.Schedule); err != nil {
			return fmt.Errorf("loop mode: %w", err)
		}
	}

	var status *handler.RunStatus
	if a.cfg.Metrics.ListenAddr != "" {
		status = handler.NewRunStatus(a.cfg.Mode)
		extraOps = append(extraOps, pipeline.WithRunHook(status.Record))
	}

	g, ctx := errgroup.WithContext(ctx)

	orch := newOrchestrator(a.cfg, deps, a.logger, extraOps...)
	if useCron {
		a.logger.InfoContext(ctx, "starting loop mode", slog.String("schedule", sched.String()))
		g.Go(func() error {
			return orch.RunCron(ctx, sched)
		})
	} else {
		a.logger.InfoContext(ctx, "starting loop mode", slog.Duration("interval", a.cfg.Interval.Duration))
		g.Go(func() error {
			return orch.RunLoop(ctx, a.cfg.Interval.Duration)
		})
	}

	if status != nil {
		srv := server.NewServer(a.cfg.Metrics.ListenAddr, deps.Metrics.Handler(), status, a.logger)
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}

	return g.Wait()
}
