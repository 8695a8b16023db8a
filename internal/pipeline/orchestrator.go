package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/metrics"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

// RawArchiver stores the untransformed listing snapshot of a run.
type RawArchiver interface {
	ArchiveEvents(ctx context.Context, key domain.SnapshotKey, events []polymarket.APIEvent) error
	ArchiveMarkets(ctx context.Context, key domain.SnapshotKey, markets []polymarket.APIMarket) error
}

// EntityReport summarises one entity pipeline within a run.
type EntityReport struct {
	Fetched    int
	Pages      int
	Duplicates int
	Inserted   int
	Truncated  bool
	Reason     string
}

// RunReport summarises a single pipeline run.
type RunReport struct {
	RunID     string
	FetchDate time.Time
	Skipped   bool
	Events    EntityReport
	Markets   EntityReport
	Duration  time.Duration
}

// Orchestrator runs the events pipeline and then the markets pipeline:
// fetch, transform, insert.
type Orchestrator struct {
	fetcher     *Fetcher
	transformer *Transformer
	sink        domain.HistorySink
	logger      *slog.Logger

	archiver RawArchiver
	locks    domain.LockManager
	lockKey  string
	lockTTL  time.Duration
	metrics  *metrics.Recorder
	hooks    []RunHook
	newRunID func() string
}

// RunHook observes the outcome of every run, including skipped ones.
type RunHook func(ctx context.Context, report RunReport, err error)

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithArchiver uploads each raw listing before it is transformed.
func WithArchiver(a RawArchiver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.archiver = a
	}
}

// WithRunLock holds a distributed lock for the duration of every run. A run
// that cannot take the lock is skipped.
func WithRunLock(lm domain.LockManager, key string, ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.locks = lm
		o.lockKey = key
		o.lockTTL = ttl
	}
}

// WithMetrics records run outcomes on rec.
func WithMetrics(rec *metrics.Recorder) OrchestratorOption {
	return func(o *Orchestrator) {
		o.metrics = rec
	}
}

// WithRunHook calls h after every run. Hooks run in registration order.
func WithRunHook(h RunHook) OrchestratorOption {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, h)
	}
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(fetcher *Fetcher, transformer *Transformer, sink domain.HistorySink, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		fetcher:     fetcher,
		transformer: transformer,
		sink:        sink,
		logger:      logger.With(slog.String("component", "orchestrator")),
		newRunID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunOnce performs one complete run. Truncated fetches are reported, not
// returned as errors; a transform or store failure aborts the run.
func (o *Orchestrator) RunOnce(ctx context.Context) (RunReport, error) {
	report, err := o.run(ctx)
	for _, h := range o.hooks {
		h(ctx, report, err)
	}
	return report, err
}

func (o *Orchestrator) run(ctx context.Context) (RunReport, error) {
	start := time.Now()
	report := RunReport{RunID: o.newRunID()}
	logger := o.logger.With(slog.String("run_id", report.RunID))

	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, o.lockKey, o.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			logger.Warn("another run holds the lock, skipping", slog.String("key", o.lockKey))
			report.Skipped = true
			o.metrics.RunFinished("skipped", time.Since(start))
			return report, nil
		}
		if err != nil {
			o.metrics.RunFinished("failure", time.Since(start))
			return report, fmt.Errorf("acquire run lock: %w", err)
		}
		defer unlock()
	}

	// Both entity pipelines share the fetch date of the run's start.
	report.FetchDate = o.transformer.FetchDate()
	tr := o.transformer.pinned(report.FetchDate)

	logger.Info("pipeline run starting", slog.String("fetch_date", report.FetchDate.Format("2006-01-02")))

	err := o.runEvents(ctx, logger, tr, &report)
	if err == nil {
		err = o.runMarkets(ctx, logger, tr, &report)
	}
	report.Duration = time.Since(start)

	if err != nil {
		o.metrics.RunFinished("failure", report.Duration)
		return report, err
	}

	o.metrics.RunFinished("success", report.Duration)
	logger.Info("pipeline run complete",
		slog.Int("events_inserted", report.Events.Inserted),
		slog.Bool("events_truncated", report.Events.Truncated),
		slog.Int("markets_inserted", report.Markets.Inserted),
		slog.Bool("markets_truncated", report.Markets.Truncated),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (o *Orchestrator) runEvents(ctx context.Context, logger *slog.Logger, tr *Transformer, report *RunReport) error {
	res := o.fetcher.FetchEvents(ctx)
	if err := cancelled(ctx, res.Reason); err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}
	report.Events = entityReport(res.Records, res.Pages, res.Truncated, res.Reason)

	if o.archiver != nil {
		key := domain.SnapshotKey{Entity: domain.EntityEvent, FetchDate: report.FetchDate, RunID: report.RunID}
		if err := o.archiver.ArchiveEvents(ctx, key, res.Records); err != nil {
			logger.Warn("raw event archive failed", slog.String("path", key.Path()), slog.String("error", err.Error()))
		}
	}

	rows := tr.TransformEvents(res.Records)
	report.Events.Duplicates = len(res.Records) - len(rows)
	o.metrics.DuplicatesDropped(string(domain.EntityEvent), report.Events.Duplicates)

	if err := o.sink.InsertEvents(ctx, rows); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	report.Events.Inserted = len(rows)
	o.metrics.RowsInserted(string(domain.EntityEvent), len(rows))
	logger.Info("events stored", slog.Int("rows", len(rows)))
	return nil
}

func (o *Orchestrator) runMarkets(ctx context.Context, logger *slog.Logger, tr *Transformer, report *RunReport) error {
	res := o.fetcher.FetchMarkets(ctx)
	if err := cancelled(ctx, res.Reason); err != nil {
		return fmt.Errorf("fetch markets: %w", err)
	}
	report.Markets = entityReport(res.Records, res.Pages, res.Truncated, res.Reason)

	if o.archiver != nil {
		key := domain.SnapshotKey{Entity: domain.EntityMarket, FetchDate: report.FetchDate, RunID: report.RunID}
		if err := o.archiver.ArchiveMarkets(ctx, key, res.Records); err != nil {
			logger.Warn("raw market archive failed", slog.String("path", key.Path()), slog.String("error", err.Error()))
		}
	}

	rows, err := tr.TransformMarkets(res.Records)
	if err != nil {
		return fmt.Errorf("transform markets: %w", err)
	}
	report.Markets.Duplicates = len(res.Records) - len(rows)
	o.metrics.DuplicatesDropped(string(domain.EntityMarket), report.Markets.Duplicates)

	if err := o.sink.InsertMarkets(ctx, rows); err != nil {
		return fmt.Errorf("insert markets: %w", err)
	}
	report.Markets.Inserted = len(rows)
	o.metrics.RowsInserted(string(domain.EntityMarket), len(rows))
	logger.Info("markets stored", slog.Int("rows", len(rows)))
	return nil
}

// RunLoop runs the pipeline on a repeating interval until the context is
// cancelled. Failed runs are logged and the loop continues.
func (o *Orchestrator) RunLoop(ctx context.Context, interval time.Duration) error {
	o.logger.Info("pipeline loop starting", slog.Duration("interval", interval))

	// Run immediately on start.
	o.runLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("pipeline loop stopped")
			return ctx.Err()
		case <-ticker.C:
			o.runLogged(ctx)
		}
	}
}

// runLogged performs one run for the repeating modes, which log a failed run
// and carry on.
func (o *Orchestrator) runLogged(ctx context.Context) {
	if _, err := o.RunOnce(ctx); err != nil && ctx.Err() == nil {
		o.logger.Error("pipeline run failed", slog.String("error", err.Error()))
	}
}

func entityReport[T any](records []T, pages int, truncated bool, reason error) EntityReport {
	r := EntityReport{Fetched: len(records), Pages: pages, Truncated: truncated}
	if reason != nil {
		r.Reason = reason.Error()
	}
	return r
}

// cancelled returns ctx.Err() when a fetch stopped because the run itself was
// cancelled. Nothing is stored in that case.
func cancelled(ctx context.Context, reason error) error {
	if ctx.Err() != nil && reason != nil {
		return ctx.Err()
	}
	return nil
}
