package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/metrics"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

// EventPageSource retrieves one page of events.
type EventPageSource interface {
	GetEvents(ctx context.Context, limit, offset int) ([]polymarket.APIEvent, error)
}

// MarketPageSource retrieves one page of markets.
type MarketPageSource interface {
	GetMarkets(ctx context.Context, limit, offset int) ([]polymarket.APIMarket, error)
}

// FetcherConfig controls pagination and retry behaviour.
type FetcherConfig struct {
	// PageLimit is the number of records requested per page.
	PageLimit int
	// PageDelay is slept before every page after the first.
	PageDelay time.Duration
	// MaxRetries is the total number of attempts per market page. Only
	// timeouts are retried.
	MaxRetries int
	// RetryDelay is slept between timed-out attempts.
	RetryDelay time.Duration
	// RetryEvents applies the market retry policy to event pages too.
	RetryEvents bool
}

// DefaultFetcherConfig returns the stock pagination settings.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		PageLimit:  500,
		PageDelay:  2 * time.Second,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}
}

// FetchResult is the outcome of one full pagination. Truncated is set when a
// request failure stopped pagination early; Records then holds every page
// retrieved before the failure and Reason holds the failure.
type FetchResult[T any] struct {
	Records   []T
	Pages     int
	Truncated bool
	Reason    error
}

// Fetcher paginates the Gamma listings. It keeps no state between calls, so
// one Fetcher may serve concurrent callers.
type Fetcher struct {
	events  EventPageSource
	markets MarketPageSource
	cfg     FetcherConfig
	logger  *slog.Logger
	metrics *metrics.Recorder

	sleep func(ctx context.Context, d time.Duration) error
}

// NewFetcher creates a Fetcher. rec may be nil.
func NewFetcher(events EventPageSource, markets MarketPageSource, cfg FetcherConfig, logger *slog.Logger, rec *metrics.Recorder) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = DefaultFetcherConfig().PageLimit
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Fetcher{
		events:  events,
		markets: markets,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "fetcher")),
		metrics: rec,
		sleep:   sleepContext,
	}
}

// FetchEvents retrieves every open event. A failed request ends pagination
// without retry unless RetryEvents is set.
func (f *Fetcher) FetchEvents(ctx context.Context) FetchResult[polymarket.APIEvent] {
	attempts := 1
	if f.cfg.RetryEvents {
		attempts = f.cfg.MaxRetries
	}
	return paginate(ctx, f, domain.EntityEvent, f.events.GetEvents, attempts)
}

// FetchMarkets retrieves every open market. Timed-out page requests are
// retried up to MaxRetries attempts; any other failure ends pagination.
func (f *Fetcher) FetchMarkets(ctx context.Context) FetchResult[polymarket.APIMarket] {
	return paginate(ctx, f, domain.EntityMarket, f.markets.GetMarkets, f.cfg.MaxRetries)
}

func paginate[T any](ctx context.Context, f *Fetcher, entity domain.Entity, get func(ctx context.Context, limit, offset int) ([]T, error), attempts int) FetchResult[T] {
	var (
		all    []T
		offset int
		pages  int
		limit  = f.cfg.PageLimit
		logger = f.logger.With(slog.String("entity", string(entity)))
	)

	logger.Info("fetching polymarket listing", slog.Int("page_limit", limit))

	for {
		if pages > 0 {
			if err := f.sleep(ctx, f.cfg.PageDelay); err != nil {
				return truncated(f, logger, entity, all, pages, offset, err)
			}
		}

		page, err := fetchPage(ctx, f, logger, entity, get, limit, offset, attempts)
		if err != nil {
			return truncated(f, logger, entity, all, pages, offset, err)
		}

		if len(page) == 0 {
			logger.Info("no more records found", slog.Int("offset", offset))
			break
		}

		all = append(all, page...)
		pages++
		offset += limit
		f.metrics.PageFetched(string(entity))

		logger.Info("fetched page",
			slog.Int("page", pages),
			slog.Int("count", len(page)),
			slog.Int("total", len(all)),
		)

		if len(page) < limit {
			logger.Info("final page reached")
			break
		}
	}

	return FetchResult[T]{Records: all, Pages: pages}
}

// fetchPage requests a single page, retrying timeouts until attempts run out.
func fetchPage[T any](ctx context.Context, f *Fetcher, logger *slog.Logger, entity domain.Entity, get func(ctx context.Context, limit, offset int) ([]T, error), limit, offset, attempts int) ([]T, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		page, err := get(ctx, limit, offset)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrTimeout) || attempt == attempts {
			break
		}

		logger.Warn("page request timed out, retrying",
			slog.Int("offset", offset),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", f.cfg.RetryDelay),
		)
		f.metrics.FetchRetried(string(entity))
		if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
			return nil, err
		}
	}

	if attempts > 1 && errors.Is(lastErr, domain.ErrTimeout) {
		return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
	}
	return nil, lastErr
}

// truncated logs and counts an early stop and returns what was accumulated.
func truncated[T any](f *Fetcher, logger *slog.Logger, entity domain.Entity, records []T, pages, offset int, reason error) FetchResult[T] {
	logger.Error("api request failed, returning partial result",
		slog.Int("offset", offset),
		slog.Int("pages", pages),
		slog.Int("total", len(records)),
		slog.String("error", reason.Error()),
	)
	f.metrics.FetchTruncated(string(entity))
	return FetchResult[T]{Records: records, Pages: pages, Truncated: true, Reason: reason}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
