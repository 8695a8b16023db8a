package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/polyhistory/internal/blob/s3"
	"github.com/alanyoungcy/polyhistory/internal/cache/redis"
	"github.com/alanyoungcy/polyhistory/internal/config"
	"github.com/alanyoungcy/polyhistory/internal/domain"
	"github.com/alanyoungcy/polyhistory/internal/metrics"
	"github.com/alanyoungcy/polyhistory/internal/notify"
	"github.com/alanyoungcy/polyhistory/internal/pipeline"
	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
	"github.com/alanyoungcy/polyhistory/internal/store/mysql"
	"github.com/alanyoungcy/polyhistory/internal/store/postgres"
	"github.com/alanyoungcy/polyhistory/internal/store/sqlite"
)

// Dependencies bundles the backends a run needs. It is constructed by Wire
// and torn down by the returned cleanup function. LockManager, Archiver and
// Notifier are nil when their backend is not configured.
type Dependencies struct {
	Store       domain.HistoryStore
	LockManager domain.LockManager
	Archiver    pipeline.RawArchiver
	Metrics     *metrics.Recorder
	Notifier    *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:  metrics.New(),
		Notifier: newNotifier(cfg.Notify, logger),
	}

	// --- Relational store ---
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, store.Close)
	deps.Store = store

	if cfg.Store.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: ensure schema: %w", err)
		}
	}

	// --- Redis run lock ---
	if cfg.RedisEnabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.LockManager = redis.NewLockManager(redisClient, logger)
	}

	// --- S3 raw snapshot archive ---
	if cfg.S3Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewSnapshotArchiver(s3blob.NewWriter(s3Client))
	}

	return deps, cleanup, nil
}

// openStore connects to the configured relational backend.
func openStore(ctx context.Context, cfg *config.Config) (domain.HistoryStore, error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		c, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return postgres.NewHistoryStore(c), nil
	case "mysql":
		c, err := mysql.New(ctx, mysql.ClientConfig{
			DSN:      cfg.MySQL.DSN,
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			Database: cfg.MySQL.Database,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			MaxConns: cfg.MySQL.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("mysql: %w", err)
		}
		return mysql.NewHistoryStore(c), nil
	case "sqlite":
		c, err := sqlite.New(ctx, sqlite.ClientConfig{Path: cfg.SQLite.Path})
		if err != nil {
			return nil, err
		}
		return sqlite.NewHistoryStore(c), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// newOrchestrator builds the fetch, transform and store pipeline over deps.
func newOrchestrator(cfg *config.Config, deps *Dependencies, logger *slog.Logger, extra ...pipeline.OrchestratorOption) *pipeline.Orchestrator {
	gamma := polymarket.NewGammaClient(
		cfg.Gamma.EventsURL,
		cfg.Gamma.MarketsURL,
		polymarket.WithTimeout(cfg.Gamma.RequestTimeout.Duration),
	)

	fetcher := pipeline.NewFetcher(gamma, gamma, pipeline.FetcherConfig{
		PageLimit:   cfg.Gamma.PageLimit,
		PageDelay:   cfg.Gamma.PageDelay.Duration,
		MaxRetries:  cfg.Gamma.MaxRetries,
		RetryDelay:  cfg.Gamma.RetryDelay.Duration,
		RetryEvents: cfg.Gamma.RetryEvents,
	}, logger, deps.Metrics)

	opts := []pipeline.OrchestratorOption{pipeline.WithMetrics(deps.Metrics)}
	if deps.LockManager != nil {
		opts = append(opts, pipeline.WithRunLock(deps.LockManager, cfg.Redis.LockKey, cfg.Redis.LockTTL.Duration))
	}
	if deps.Archiver != nil {
		opts = append(opts, pipeline.WithArchiver(deps.Archiver))
	}
	if deps.Notifier.Enabled() {
		opts = append(opts, pipeline.WithRunHook(alertHook(deps.Notifier, logger)))
	}
	opts = append(opts, extra...)

	return pipeline.NewOrchestrator(fetcher, pipeline.NewTransformer(logger), deps.Store, logger, opts...)
}
