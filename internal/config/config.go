// Package config defines the top-level configuration for the history
// ingester and provides validation helpers.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYHISTORY_* environment variables.
type Config struct {
	Gamma    GammaConfig    `toml:"gamma"`
	Store    StoreConfig    `toml:"store"`
	Supabase SupabaseConfig `toml:"supabase"`
	MySQL    MySQLConfig    `toml:"mysql"`
	SQLite   SQLiteConfig   `toml:"sqlite"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	Interval duration       `toml:"interval"`
	// Schedule is a standard cron expression or descriptor, in UTC unless it
	// carries a CRON_TZ= prefix. When set, loop mode runs on it instead of
	// Interval.
	Schedule string `toml:"schedule"`
	LogLevel string `toml:"log_level"`
}

// GammaConfig holds the Gamma listing endpoints and the pagination policy.
type GammaConfig struct {
	EventsURL      string   `toml:"events_url"`
	MarketsURL     string   `toml:"markets_url"`
	PageLimit      int      `toml:"page_limit"`
	PageDelay      duration `toml:"page_delay"`
	MaxRetries     int      `toml:"max_retries"`
	RetryDelay     duration `toml:"retry_delay"`
	RequestTimeout duration `toml:"request_timeout"`
	// RetryEvents applies the market timeout-retry policy to event pages.
	RetryEvents bool `toml:"retry_events"`
}

// StoreConfig selects the relational backend.
type StoreConfig struct {
	// Driver is "postgres", "mysql" or "sqlite".
	Driver       string `toml:"driver"`
	EnsureSchema bool   `toml:"ensure_schema"`
}

// SQLiteConfig points at a local database file.
type SQLiteConfig struct {
	Path string `toml:"path"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
}

// MySQLConfig holds MySQL / MariaDB connection parameters.
type MySQLConfig struct {
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	MaxConns int    `toml:"max_conns"`
}

// RedisConfig holds Redis connection parameters for the run lock. An empty
// Addr disables the lock.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockKey    string   `toml:"lock_key"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds object storage parameters for the raw snapshot archive. An
// empty Bucket disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetricsConfig controls how Prometheus metrics leave the process.
type MetricsConfig struct {
	// PushgatewayURL receives the metrics of a "once" run. Empty disables it.
	PushgatewayURL string `toml:"pushgateway_url"`
	// ListenAddr serves /metrics in "loop" mode. Empty disables it.
	ListenAddr string `toml:"listen_addr"`
	Job        string `toml:"job"`
}

// NotifyConfig holds the chat channels that receive run alerts. A channel is
// enabled when its credentials are set.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	// Events filters alerts: run_failed, run_truncated, run_skipped,
	// run_succeeded. Empty sends all of them.
	Events []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Gamma: GammaConfig{
			EventsURL:      polymarket.DefaultEventsURL,
			MarketsURL:     polymarket.DefaultMarketsURL,
			PageLimit:      500,
			PageDelay:      duration{2 * time.Second},
			MaxRetries:     3,
			RetryDelay:     duration{5 * time.Second},
			RequestTimeout: duration{30 * time.Second},
		},
		Store: StoreConfig{
			Driver:       "postgres",
			EnsureSchema: true,
		},
		Supabase: SupabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "postgres",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 4,
			PoolMinConns: 1,
		},
		MySQL: MySQLConfig{
			Host:     "localhost",
			Port:     3306,
			Database: "polymarket",
			User:     "root",
			MaxConns: 4,
		},
		SQLite: SQLiteConfig{
			Path: "polyhistory.db",
		},
		Redis: RedisConfig{
			PoolSize:   4,
			MaxRetries: 3,
			LockKey:    "polyhistory:run",
			LockTTL:    duration{30 * time.Minute},
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Job: "polyhistory",
		},
		Notify: NotifyConfig{
			Events: []string{"run_failed", "run_truncated"},
		},
		Mode:     "once",
		Interval: duration{24 * time.Hour},
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"once": true,
	"loop": true,
}

// validDrivers enumerates the accepted values for StoreConfig.Driver.
var validDrivers = map[string]bool{
	"postgres": true,
	"mysql":    true,
	"sqlite":   true,
}

// validNotifyEvents enumerates the accepted values for NotifyConfig.Events.
var validNotifyEvents = map[string]bool{
	"run_failed":    true,
	"run_truncated": true,
	"run_skipped":   true,
	"run_succeeded": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RedisEnabled reports whether the run lock is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

// S3Enabled reports whether the raw snapshot archive is configured.
func (c *Config) S3Enabled() bool {
	return strings.TrimSpace(c.S3.Bucket) != ""
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: once, loop)", c.Mode))
	}
	if strings.EqualFold(c.Mode, "loop") && c.Schedule == "" && c.Interval.Duration <= 0 {
		errs = append(errs, "interval must be > 0 in loop mode")
	}
	if c.Schedule != "" {
		if err := checkSchedule(c.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("schedule %q: %v", c.Schedule, err))
		}
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Gamma
	for _, ep := range []struct{ name, url string }{
		{"events_url", c.Gamma.EventsURL},
		{"markets_url", c.Gamma.MarketsURL},
	} {
		if parsed, err := url.Parse(ep.url); err != nil || parsed.Scheme == "" || parsed.Host == "" {
			errs = append(errs, fmt.Sprintf("gamma: %s must be an absolute URL, got %q", ep.name, ep.url))
		}
	}
	if c.Gamma.PageLimit < 1 {
		errs = append(errs, "gamma: page_limit must be >= 1")
	}
	if c.Gamma.PageDelay.Duration < 0 {
		errs = append(errs, "gamma: page_delay must not be negative")
	}
	if c.Gamma.MaxRetries < 1 {
		errs = append(errs, "gamma: max_retries must be >= 1")
	}
	if c.Gamma.RetryDelay.Duration < 0 {
		errs = append(errs, "gamma: retry_delay must not be negative")
	}
	if c.Gamma.RequestTimeout.Duration <= 0 {
		errs = append(errs, "gamma: request_timeout must be > 0")
	}

	// Store
	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, mysql, sqlite)", c.Store.Driver))
	}

	if driver == "postgres" {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if driver == "mysql" && strings.TrimSpace(c.MySQL.DSN) == "" {
		if c.MySQL.Host == "" {
			errs = append(errs, "mysql: host must not be empty (or set mysql.dsn)")
		}
		if c.MySQL.Port <= 0 || c.MySQL.Port > 65535 {
			errs = append(errs, fmt.Sprintf("mysql: port must be 1-65535, got %d", c.MySQL.Port))
		}
		if c.MySQL.Database == "" {
			errs = append(errs, "mysql: database must not be empty")
		}
	}

	if driver == "sqlite" && strings.TrimSpace(c.SQLite.Path) == "" {
		errs = append(errs, "sqlite: path must not be empty")
	}

	// Redis
	if c.RedisEnabled() {
		if c.Redis.LockKey == "" {
			errs = append(errs, "redis: lock_key must not be empty")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	// S3
	if c.S3Enabled() && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty when bucket is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		if !validNotifyEvents[strings.TrimSpace(e)] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// checkSchedule parses a cron expression the way loop mode will.
func checkSchedule(expr string) error {
	line := strings.TrimSpace(expr)
	if (strings.HasPrefix(line, "CRON_TZ=") || strings.HasPrefix(line, "TZ=")) && !strings.Contains(line, " ") {
		return errors.New("zone without schedule")
	}
	_, err := cron.ParseStandard(line)
	return err
}
