package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYHISTORY_* environment variable overrides, and
// returns the final Config. A missing file is not an error, so the ingester
// can be configured from the environment alone. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYHISTORY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Gamma ──
	setStr(&cfg.Gamma.EventsURL, "POLYHISTORY_GAMMA_EVENTS_URL")
	setStr(&cfg.Gamma.MarketsURL, "POLYHISTORY_GAMMA_MARKETS_URL")
	setInt(&cfg.Gamma.PageLimit, "POLYHISTORY_GAMMA_PAGE_LIMIT")
	setDuration(&cfg.Gamma.PageDelay, "POLYHISTORY_GAMMA_PAGE_DELAY")
	setInt(&cfg.Gamma.MaxRetries, "POLYHISTORY_GAMMA_MAX_RETRIES")
	setDuration(&cfg.Gamma.RetryDelay, "POLYHISTORY_GAMMA_RETRY_DELAY")
	setDuration(&cfg.Gamma.RequestTimeout, "POLYHISTORY_GAMMA_REQUEST_TIMEOUT")
	setBool(&cfg.Gamma.RetryEvents, "POLYHISTORY_GAMMA_RETRY_EVENTS")

	// ── Store ──
	setStr(&cfg.Store.Driver, "POLYHISTORY_STORE_DRIVER")
	setBool(&cfg.Store.EnsureSchema, "POLYHISTORY_STORE_ENSURE_SCHEMA")

	// DB_* are the legacy variable names. They fill the selected driver's
	// section and lose to the POLYHISTORY_* names below.
	applyLegacyDBEnv(cfg)

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "POLYHISTORY_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "POLYHISTORY_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "POLYHISTORY_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "POLYHISTORY_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "POLYHISTORY_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "POLYHISTORY_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "POLYHISTORY_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "POLYHISTORY_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "POLYHISTORY_SUPABASE_POOL_MIN_CONNS")

	// ── MySQL ──
	setStr(&cfg.MySQL.DSN, "POLYHISTORY_MYSQL_DSN")
	setStr(&cfg.MySQL.Host, "POLYHISTORY_MYSQL_HOST")
	setInt(&cfg.MySQL.Port, "POLYHISTORY_MYSQL_PORT")
	setStr(&cfg.MySQL.Database, "POLYHISTORY_MYSQL_DATABASE")
	setStr(&cfg.MySQL.User, "POLYHISTORY_MYSQL_USER")
	setStr(&cfg.MySQL.Password, "POLYHISTORY_MYSQL_PASSWORD")
	setInt(&cfg.MySQL.MaxConns, "POLYHISTORY_MYSQL_MAX_CONNS")

	setStr(&cfg.SQLite.Path, "POLYHISTORY_SQLITE_PATH")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYHISTORY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYHISTORY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYHISTORY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYHISTORY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYHISTORY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYHISTORY_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.LockKey, "POLYHISTORY_REDIS_LOCK_KEY")
	setDuration(&cfg.Redis.LockTTL, "POLYHISTORY_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYHISTORY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYHISTORY_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYHISTORY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYHISTORY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYHISTORY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYHISTORY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYHISTORY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYHISTORY_S3_FORCE_PATH_STYLE")

	// ── Metrics ──
	setStr(&cfg.Metrics.PushgatewayURL, "POLYHISTORY_METRICS_PUSHGATEWAY_URL")
	setStr(&cfg.Metrics.ListenAddr, "POLYHISTORY_METRICS_LISTEN_ADDR")
	setStr(&cfg.Metrics.Job, "POLYHISTORY_METRICS_JOB")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYHISTORY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYHISTORY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYHISTORY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYHISTORY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYHISTORY_MODE")
	setDuration(&cfg.Interval, "POLYHISTORY_INTERVAL")
	setStr(&cfg.Schedule, "POLYHISTORY_SCHEDULE")
	setStr(&cfg.LogLevel, "POLYHISTORY_LOG_LEVEL")
}

// applyLegacyDBEnv maps DB_NAME, DB_USER, DB_PASSWORD and DB_HOST onto the
// section of the configured driver.
func applyLegacyDBEnv(cfg *Config) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "mysql":
		setStr(&cfg.MySQL.Database, "DB_NAME")
		setStr(&cfg.MySQL.User, "DB_USER")
		setStr(&cfg.MySQL.Password, "DB_PASSWORD")
		setStr(&cfg.MySQL.Host, "DB_HOST")
	default:
		setStr(&cfg.Supabase.Database, "DB_NAME")
		setStr(&cfg.Supabase.User, "DB_USER")
		setStr(&cfg.Supabase.Password, "DB_PASSWORD")
		setStr(&cfg.Supabase.Host, "DB_HOST")
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setStringSlice splits a comma-separated value and trims whitespace from each
// element.
func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
