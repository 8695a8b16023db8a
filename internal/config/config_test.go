package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/polyhistory/internal/platform/polymarket"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
	if cfg.RedisEnabled() || cfg.S3Enabled() {
		t.Error("optional backends enabled by default")
	}
	if cfg.Gamma.EventsURL != polymarket.DefaultEventsURL || cfg.Gamma.MarketsURL != polymarket.DefaultMarketsURL {
		t.Errorf("gamma urls = %q %q, want the public Gamma endpoints", cfg.Gamma.EventsURL, cfg.Gamma.MarketsURL)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeTOML(t, `
mode = "loop"
interval = "6h"

[gamma]
page_limit = 100
page_delay = "500ms"
retry_events = true

[store]
driver = "mysql"

[mysql]
host = "db.internal"
database = "history"

[redis]
addr = "localhost:6379"
lock_ttl = "10m"

[s3]
bucket = "raw-snapshots"
prefix = "gamma"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Mode != "loop" || cfg.Interval.Duration != 6*time.Hour {
		t.Errorf("mode/interval = %q/%v", cfg.Mode, cfg.Interval.Duration)
	}
	if cfg.Gamma.PageLimit != 100 || cfg.Gamma.PageDelay.Duration != 500*time.Millisecond {
		t.Errorf("gamma = %+v", cfg.Gamma)
	}
	if !cfg.Gamma.RetryEvents {
		t.Error("retry_events not decoded")
	}
	// Unset keys keep their defaults.
	if cfg.Gamma.MaxRetries != 3 || cfg.Gamma.RetryDelay.Duration != 5*time.Second {
		t.Errorf("gamma retry defaults lost: %+v", cfg.Gamma)
	}
	if cfg.Store.Driver != "mysql" || cfg.MySQL.Host != "db.internal" || cfg.MySQL.Port != 3306 {
		t.Errorf("mysql = %+v", cfg.MySQL)
	}
	if !cfg.RedisEnabled() || cfg.Redis.LockTTL.Duration != 10*time.Minute {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if !cfg.S3Enabled() || cfg.S3.Prefix != "gamma" {
		t.Errorf("s3 = %+v", cfg.S3)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gamma.PageLimit != 500 {
		t.Errorf("PageLimit = %d, want default 500", cfg.Gamma.PageLimit)
	}
}

func TestLoad_BadTOML(t *testing.T) {
	path := writeTOML(t, "[gamma\npage_limit = ")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want decode error")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTOML(t, "[gamma]\npage_delay = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() error = nil, want duration error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeTOML(t, "[gamma]\npage_limit = 100\n")

	t.Setenv("POLYHISTORY_GAMMA_PAGE_LIMIT", "250")
	t.Setenv("POLYHISTORY_GAMMA_RETRY_DELAY", "1s")
	t.Setenv("POLYHISTORY_GAMMA_RETRY_EVENTS", "true")
	t.Setenv("POLYHISTORY_SUPABASE_DSN", "postgres://u:p@h:5432/db")
	t.Setenv("POLYHISTORY_MODE", "loop")
	t.Setenv("POLYHISTORY_GAMMA_MAX_RETRIES", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gamma.PageLimit != 250 {
		t.Errorf("PageLimit = %d, want 250", cfg.Gamma.PageLimit)
	}
	if cfg.Gamma.RetryDelay.Duration != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Gamma.RetryDelay.Duration)
	}
	if !cfg.Gamma.RetryEvents {
		t.Error("RetryEvents = false, want true")
	}
	if cfg.Supabase.DSN != "postgres://u:p@h:5432/db" {
		t.Errorf("Supabase.DSN = %q", cfg.Supabase.DSN)
	}
	if cfg.Mode != "loop" {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	// Unparseable values leave the current setting alone.
	if cfg.Gamma.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Gamma.MaxRetries)
	}
}

func TestLoad_LegacyDBEnv(t *testing.T) {
	tests := []struct {
		name   string
		driver string
		check  func(*Config) bool
	}{
		{
			name:   "postgres",
			driver: "postgres",
			check: func(c *Config) bool {
				return c.Supabase.Database == "hist" && c.Supabase.User == "ingest" &&
					c.Supabase.Password == "pw" && c.Supabase.Host == "db.example" &&
					c.MySQL.Database == "polymarket"
			},
		},
		{
			name:   "mysql",
			driver: "mysql",
			check: func(c *Config) bool {
				return c.MySQL.Database == "hist" && c.MySQL.User == "ingest" &&
					c.MySQL.Password == "pw" && c.MySQL.Host == "db.example" &&
					c.Supabase.Database == "postgres"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("POLYHISTORY_STORE_DRIVER", tt.driver)
			t.Setenv("DB_NAME", "hist")
			t.Setenv("DB_USER", "ingest")
			t.Setenv("DB_PASSWORD", "pw")
			t.Setenv("DB_HOST", "db.example")

			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("legacy DB_* not applied to %s: supabase=%+v mysql=%+v", tt.driver, cfg.Supabase, cfg.MySQL)
			}
		})
	}
}

func TestLoad_PrefixedEnvBeatsLegacy(t *testing.T) {
	t.Setenv("DB_HOST", "legacy.example")
	t.Setenv("POLYHISTORY_SUPABASE_HOST", "new.example")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Supabase.Host != "new.example" {
		t.Errorf("Supabase.Host = %q, want new.example", cfg.Supabase.Host)
	}
}

func TestLoad_NotifyEventsEnv(t *testing.T) {
	t.Setenv("POLYHISTORY_NOTIFY_EVENTS", "run_failed, run_succeeded,,")
	t.Setenv("POLYHISTORY_SCHEDULE", "30 5 * * *")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"run_failed", "run_succeeded"}
	if len(cfg.Notify.Events) != len(want) || cfg.Notify.Events[0] != want[0] || cfg.Notify.Events[1] != want[1] {
		t.Errorf("Notify.Events = %q, want %q", cfg.Notify.Events, want)
	}
	if cfg.Schedule != "30 5 * * *" {
		t.Errorf("Schedule = %q", cfg.Schedule)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "daemon" }, `unknown mode "daemon"`},
		{"loop without interval", func(c *Config) { c.Mode = "loop"; c.Interval.Duration = 0 }, "interval must be > 0"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, `unknown log_level "trace"`},
		{"relative events url", func(c *Config) { c.Gamma.EventsURL = "/events" }, "events_url must be an absolute URL"},
		{"zero page limit", func(c *Config) { c.Gamma.PageLimit = 0 }, "page_limit must be >= 1"},
		{"zero retries", func(c *Config) { c.Gamma.MaxRetries = 0 }, "max_retries must be >= 1"},
		{"negative delay", func(c *Config) { c.Gamma.PageDelay.Duration = -time.Second }, "page_delay must not be negative"},
		{"no timeout", func(c *Config) { c.Gamma.RequestTimeout.Duration = 0 }, "request_timeout must be > 0"},
		{"bad driver", func(c *Config) { c.Store.Driver = "oracle" }, `unknown driver "oracle"`},
		{"sqlite ok", func(c *Config) { c.Store.Driver = "sqlite"; c.Supabase.Host = "" }, ""},
		{"sqlite no path", func(c *Config) { c.Store.Driver = "sqlite"; c.SQLite.Path = " " }, "sqlite: path must not be empty"},
		{"postgres no host", func(c *Config) { c.Supabase.Host = "" }, "supabase: host must not be empty"},
		{"postgres dsn skips host", func(c *Config) { c.Supabase.Host = ""; c.Supabase.DSN = "postgres://x" }, ""},
		{"pool inverted", func(c *Config) { c.Supabase.PoolMinConns = 9 }, "pool_min_conns must not exceed"},
		{"mysql bad port", func(c *Config) { c.Store.Driver = "mysql"; c.MySQL.Port = 0 }, "mysql: port must be 1-65535"},
		{"mysql ignores supabase", func(c *Config) { c.Store.Driver = "mysql"; c.Supabase.Host = "" }, ""},
		{"redis no ttl", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.LockTTL.Duration = 0 }, "lock_ttl must be > 0"},
		{"s3 no region", func(c *Config) { c.S3.Bucket = "b"; c.S3.Region = "" }, "region must not be empty"},
		{"schedule replaces interval", func(c *Config) { c.Mode = "loop"; c.Interval.Duration = 0; c.Schedule = "0 6 * * *" }, ""},
		{"short schedule", func(c *Config) { c.Schedule = "0 6 * *" }, `schedule "0 6 * *"`},
		{"schedule descriptor", func(c *Config) { c.Schedule = "@daily" }, ""},
		{"schedule out of range", func(c *Config) { c.Schedule = "0 25 * * *" }, "schedule"},
		{"schedule zone only", func(c *Config) { c.Schedule = "CRON_TZ=UTC" }, "zone without schedule"},
		{"telegram half set", func(c *Config) { c.Notify.TelegramToken = "tok" }, "must be set together"},
		{"unknown notify event", func(c *Config) { c.Notify.Events = []string{"run_exploded"} }, `unknown event "run_exploded"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Gamma.PageLimit = 0
	cfg.Store.Driver = "nope"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	if got := strings.Count(err.Error(), "\n  - "); got != 3 {
		t.Errorf("error lists %d problems, want 3:\n%v", got, err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.DSN = "postgres://u:secret@h/db"
	cfg.Supabase.Password = "secret"
	cfg.MySQL.Password = "secret"
	cfg.Redis.Password = "secret"
	cfg.S3.AccessKey = "AKIA"
	cfg.S3.SecretKey = "secret"
	cfg.Notify.TelegramToken = "123:abc"
	cfg.Notify.DiscordWebhookURL = "https://discord.com/api/webhooks/1/x"

	out := RedactedConfig(&cfg)

	for name, got := range map[string]string{
		"supabase.dsn":      out.Supabase.DSN,
		"supabase.password": out.Supabase.Password,
		"mysql.password":    out.MySQL.Password,
		"redis.password":    out.Redis.Password,
		"s3.access_key":     out.S3.AccessKey,
		"s3.secret_key":     out.S3.SecretKey,
		"notify.telegram":   out.Notify.TelegramToken,
		"notify.discord":    out.Notify.DiscordWebhookURL,
	} {
		if got != redacted {
			t.Errorf("%s = %q, want redacted", name, got)
		}
	}
	if out.MySQL.DSN != "" {
		t.Errorf("empty mysql.dsn became %q", out.MySQL.DSN)
	}
	if out.Supabase.Host != cfg.Supabase.Host {
		t.Error("non-secret field changed")
	}
	if cfg.Supabase.Password != "secret" {
		t.Error("RedactedConfig mutated its input")
	}
}
