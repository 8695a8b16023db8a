// Package mysql stores Polymarket history snapshots in MySQL or MariaDB via
// database/sql and go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"
)

//go:embed schema/history.sql
var schemaFS embed.FS

// ClientConfig holds connection parameters for the MySQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
}

// DSN builds a go-sql-driver DSN from the given config. Times are read and
// written in UTC.
func DSN(cfg ClientConfig) (string, error) {
	if strings.TrimSpace(cfg.DSN) != "" {
		parsed, err := driver.ParseDSN(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("mysql: parse dsn: %w", err)
		}
		parsed.ParseTime = true
		parsed.Loc = time.UTC
		return parsed.FormatDSN(), nil
	}

	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	dc := driver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	return dc.FormatDSN(), nil
}

// Client wraps a *sql.DB.
type Client struct {
	db *sql.DB
}

// New opens a connection pool configured from cfg and verifies it with a ping.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}

	return &Client{db: db}, nil
}

// DB returns the underlying connection pool.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the connection pool.
func (c *Client) Close() {
	_ = c.db.Close()
}

// EnsureSchema creates the history tables when they do not exist yet.
func (c *Client) EnsureSchema(ctx context.Context) error {
	data, err := schemaFS.ReadFile("schema/history.sql")
	if err != nil {
		return fmt.Errorf("mysql: read schema: %w", err)
	}
	for _, stmt := range splitStatements(string(data)) {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: ensure schema: %w", err)
		}
	}
	return nil
}

// splitStatements splits a schema file on semicolons. The driver runs one
// statement per Exec unless multiStatements is enabled.
func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if s := strings.TrimSpace(part); s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
