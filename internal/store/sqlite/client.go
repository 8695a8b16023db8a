// Package sqlite stores Polymarket history snapshots in a local SQLite file
// via xorm and the pure-Go glebarez driver.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"xorm.io/xorm"
)

// ClientConfig holds the location of the database file.
type ClientConfig struct {
	Path string
}

// DSN builds a driver DSN for the file at cfg.Path. Writers wait on a busy
// database instead of failing immediately.
func DSN(cfg ClientConfig) string {
	return cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// Client wraps an xorm engine over a single SQLite connection.
type Client struct {
	engine *xorm.Engine
}

// New opens the database file, creating it and its directory if needed.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite: empty path")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create dir: %w", err)
		}
	}

	engine, err := xorm.NewEngine("sqlite", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite has one writer; a single connection keeps transactions serial.
	engine.SetMaxOpenConns(1)
	engine.SetTZLocation(time.UTC)
	engine.SetTZDatabase(time.UTC)

	if err := engine.PingContext(ctx); err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Client{engine: engine}, nil
}

// Engine returns the underlying xorm engine.
func (c *Client) Engine() *xorm.Engine {
	return c.engine
}

// Close closes the database.
func (c *Client) Close() {
	_ = c.engine.Close()
}

// EnsureSchema creates or extends the history tables from their record
// definitions.
func (c *Client) EnsureSchema(context.Context) error {
	if err := c.engine.Sync2(new(eventRecord), new(marketRecord)); err != nil {
		return fmt.Errorf("sqlite: ensure schema: %w", err)
	}
	return nil
}

// inTx runs fn in one transaction, rolling back when it fails.
func (c *Client) inTx(ctx context.Context, fn func(*xorm.Session) error) error {
	session := c.engine.NewSession().Context(ctx)
	defer session.Close()

	if err := session.Begin(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(session); err != nil {
		_ = session.Rollback()
		return err
	}
	if err := session.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
