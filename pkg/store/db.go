// Package store provides the SQLite-backed execution, governance, memory,
// conversation, run, and sandbox schema plus a versioned migration runner,
// grounded in the teacher's pkg/database/client.go connection-pool-plus-
// migration-embedding idiom but targeting modernc.org/sqlite (pure Go, no
// cgo) instead of Postgres+Ent, and a hand-written migration runner instead
// of golang-migrate (see DESIGN.md for why both were swapped).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Config holds the SQLite connection settings for one workspace.
type Config struct {
	// Path is the SQLite file path, e.g. "<root>/.lonelycat/executor.db".
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible pool defaults for a single-file SQLite db,
// rooted under workspaceRoot per spec §6's filesystem layout.
func DefaultConfig(workspaceRoot string) Config {
	return Config{
		Path:            filepath.Join(workspaceRoot, ".lonelycat", "executor.db"),
		MaxOpenConns:    1, // SQLite: serialize writers through a single conn
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// Client wraps the underlying *sql.DB, matching the shape of the teacher's
// database.Client (embeds the driver handle, exposes DB() for health checks
// and direct queries).
type Client struct {
	db *sql.DB
}

// DB returns the underlying *sql.DB.
func (c *Client) DB() *sql.DB { return c.db }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.db.Close() }

// NewClient opens (creating parent directories as needed) the SQLite file at
// cfg.Path, applies pragmas for WAL durability and foreign keys, runs
// pending migrations, and returns a ready Client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(max1(cfg.MaxOpenConns))
	db.SetMaxIdleConns(max1(cfg.MaxIdleConns))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewClientFromDB wraps an existing *sql.DB (useful for tests with an
// in-memory database), running migrations against it.
func NewClientFromDB(ctx context.Context, db *sql.DB) (*Client, error) {
	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Client{db: db}, nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Health runs a trivial query for the API's /health endpoint, matching the
// teacher's database.Health helper.
func Health(ctx context.Context, db *sql.DB) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}, err
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return map[string]any{"status": "unhealthy", "error": err.Error()}, err
	}
	return map[string]any{"status": "healthy"}, nil
}
