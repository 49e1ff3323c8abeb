package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// migration is one versioned schema change with a testing-only Down, tracked
// in schema_migrations(version, description, applied_at) per spec §4.8.
type migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// loadMigrations reads migrations/NNNN_description.{up,down}.sql from the
// embedded FS, pairing them by version, mirroring the teacher's
// //go:embed migrations idiom in pkg/database/client.go.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}

	byVersion := map[int]*migration{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		version, desc, direction, ok := parseMigrationName(name)
		if !ok {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, path.Join("migrations", name))
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", name, err)
		}
		m, exists := byVersion[version]
		if !exists {
			m = &migration{Version: version, Description: desc}
			byVersion[version] = m
		}
		if direction == "up" {
			m.Up = string(content)
		} else {
			m.Down = string(content)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseMigrationName parses "0001_add_graph_fields.up.sql" into
// (1, "add graph fields", "up", true).
func parseMigrationName(name string) (version int, desc string, direction string, ok bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", "", false
	}
	trimmed := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) != 2 {
		return 0, "", "", false
	}
	direction = parts[1]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}
	head := parts[0]
	sep := strings.Index(head, "_")
	if sep < 0 {
		return 0, "", "", false
	}
	v, err := strconv.Atoi(head[:sep])
	if err != nil {
		return 0, "", "", false
	}
	return v, strings.ReplaceAll(head[sep+1:], "_", " "), direction, true
}

const createSchemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at  TIMESTAMP NOT NULL
);`

// RunMigrations applies every pending embedded migration to db in version
// order, recording each in schema_migrations (spec §4.8).
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, createSchemaMigrationsTable); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("reading applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// DownMigration applies the Down script for version, for use only by tests
// that need to tear down a schema change in isolation (spec §4.8:
// "each migration has up and a testing-only down").
func DownMigration(ctx context.Context, db *sql.DB, version int) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version == version {
			if m.Down == "" {
				return fmt.Errorf("migration %d has no down script", version)
			}
			if _, err := db.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", version)
			return err
		}
	}
	return fmt.Errorf("migration %d not found", version)
}
