package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrations holds the PostgreSQL schema migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationDirection selects up or down migrations.
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// Migrate applies migrations from fsys (files named NNN_name.up.sql /
// NNN_name.down.sql at its root) and records them in schema_migrations.
// steps <= 0 applies all pending migrations. It returns the versions applied.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, direction MigrationDirection, steps int) ([]string, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	suffix := ".up.sql"
	if direction == MigrateDown {
		suffix = ".down.sql"
	}

	files, err := fs.Glob(fsys, "*"+suffix)
	if err != nil {
		return nil, fmt.Errorf("failed to find migration files: %w", err)
	}

	sort.Strings(files)
	if direction == MigrateDown {
		// Reverse order for down migrations
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	var done []string
	for _, file := range files {
		version := strings.TrimSuffix(file, suffix)

		if direction == MigrateUp && applied[version] {
			continue
		}
		if direction == MigrateDown && !applied[version] {
			continue
		}
		if steps > 0 && len(done) >= steps {
			break
		}

		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return done, fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		if err := applyMigration(ctx, pool, version, string(content), direction); err != nil {
			return done, fmt.Errorf("migration %s: %w", file, err)
		}
		done = append(done, version)
	}

	return done, nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, version, sql string, direction MigrationDirection) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sql); err != nil {
		return err
	}

	if direction == MigrateUp {
		_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
	} else {
		_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
	}
	if err != nil {
		return fmt.Errorf("failed to update migrations table: %w", err)
	}

	return tx.Commit(ctx)
}

// EmbeddedMigrations returns the embedded migrations rooted at their directory.
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(Migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}
