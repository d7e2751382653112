package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that both pgxpool.Pool and pgx.Tx implement
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PostgresBackend stores records in the records table created by the
// embedded migrations.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and pings the database.
func NewPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresBackend{pool: pool}, nil
}

// DB returns the underlying database pool for direct queries
func (b *PostgresBackend) DB() *pgxpool.Pool {
	return b.pool
}

// Put implements Backend
func (b *PostgresBackend) Put(ctx context.Context, collection string, rec Record) error {
	return b.PutTx(ctx, b.pool, collection, rec)
}

// PutTx upserts rec using the provided transaction or connection
func (b *PostgresBackend) PutTx(ctx context.Context, db DBTX, collection string, rec Record) error {
	query := `
		INSERT INTO records (collection, id, schema_version, data, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (collection, id)
		DO UPDATE SET schema_version = EXCLUDED.schema_version, data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := db.Exec(ctx, query, collection, rec.ID, rec.SchemaVersion, rec.Data); err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", collection, rec.ID, err)
	}
	return nil
}

// Get implements Backend
func (b *PostgresBackend) Get(ctx context.Context, collection, id string) (Record, bool, error) {
	query := `
		SELECT id, schema_version, data, updated_at
		FROM records
		WHERE collection = $1 AND id = $2
	`

	var rec Record
	err := b.pool.QueryRow(ctx, query, collection, id).Scan(&rec.ID, &rec.SchemaVersion, &rec.Data, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to get record %s/%s: %w", collection, id, err)
	}
	return rec, true, nil
}

// Delete implements Backend
func (b *PostgresBackend) Delete(ctx context.Context, collection, id string) error {
	tag, err := b.pool.Exec(ctx, `DELETE FROM records WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Backend
func (b *PostgresBackend) List(ctx context.Context, collection string) ([]Record, error) {
	query := `
		SELECT id, schema_version, data, updated_at
		FROM records
		WHERE collection = $1
		ORDER BY id
	`

	rows, err := b.pool.Query(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SchemaVersion, &rec.Data, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	return out, nil
}

// Close closes the database connection pool
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

var _ Backend = (*PostgresBackend)(nil)
