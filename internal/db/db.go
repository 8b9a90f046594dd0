// Package db provides PostgreSQL database access for Vibe Match.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so repository
// helpers can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// txQuerier is a querier that can also open transactions, such as *pgxpool.Pool.
type txQuerier interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Users returns a UserRepository.
func (db *DB) Users() *UserRepository {
	return &UserRepository{q: db.pool}
}

// Sessions returns a SessionRepository.
func (db *DB) Sessions() *SessionRepository {
	return &SessionRepository{q: db.pool}
}

// Snapshots returns a SnapshotRepository.
func (db *DB) Snapshots() *SnapshotRepository {
	return &SnapshotRepository{q: db.pool}
}

// Compatibility returns a CompatibilityRepository.
func (db *DB) Compatibility() *CompatibilityRepository {
	return &CompatibilityRepository{q: db.pool}
}
