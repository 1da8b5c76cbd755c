// Package store is the Postgres-backed task store: the durable system of
// record for users and tasks. Every task exists here from the moment it
// is created; the dispatch queue only ever carries a reference to a row
// in this store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
)

// Config configures the connection pool and migration source.
type Config struct {
	DSN            string
	MaxConnections int32
	ConnectTimeout time.Duration
	MigrationsPath string
}

// Store wraps a pgx connection pool and exposes the task/user operations
// the control plane and worker pool need.
type Store struct {
	pool *pgxpool.Pool
	dsn  string
}

// New opens the connection pool and verifies connectivity. Schema setup
// is a separate step via Migrate, so New never touches the database beyond
// a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store: DSN is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &Store{pool: pool, dsn: cfg.DSN}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies all pending migrations found under migrationsPath.
func (s *Store) Migrate(migrationsPath string) error {
	if migrationsPath == "" {
		migrationsPath = "file://migrations"
	}

	migrationDB, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("store: open migration connection: %w", err)
	}
	defer migrationDB.Close()

	driver, err := postgres.WithInstance(migrationDB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: apply migrations: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for callers that need raw access
// (migrations, health checks with stats).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
