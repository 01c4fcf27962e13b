// Package database owns the single Postgres connection pool the registry
// store and the broker share, and the embedded schema migrations applied
// at startup.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver for database/sql, used only to run migrations
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the shared connection pool. Every package that needs
// Postgres access (store, broker) is handed the *pgxpool.Pool, not this
// wrapper, so Client itself only exists to pair the pool with lifecycle
// and health methods.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens the pool, applies pending migrations, and pings.
// Migrations run through database/sql + golang-migrate (which needs that
// interface); the pgxpool used for the rest of the process's lifetime is
// opened separately and is unaffected by closing the migration handle.
func NewClient(ctx context.Context, dsn string) (*Client, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse store DSN: %w", err)
	}

	tuning, err := LoadPoolTuningFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load pool tuning: %w", err)
	}
	poolCfg.MaxConns = tuning.MaxConns
	poolCfg.MinConns = tuning.MinConns
	poolCfg.MaxConnLifetime = tuning.MaxConnLifetime
	poolCfg.MaxConnIdleTime = tuning.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// Close releases the pool. Safe to call once at process shutdown.
func (c *Client) Close() {
	c.Pool.Close()
}

// runMigrations applies the embedded SQL migrations with golang-migrate's
// iofs source. Custom indexes live in the SQL files themselves.
func runMigrations(dsn string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("failed to check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found - binary may be built incorrectly")
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Do not call m.Close() here: it would also close db via the postgres
	// driver, which is already handled by our own `defer db.Close()`, and
	// double-closing a *sql.DB is poor hygiene even though harmless.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}
