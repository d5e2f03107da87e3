package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stwalsh4118/churn/internal/config"
)

// RequiredTables are the tables the record repository and the Postgres
// artifact store read and write.
var RequiredTables = []string{
	"tenants",
	"leases",
	"properties",
	"payments",
	"maintenance_requests",
	"market_snapshots",
	"model_artifacts",
}

// ErrMissingTables is returned by CheckSchema when migrations have not
// produced every required table.
var ErrMissingTables = errors.New("churn schema incomplete")

// Database holds the pool shared by the record repository and the artifact
// store.
type Database struct {
	Pool *pgxpool.Pool
}

// Open connects to Postgres, applies pending migrations and verifies the
// churn tables exist. The returned database is ready for record loads and
// artifact writes.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	db, err := NewPostgresPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(cfg.DSN()); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.CheckSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgresPool creates a pgx pool sized from cfg and pings it. It does
// not touch the schema; use Open for that.
func NewPostgresPool(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MinConns = int32(cfg.PoolMin)
	poolConfig.MaxConns = int32(max(cfg.PoolMax, 1))
	poolConfig.ConnConfig.ConnectTimeout = 5 * time.Second
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "churn"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

// CheckSchema reports ErrMissingTables naming every required table that is
// absent from the search path.
func (db *Database) CheckSchema(ctx context.Context) error {
	rows, err := db.Pool.Query(ctx,
		`SELECT t FROM unnest($1::text[]) AS t WHERE to_regclass(t) IS NOT NULL`,
		RequiredTables)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool, len(RequiredTables))
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	return missingTables(present)
}

func missingTables(present map[string]bool) error {
	var missing []string
	for _, name := range RequiredTables {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingTables, strings.Join(missing, ", "))
	}
	return nil
}

// Ping satisfies the readiness check.
func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases the pool. Safe to call more than once.
func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Stats returns pool statistics, or nil before the pool exists.
func (db *Database) Stats() *pgxpool.Stat {
	if db.Pool == nil {
		return nil
	}
	return db.Pool.Stat()
}
