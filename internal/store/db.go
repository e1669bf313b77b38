// Package store persists the engine's durable state in Postgres: delivery
// records (at-most-once distribution) and per-user rate budgets. The fast
// opportunity cache itself lives in Redis (internal/cache); this package
// only owns the two namespaces spec section 3 assigns to the database.
package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// DB wraps the PostgreSQL connection pool used by the distribution and
// rate-limit repositories. Grounded on internal/db/db.go.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a connection pool from DATABASE_URL (or an explicit dsn),
// mirroring the teacher's env-var fallback (Vault lookup happens one layer
// up, in internal/config, before this is called).
func New(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("no database DSN provided and DATABASE_URL not set")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("store: database connection pool created")

	return &DB{pool: pool}, nil
}

// Close releases the pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool exposes the underlying pool for repositories in this package.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

// Health pings the database.
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Migrate creates the tables this package owns if they don't exist yet.
// Kept inline rather than as separate migration files because the schema
// is small and entirely owned by this package.
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS distribution_records (
	user_id         TEXT NOT NULL,
	opportunity_id  TEXT NOT NULL,
	channel         TEXT NOT NULL,
	state           TEXT NOT NULL,
	enqueued_at     TIMESTAMPTZ NOT NULL,
	delivered_at    TIMESTAMPTZ,
	expires_at      TIMESTAMPTZ NOT NULL,
	retention_until TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, opportunity_id)
);
CREATE INDEX IF NOT EXISTS idx_distribution_retention ON distribution_records (retention_until);
CREATE INDEX IF NOT EXISTS idx_distribution_pending_expiry ON distribution_records (state, expires_at);

CREATE TABLE IF NOT EXISTS rate_budgets (
	user_id      TEXT NOT NULL,
	window       TEXT NOT NULL,
	count        INT NOT NULL,
	window_start TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, window)
);
`)
	if err != nil {
		return fmt.Errorf("failed to run store migrations: %w", err)
	}
	return nil
}
