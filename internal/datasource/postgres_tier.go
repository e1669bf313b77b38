package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// PostgresTier is the tier-3 structured store: FetchPairs answers from
// market_ticks, which holds the latest point Put wrote for each (exchange,
// pair), so tier 3 can answer with "this is old but it's something" when
// tiers 1 and 2 are both empty. DataSourceManager's tier-4 write-back does
// not call Put; it refreshes tiers 2 and 1 only. Grounded on db/db.go's pool construction; this tier owns
// its own table rather than reusing internal/store's pool, since
// internal/store's schema is distribution/rate-limit state, not market data.
type PostgresTier struct {
	pool  *pgxpool.Pool
	clock market.Clock
}

// NewPostgresTier wraps an existing pool; internal/store.DB and this tier
// may share one pgxpool.Pool in cmd/engine's wiring, or use separate pools.
func NewPostgresTier(pool *pgxpool.Pool, clock market.Clock) *PostgresTier {
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &PostgresTier{pool: pool, clock: clock}
}

// Migrate creates market_ticks if it doesn't exist.
func (t *PostgresTier) Migrate(ctx context.Context) error {
	_, err := t.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS market_ticks (
	exchange     TEXT NOT NULL,
	pair         TEXT NOT NULL,
	bid          DOUBLE PRECISION NOT NULL,
	ask          DOUBLE PRECISION NOT NULL,
	last         DOUBLE PRECISION NOT NULL,
	volume_24h   DOUBLE PRECISION NOT NULL,
	funding_rate DOUBLE PRECISION,
	next_funding TIMESTAMPTZ,
	observed_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (exchange, pair)
);
`)
	if err != nil {
		return fmt.Errorf("failed to run datasource migrations: %w", err)
	}
	return nil
}

// Put archives the latest observed point for (exchange, pair), overwriting
// whatever was there. Unlike RedisTier.Put it is synchronous and durable;
// DataSourceManager's tier-4 path does not call it.
func (t *PostgresTier) Put(ctx context.Context, p market.PricePoint) error {
	_, err := t.pool.Exec(ctx, `
INSERT INTO market_ticks (exchange, pair, bid, ask, last, volume_24h, funding_rate, next_funding, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (exchange, pair) DO UPDATE SET
	bid = $3, ask = $4, last = $5, volume_24h = $6, funding_rate = $7, next_funding = $8, observed_at = $9
`, p.Exchange, p.Pair, p.Bid, p.Ask, p.Last, p.Volume24h, p.FundingRate, p.NextFunding, p.ObservedAt)
	if err != nil {
		return fmt.Errorf("%w: archive price point: %v", market.ErrDownstream, err)
	}
	return nil
}

// FetchPairs implements market.MarketDataSource for tier 3: one row per
// (exchange, pair) intersected with pairs, regardless of how stale. The
// caller (DataSourceManager) is responsible for applying the freshness
// escalation policy against MarketSnapshot.MaxStalenessMS; this tier just returns what
// it has.
func (t *PostgresTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	queryCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	rows, err := t.pool.Query(queryCtx, `
SELECT exchange, pair, bid, ask, last, volume_24h, funding_rate, next_funding, observed_at
FROM market_ticks WHERE pair = ANY($1)
`, pairs)
	if err != nil {
		return market.MarketSnapshot{}, fmt.Errorf("%w: query market ticks: %v", market.ErrTransientSource, err)
	}
	defer rows.Close()

	var points []market.PricePoint
	for rows.Next() {
		var p market.PricePoint
		if err := rows.Scan(&p.Exchange, &p.Pair, &p.Bid, &p.Ask, &p.Last, &p.Volume24h, &p.FundingRate, &p.NextFunding, &p.ObservedAt); err != nil {
			return market.MarketSnapshot{}, fmt.Errorf("%w: scan market tick: %v", market.ErrTransientSource, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return market.MarketSnapshot{}, fmt.Errorf("%w: read market ticks: %v", market.ErrTransientSource, err)
	}

	if len(points) == 0 {
		return market.MarketSnapshot{}, fmt.Errorf("%w: no archived ticks for requested pairs", market.ErrTransientSource)
	}

	return market.MarketSnapshot{Points: points, TakenAt: t.clock.Now()}, nil
}

// Health runs a trivial query to verify the pool is usable.
func (t *PostgresTier) Health(ctx context.Context) error {
	var one int
	err := t.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
	if err != nil {
		return fmt.Errorf("postgres tier unhealthy: %w", err)
	}
	return nil
}

// PruneOlderThan deletes archived ticks observed before cutoff, keeping the
// table from growing unbounded; spec.md Non-goals excludes historical tick
// analytics, so nothing downstream needs rows past the dedup/rate-limit
// horizon.
func (t *PostgresTier) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := t.pool.Exec(ctx, `DELETE FROM market_ticks WHERE observed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune market ticks: %v", market.ErrDownstream, err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		log.Debug().Int64("rows", n).Msg("pruned stale market ticks")
	}
	return n, nil
}
