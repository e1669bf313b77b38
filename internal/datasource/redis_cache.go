// Package datasource implements the tiered DataSourceManager from spec
// section 4.1: a streaming push cache (tier 1), a fast Redis KV cache
// (tier 2), a structured Postgres store (tier 3), and direct exchange REST
// calls (tier 4), tried in order with a circuit breaker guarding each
// (tier, exchange) pair.
package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// RedisTier is the tier-2 fast KV cache: the last point fetched by tier 4,
// stored per (exchange, pair) with a short TTL so a
// stale read is never served past the cache_ttl_seconds budget. Grounded on
// the teacher's RedisPriceCache, generalized from a single price to a full
// PricePoint.
type RedisTier struct {
	client *redis.Client
	ttl    time.Duration
	clock  market.Clock
}

// NewRedisTier builds the tier-2 cache. If client is nil the tier is
// permanently empty, mirroring the teacher's "Redis is optional" stance.
func NewRedisTier(client *redis.Client, ttl time.Duration, clock market.Clock) *RedisTier {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &RedisTier{client: client, ttl: ttl, clock: clock}
}

func (c *RedisTier) buildKey(exchange, pair string) string {
	return fmt.Sprintf("cache:point:%s:%s", exchange, pair)
}

// Put stores one observation; DataSourceManager calls it after a successful
// tier-4 fetch, so the next tick's tier-2 lookup can hit.
func (c *RedisTier) Put(ctx context.Context, p market.PricePoint) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal price point for cache")
		return
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		key := c.buildKey(p.Exchange, p.Pair)
		if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to write cache tier")
		}
	}()
}

// FetchPairs implements market.MarketDataSource for the fast KV tier: it
// only ever returns what is already cached, never calls out to an
// exchange. A pair with no cached points for any exchange is simply
// omitted from the result; the caller decides whether that's tolerable or
// must fall to tier 3.
func (c *RedisTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	if c == nil || c.client == nil {
		return market.MarketSnapshot{}, fmt.Errorf("%w: redis tier not configured", market.ErrTransientSource)
	}

	cacheCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var points []market.PricePoint
	for _, pair := range pairs {
		for _, exchange := range exchangesKnownToCache {
			key := c.buildKey(exchange, pair)
			cached, err := c.client.Get(cacheCtx, key).Result()
			if err != nil {
				if err != redis.Nil {
					log.Debug().Err(err).Str("key", key).Msg("redis tier read error, treated as miss")
				}
				continue
			}
			var p market.PricePoint
			if err := json.Unmarshal([]byte(cached), &p); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to unmarshal cached price point")
				continue
			}
			points = append(points, p)
		}
	}

	if len(points) == 0 {
		return market.MarketSnapshot{}, fmt.Errorf("%w: no cached points for requested pairs", market.ErrTransientSource)
	}

	return market.MarketSnapshot{Points: points, TakenAt: c.clock.Now()}, nil
}

// exchangesKnownToCache is the fixed exchange universe the tier-2 cache
// probes; kept in lockstep with config.EngineConfig.ExchangePriorityOrder's
// default (spec section 6).
var exchangesKnownToCache = []string{"coinbase", "okx", "binance", "bybit", "bitget"}

// Health reports whether the Redis connection backing this tier is usable.
func (c *RedisTier) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("redis tier not configured")
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.client.Ping(healthCtx).Err(); err != nil {
		return fmt.Errorf("redis tier unhealthy: %w", err)
	}
	return nil
}

// Clear removes every cached point; used by tests and admin tooling.
func (c *RedisTier) Clear(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("redis tier not configured")
	}
	clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := c.client.Scan(clearCtx, 0, "cache:point:*", 0).Iterator()
	for iter.Next(clearCtx) {
		if err := c.client.Del(clearCtx, iter.Val()).Err(); err != nil {
			log.Warn().Err(err).Str("key", iter.Val()).Msg("failed to delete cache key")
		}
	}
	return iter.Err()
}
