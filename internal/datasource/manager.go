package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/arbedge/opportunity-engine/internal/datasource/exchanges"
	"github.com/arbedge/opportunity-engine/internal/market"
)

// DefaultExchangePriorityOrder is spec section 4.1's explicit tier-4 polling
// order, chosen to avoid every instance hammering the same venue first.
var DefaultExchangePriorityOrder = []string{"coinbase", "okx", "binance", "bybit", "bitget"}

// ManagerConfig holds the tunables spec section 4.1 names: per-tier
// staleness ceilings and the tier-4 exchange order.
type ManagerConfig struct {
	CacheTTL              time.Duration // tier 2 staleness ceiling, default 30s
	DBTTL                 time.Duration // tier 3 staleness ceiling, default 5m
	ExchangePriorityOrder []string
}

// StreamTier is the tier-1 capability the manager needs: read what has
// already streamed in, and republish a tier-4 result onto the stream for
// next tick. Satisfied by *NATSTier; split out as an interface so tests can
// substitute a fake without a real NATS connection.
type StreamTier interface {
	market.MarketDataSource
	Publish(p market.PricePoint) error
}

// CacheTier is the tier-2 capability the manager needs: read what's
// cached, and write a tier-4 result back for next tick. Satisfied by
// *RedisTier.
type CacheTier interface {
	market.MarketDataSource
	Put(ctx context.Context, p market.PricePoint)
}

// Manager implements market.MarketDataSource as the four-tier fallback from
// spec section 4.1: streaming push, fast KV cache, structured DB, direct
// exchange REST, each guarded by an independent circuit breaker. A
// successful tier-4 fetch is written back into tiers 2 and 1 so the next
// tick can hit a cheaper tier.
type Manager struct {
	tier1 StreamTier // may be nil if streaming isn't configured
	tier2 CacheTier
	tier3 market.MarketDataSource
	tier4 map[string]exchanges.Client

	breakers *BreakerManager
	cfg      ManagerConfig
	clock    market.Clock
}

// NewManager wires the four tiers together. tier1 may be nil; tier4 maps
// exchange name to its rate-limited client.
func NewManager(tier1 StreamTier, tier2 CacheTier, tier3 market.MarketDataSource, tier4 map[string]exchanges.Client, breakers *BreakerManager, cfg ManagerConfig, clock market.Clock) *Manager {
	if len(cfg.ExchangePriorityOrder) == 0 {
		cfg.ExchangePriorityOrder = DefaultExchangePriorityOrder
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.DBTTL <= 0 {
		cfg.DBTTL = 5 * time.Minute
	}
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &Manager{tier1: tier1, tier2: tier2, tier3: tier3, tier4: tier4, breakers: breakers, cfg: cfg, clock: clock}
}

// FetchPairs implements market.MarketDataSource, escalating through tiers
// 1 through 4 per spec section 4.1's strict hierarchy, skipping any tier
// whose breaker is open and escalating past a tier whose result is stale
// beyond its ceiling even when that tier itself succeeded.
func (m *Manager) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	now := m.clock.Now()

	if m.tier1 != nil {
		if snap, ok := m.tryTier("tier1", "", func() (market.MarketSnapshot, error) {
			return m.tier1.FetchPairs(ctx, pairs, deadline)
		}); ok {
			return snap, nil
		}
	}

	if snap, ok := m.tryTier("tier2", "", func() (market.MarketSnapshot, error) {
		return m.tier2.FetchPairs(ctx, pairs, deadline)
	}); ok {
		if snap.MaxStalenessMS(now) <= m.cfg.CacheTTL.Milliseconds() {
			return snap, nil
		}
		log.Debug().Int64("staleness_ms", snap.MaxStalenessMS(now)).Msg("tier2 snapshot stale, escalating to tier3")
	}

	if m.tier3 != nil {
		if snap, ok := m.tryTier("tier3", "", func() (market.MarketSnapshot, error) {
			return m.tier3.FetchPairs(ctx, pairs, deadline)
		}); ok {
			if snap.MaxStalenessMS(now) <= m.cfg.DBTTL.Milliseconds() {
				return snap, nil
			}
			log.Debug().Int64("staleness_ms", snap.MaxStalenessMS(now)).Msg("tier3 snapshot stale, escalating to tier4")
		}
	}

	snap, err := m.fetchTier4(ctx, pairs)
	if err != nil {
		return market.MarketSnapshot{}, fmt.Errorf("%w: all data source tiers exhausted: %v", market.ErrSourceExhausted, err)
	}
	return snap, nil
}

// tryTier runs fetch behind the (tier, exchange) breaker, returning
// (snapshot, true) only on a genuine success; any error (including the
// breaker being open) yields (zero, false) so the caller escalates.
func (m *Manager) tryTier(tier, exchange string, fetch func() (market.MarketSnapshot, error)) (market.MarketSnapshot, bool) {
	cb := m.breakers.For(tier, exchange)
	result, err := cb.Execute(func() (interface{}, error) {
		return fetch()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			log.Debug().Str("tier", tier).Msg("tier breaker open, skipping")
		} else if !errors.Is(err, market.ErrTransientSource) {
			log.Warn().Err(err).Str("tier", tier).Msg("tier fetch failed")
		}
		return market.MarketSnapshot{}, false
	}
	return result.(market.MarketSnapshot), true
}

// fetchTier4 polls exchanges in priority order, merging every partial
// success into one snapshot and feeding results back into tiers 2 and 1.
// Returns SourceExhausted only if every exchange yields nothing.
func (m *Manager) fetchTier4(ctx context.Context, pairs []string) (market.MarketSnapshot, error) {
	var points []market.PricePoint

	for _, exchange := range m.cfg.ExchangePriorityOrder {
		client, ok := m.tier4[exchange]
		if !ok {
			continue
		}

		cb := m.breakers.For("tier4", exchange)
		result, err := cb.Execute(func() (interface{}, error) {
			return client.Tickers(ctx, pairs)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				log.Debug().Str("exchange", exchange).Msg("tier4 breaker open, skipping exchange")
			} else {
				log.Warn().Err(err).Str("exchange", exchange).Msg("tier4 fetch failed")
			}
			continue
		}

		fetched := result.([]market.PricePoint)
		points = append(points, fetched...)

		for _, p := range fetched {
			m.tier2.Put(ctx, p)
			if m.tier1 != nil {
				if pubErr := m.tier1.Publish(p); pubErr != nil {
					log.Debug().Err(pubErr).Str("exchange", exchange).Msg("failed to republish tier4 point to stream")
				}
			}
		}
	}

	if len(points) == 0 {
		return market.MarketSnapshot{}, market.ErrSourceExhausted
	}

	return market.MarketSnapshot{Points: points, TakenAt: m.clock.Now()}, nil
}
