package exchanges

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// Client is the minimal read-only surface every exchange client implements.
// No Go SDK exists in the retrieved pack for Coinbase, OKX, Bybit, or
// Bitget, so those four share one hand-rolled HTTP implementation
// (rest_client.go) parameterized by per-exchange endpoint templates; only
// Binance gets a dedicated client built on adshao/go-binance/v2.
type Client interface {
	// Name is the exchange identifier used in market.PricePoint.Exchange.
	Name() string
	// Tickers fetches current bid/ask/last/volume for the given pairs.
	Tickers(ctx context.Context, pairs []string) ([]market.PricePoint, error)
}

// RateLimitedClient wraps a Client with a token bucket sized from
// config.ExchangeConfig.RateLimitPerSecond, so the shared retry/backoff
// logic never has to reason about exchange-specific limits itself.
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient builds a limiter allowing perSecond requests/sec with
// a burst of one request above that rate.
func NewRateLimitedClient(inner Client, perSecond float64) *RateLimitedClient {
	if perSecond <= 0 {
		perSecond = 5
	}
	return &RateLimitedClient{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Name delegates to the wrapped client.
func (c *RateLimitedClient) Name() string { return c.inner.Name() }

// Tickers waits for a token (respecting ctx) before delegating.
func (c *RateLimitedClient) Tickers(ctx context.Context, pairs []string) ([]market.PricePoint, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Tickers(ctx, pairs)
}
