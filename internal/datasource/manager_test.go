package datasource_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/datasource"
	"github.com/arbedge/opportunity-engine/internal/datasource/exchanges"
	"github.com/arbedge/opportunity-engine/internal/market"
)

type fakeStreamTier struct {
	snap      market.MarketSnapshot
	err       error
	published []market.PricePoint
}

func (f *fakeStreamTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	return f.snap, f.err
}

func (f *fakeStreamTier) Publish(p market.PricePoint) error {
	f.published = append(f.published, p)
	return nil
}

type fakeCacheTier struct {
	snap market.MarketSnapshot
	err  error
	put  []market.PricePoint
}

func (f *fakeCacheTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	return f.snap, f.err
}

func (f *fakeCacheTier) Put(ctx context.Context, p market.PricePoint) {
	f.put = append(f.put, p)
}

type fakeDBTier struct {
	snap market.MarketSnapshot
	err  error
}

func (f *fakeDBTier) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	return f.snap, f.err
}

type fakeExchangeClient struct {
	name   string
	points []market.PricePoint
	err    error
}

func (f *fakeExchangeClient) Name() string { return f.name }
func (f *fakeExchangeClient) Tickers(ctx context.Context, pairs []string) ([]market.PricePoint, error) {
	return f.points, f.err
}

func TestManagerPrefersTier1WhenFresh(t *testing.T) {
	now := time.Now()
	tier1 := &fakeStreamTier{snap: market.MarketSnapshot{
		Points:  []market.PricePoint{{Exchange: "binance", Pair: "BTC/USDT", ObservedAt: now}},
		TakenAt: now,
	}}
	tier2 := &fakeCacheTier{err: market.ErrTransientSource}
	tier3 := &fakeDBTier{err: market.ErrTransientSource}

	mgr := datasource.NewManager(tier1, tier2, tier3, nil, datasource.NewPassthroughBreakerManager(), datasource.ManagerConfig{}, market.FixedClock{T: now})

	snap, err := mgr.FetchPairs(context.Background(), []string{"BTC/USDT"}, now.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, snap.Points, 1)
}

func TestManagerEscalatesPastStaleTier2(t *testing.T) {
	now := time.Now()
	staleTier2 := &fakeCacheTier{snap: market.MarketSnapshot{
		Points: []market.PricePoint{{Exchange: "binance", Pair: "BTC/USDT", ObservedAt: now.Add(-45 * time.Second)}},
	}}
	freshTier3 := &fakeDBTier{snap: market.MarketSnapshot{
		Points: []market.PricePoint{{Exchange: "binance", Pair: "BTC/USDT", ObservedAt: now.Add(-2 * time.Minute)}},
	}}

	cfg := datasource.ManagerConfig{CacheTTL: 30 * time.Second, DBTTL: 5 * time.Minute}
	mgr := datasource.NewManager(nil, staleTier2, freshTier3, nil, datasource.NewPassthroughBreakerManager(), cfg, market.FixedClock{T: now})

	snap, err := mgr.FetchPairs(context.Background(), []string{"BTC/USDT"}, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, snap.Points, 1)
	assert.Equal(t, now.Add(-2*time.Minute), snap.Points[0].ObservedAt, "should have escalated to the tier3 point, not the stale tier2 one")
}

func TestManagerFallsToTier4WhenTiers123Empty(t *testing.T) {
	now := time.Now()
	tier2 := &fakeCacheTier{err: market.ErrTransientSource}
	tier3 := &fakeDBTier{err: market.ErrTransientSource}
	binance := &fakeExchangeClient{name: "binance", points: []market.PricePoint{{Exchange: "binance", Pair: "BTC/USDT", ObservedAt: now}}}

	tier4 := map[string]exchanges.Client{"binance": binance}
	mgr := datasource.NewManager(nil, tier2, tier3, tier4, datasource.NewPassthroughBreakerManager(), datasource.ManagerConfig{}, market.FixedClock{T: now})

	snap, err := mgr.FetchPairs(context.Background(), []string{"BTC/USDT"}, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, snap.Points, 1)
	assert.Len(t, tier2.put, 1, "tier4 result should be written back to tier2")
}

func TestManagerReturnsSourceExhaustedWhenAllTiersFail(t *testing.T) {
	now := time.Now()
	tier2 := &fakeCacheTier{err: market.ErrTransientSource}
	tier3 := &fakeDBTier{err: market.ErrTransientSource}

	mgr := datasource.NewManager(nil, tier2, tier3, nil, datasource.NewPassthroughBreakerManager(), datasource.ManagerConfig{}, market.FixedClock{T: now})

	_, err := mgr.FetchPairs(context.Background(), []string{"BTC/USDT"}, now.Add(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrSourceExhausted)
}
