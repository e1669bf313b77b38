package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/cache"
	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/detect"
	"github.com/arbedge/opportunity-engine/internal/enhancer"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/schedule"
)

type fakeDataSource struct {
	mu       sync.Mutex
	snap     market.MarketSnapshot
	err      error
	fetchCnt int
	block    chan struct{} // if non-nil, FetchPairs waits on it before returning
}

func (f *fakeDataSource) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	f.mu.Lock()
	f.fetchCnt++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.err != nil {
		return market.MarketSnapshot{}, f.err
	}
	return f.snap, nil
}

func (f *fakeDataSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCnt
}

type fakeUserDirectory struct {
	users map[string]market.UserPreferences
}

func (f *fakeUserDirectory) ListSubscribedUsers(ctx context.Context, filter market.UserFilter) ([]string, error) {
	var out []string
	for id := range f.users {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeUserDirectory) GetPreferences(ctx context.Context, userID string) (market.UserPreferences, error) {
	return f.users[userID], nil
}

type fakeRateLimiter struct{ mu sync.Mutex }

func (f *fakeRateLimiter) Get(ctx context.Context, userID string, w market.Window, now time.Time) (market.RateBudget, error) {
	return market.RateBudget{UserID: userID, Window: w, WindowStart: now}, nil
}

func (f *fakeRateLimiter) Increment(ctx context.Context, userID string, w market.Window, now time.Time) (market.RateBudget, error) {
	return market.RateBudget{UserID: userID, Window: w, Count: 1, WindowStart: now}, nil
}

type fakeDistributionStore struct {
	mu      sync.Mutex
	records map[string]*market.DistributionRecord
}

func newFakeDistributionStore() *fakeDistributionStore {
	return &fakeDistributionStore{records: make(map[string]*market.DistributionRecord)}
}

func key(userID, opportunityID string) string { return userID + "|" + opportunityID }

func (f *fakeDistributionStore) Insert(ctx context.Context, rec market.DistributionRecord, retentionUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := rec
	f.records[key(rec.UserID, rec.OpportunityID)] = &cp
	return nil
}

func (f *fakeDistributionStore) Get(ctx context.Context, userID, opportunityID string) (*market.DistributionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key(userID, opportunityID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDistributionStore) UpdateState(ctx context.Context, userID, opportunityID string, state market.DeliveryState, deliveredAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[key(userID, opportunityID)]
	if !ok {
		return nil
	}
	rec.State = state
	rec.DeliveredAt = deliveredAt
	return nil
}

func (f *fakeDistributionStore) ListExpiredPending(ctx context.Context, now time.Time) ([]market.DistributionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []market.DistributionRecord
	for _, rec := range f.records {
		if !rec.State.IsTerminal() && !rec.ExpiresAt.After(now) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

type fakeChannel struct {
	mu        sync.Mutex
	name      string
	delivered []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(ctx context.Context, userID string, o market.Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered = append(c.delivered, userID+":"+o.ID)
	return nil
}

func testPricePoints(now time.Time) market.MarketSnapshot {
	return market.MarketSnapshot{
		TakenAt: now,
		Points: []market.PricePoint{
			{Exchange: "binance", Pair: "BTC-USDT", Bid: 50000, Ask: 50010, Volume24h: 100000, ObservedAt: now},
			{Exchange: "okx", Pair: "BTC-USDT", Bid: 50100, Ask: 50110, Volume24h: 100000, ObservedAt: now},
		},
	}
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		TrackedPairs:             []string{"BTC-USDT"},
		TickIntervalSeconds:      120,
		CacheTTLSeconds:          30,
		MinSpreadBps:             1,
		MinVolume:                1,
		MaxCrossLagMS:            60000,
		CapPerPair:               5,
		MaxInflightAI:            4,
		MaxInflightEmit:          4,
		ArbitrageTTLSeconds:      30,
		RiskTierTTLSecondsLow:    30,
		RiskTierTTLSecondsMedium: 30,
		RiskTierTTLSecondsHigh:   30,
	}
}

func buildEngine(t *testing.T, now time.Time, ds *fakeDataSource, users *fakeUserDirectory, channel *fakeChannel) (*Engine, *cache.Cache) {
	t.Helper()
	clock := market.FixedClock{T: now}
	cfg := testEngineConfig()

	det := detect.New(cfg)
	c := cache.New(cfg.CapPerPair, 4, 64, clock)
	enh := enhancer.New(config.AIConfig{DeadlineMS: 500, MinConfidence: 0.5}, nil, nil, clock)
	rateLimits := config.RateLimitsConfig{}
	rateLimits.Free.PerMinute = 100
	rateLimits.Free.PerHour = 1000
	rateLimits.Free.PerDay = 10000
	rateLimits.Basic.PerMinute = 100
	rateLimits.Basic.PerHour = 1000
	rateLimits.Basic.PerDay = 10000
	rateLimits.Premium.PerMinute = 100
	rateLimits.Premium.PerHour = 1000
	rateLimits.Premium.PerDay = 10000
	rateLimits.Enterprise.PerMinute = 100
	rateLimits.Enterprise.PerHour = 1000
	rateLimits.Enterprise.PerDay = 10000

	sched := schedule.New(
		rateLimits,
		&fakeRateLimiter{},
		newFakeDistributionStore(),
		[]market.ChannelAdapter{channel},
		clock,
		30*time.Second,
	)

	e := New(cfg, ds, det, c, enh, sched, users, clock, nil, zerolog.Nop())
	return e, c
}

func TestTickDetectsAdmitsAndDistributes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &fakeDataSource{snap: testPricePoints(now)}
	channel := &fakeChannel{name: DefaultChannel}
	users := &fakeUserDirectory{users: map[string]market.UserPreferences{
		"u1": {UserID: "u1", Tier: market.TierFree, MinConfidence: 0.1},
	}}

	e, c := buildEngine(t, now, ds, users, channel)

	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Detected)
	assert.Equal(t, 1, result.Admitted)

	live := c.List(cache.Filter{})
	require.Len(t, live, 1)

	assert.Equal(t, 1, result.Distributed)
	channel.mu.Lock()
	assert.Len(t, channel.delivered, 1)
	channel.mu.Unlock()
}

func TestTickCoalescesConcurrentCalls(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	block := make(chan struct{})
	ds := &fakeDataSource{snap: testPricePoints(now), block: block}
	channel := &fakeChannel{name: DefaultChannel}
	users := &fakeUserDirectory{users: map[string]market.UserPreferences{}}

	e, _ := buildEngine(t, now, ds, users, channel)

	var wg sync.WaitGroup
	results := make([]TickResult, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := e.Tick(context.Background())
			require.NoError(t, err)
			results[i] = r
		}()
	}

	// Give the first goroutine time to set the ticking flag before
	// releasing the blocked fetch, so the second call observes it busy.
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	skipped := 0
	for _, r := range results {
		if r.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, ds.count())
}

func TestTickSkipsOnDataSourceExhaustion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &fakeDataSource{err: market.ErrSourceExhausted}
	channel := &fakeChannel{name: DefaultChannel}
	users := &fakeUserDirectory{users: map[string]market.UserPreferences{}}

	e, c := buildEngine(t, now, ds, users, channel)

	result, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, c.List(cache.Filter{}))
}

func TestQueryFiltersByUserPreferences(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &fakeDataSource{snap: testPricePoints(now)}
	channel := &fakeChannel{name: DefaultChannel}
	users := &fakeUserDirectory{users: map[string]market.UserPreferences{
		"picky": {UserID: "picky", Tier: market.TierFree, MinConfidence: 0.99},
	}}

	e, _ := buildEngine(t, now, ds, users, channel)
	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	all, err := e.Query(context.Background(), cache.Filter{}, "")
	require.NoError(t, err)
	require.Len(t, all, 1)

	filtered, err := e.Query(context.Background(), cache.Filter{}, "picky")
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestRecordInteractionRequiresLiveOpportunity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := &fakeDataSource{snap: testPricePoints(now)}
	channel := &fakeChannel{name: DefaultChannel}
	users := &fakeUserDirectory{users: map[string]market.UserPreferences{}}

	e, c := buildEngine(t, now, ds, users, channel)
	err := e.RecordInteraction("u1", "missing-id", market.InteractionViewed)
	assert.Error(t, err)

	_, tErr := e.Tick(context.Background())
	require.NoError(t, tErr)
	live := c.List(cache.Filter{})
	require.Len(t, live, 1)

	assert.NoError(t, e.RecordInteraction("u1", live[0].ID, market.InteractionViewed))
}
