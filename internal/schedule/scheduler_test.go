package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/store"
)

type fakeRateLimiter struct {
	mu      sync.Mutex
	budgets map[string]market.RateBudget
}

func newFakeRateLimiter() *fakeRateLimiter {
	return &fakeRateLimiter{budgets: make(map[string]market.RateBudget)}
}

func key(userID string, w market.Window) string { return userID + "|" + string(w) }

func (f *fakeRateLimiter) Get(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rb, ok := f.budgets[key(userID, window)]
	if !ok {
		return market.RateBudget{UserID: userID, Window: window, WindowStart: now}, nil
	}
	return rb, nil
}

func (f *fakeRateLimiter) Increment(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rb, ok := f.budgets[key(userID, window)]
	if !ok {
		rb = market.RateBudget{UserID: userID, Window: window, WindowStart: now}
	}
	rb = rb.Replenished(now)
	rb.Count++
	f.budgets[key(userID, window)] = rb
	return rb, nil
}

type fakeDistributionStore struct {
	mu      sync.Mutex
	records map[string]*market.DistributionRecord
}

func newFakeDistributionStore() *fakeDistributionStore {
	return &fakeDistributionStore{records: make(map[string]*market.DistributionRecord)}
}

func recKey(userID, opportunityID string) string { return userID + "|" + opportunityID }

func (f *fakeDistributionStore) Insert(ctx context.Context, rec market.DistributionRecord, retentionUntil time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := recKey(rec.UserID, rec.OpportunityID)
	if _, ok := f.records[k]; ok {
		return store.ErrAlreadyRecorded
	}
	cp := rec
	f.records[k] = &cp
	return nil
}

func (f *fakeDistributionStore) Get(ctx context.Context, userID, opportunityID string) (*market.DistributionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recKey(userID, opportunityID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeDistributionStore) UpdateState(ctx context.Context, userID, opportunityID string, state market.DeliveryState, deliveredAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[recKey(userID, opportunityID)]
	if !ok {
		return errors.New("no such record")
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
	name    string
	mu      sync.Mutex
	delivered []string
	failNext bool
	failAll  bool
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(ctx context.Context, userID string, o market.Opportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll || c.failNext {
		c.failNext = false
		return errors.New("channel unavailable")
	}
	c.delivered = append(c.delivered, userID+"|"+o.ID)
	return nil
}

func testOpp(id, pair string, confidence float64, detectedAt, expiresAt time.Time) market.Opportunity {
	return market.Opportunity{
		ID:         id,
		Kind:       market.KindArbitrage,
		Confidence: confidence,
		DetectedAt: detectedAt,
		ExpiresAt:  expiresAt,
		Arbitrage: &market.ArbitrageDetails{
			Pair:          pair,
			LongExchange:  "binance",
			ShortExchange: "coinbase",
		},
	}
}

func TestDistributeDeliversWithinWeightAndMarksDelivered(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram"}
	limits := config.RateLimitsConfig{} // zero-value tierLimits -> PerMinute/Hour/Day == 0, meaning no budget; use admin tier to get -1 (unbounded)

	sched := New(limits, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: now}, 30*time.Second)

	queue := UserQueue{
		UserID:  "u1",
		Tier:    market.TierAdmin, // unbounded rate limit per config.RateLimitsConfig.For
		Channel: "telegram",
		Ranked: []market.Opportunity{
			testOpp("a", "BTCUSDT", 0.9, now, now.Add(time.Minute)),
		},
	}

	summary := sched.Distribute(context.Background(), []UserQueue{queue}, now)
	assert.Equal(t, 1, summary.Delivered)
	assert.Equal(t, 0, summary.Failed)

	rec, err := distRepo.Get(context.Background(), "u1", "a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, market.StateDelivered, rec.State)
}

func TestDistributeCapsSelectionAtTierWeightScenarioD(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram"}

	opps := func(n int, prefix string) []market.Opportunity {
		var out []market.Opportunity
		for i := 0; i < n; i++ {
			out = append(out, testOpp(prefix+string(rune('a'+i)), "BTCUSDT", 0.9-float64(i)*0.01, now, now.Add(time.Hour)))
		}
		return out
	}

	var limits config.RateLimitsConfig
	limits.Free.PerMinute, limits.Free.PerHour, limits.Free.PerDay = 100, 100, 100
	limits.Premium.PerMinute, limits.Premium.PerHour, limits.Premium.PerDay = 100, 100, 100
	limits.Enterprise.PerMinute, limits.Enterprise.PerHour, limits.Enterprise.PerDay = 100, 100, 100
	sched := New(limits, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: now}, 30*time.Second)

	queues := []UserQueue{
		{UserID: "free0", Tier: market.TierFree, Channel: "telegram", Ranked: opps(20, "f")},         // weight 1
		{UserID: "premium0", Tier: market.TierPremium, Channel: "telegram", Ranked: opps(20, "p")},    // weight 5
		{UserID: "enterprise0", Tier: market.TierEnterprise, Channel: "telegram", Ranked: opps(20, "e")}, // weight 10
	}

	summary := sched.Distribute(context.Background(), queues, now)
	// free(1) + premium(5) + enterprise(10) = 16 delivered, each capped by their weight
	assert.Equal(t, 16, summary.Delivered)
}

func TestDistributeAtMostOnceWithinSameCycleScenarioE(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram"}
	sched := New(config.RateLimitsConfig{}, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: now}, 30*time.Second)

	o := testOpp("dup", "BTCUSDT", 0.9, now, now.Add(time.Minute))
	queue := UserQueue{UserID: "u1", Tier: market.TierAdmin, Channel: "telegram", Ranked: []market.Opportunity{o, o}}

	summary := sched.Distribute(context.Background(), []UserQueue{queue}, now)
	assert.Equal(t, 1, summary.Delivered)
	assert.Equal(t, 1, summary.Duplicate)

	rec, err := distRepo.Get(context.Background(), "u1", "dup")
	require.NoError(t, err)
	assert.Equal(t, market.StateDelivered, rec.State)
}

func TestDistributeExpiresOverdueRateLimitedRecordScenarioF(t *testing.T) {
	t0 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram"}

	limits := config.RateLimitsConfig{} // default zero tierLimits: TierFree's PerMinute of 0 rate-limits every attempt
	sched := New(limits, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: t0}, 30*time.Second)

	o := testOpp("ttl60", "BTCUSDT", 0.9, t0, t0.Add(60*time.Second))
	queue := UserQueue{UserID: "u1", Tier: market.TierFree, Channel: "telegram", Ranked: []market.Opportunity{o}}

	// TierFree has PerMinute: 0 in a zero-value RateLimitsConfig, so the
	// very first attempt is already rate-limited — enqueue happens, delivery doesn't.
	summary := sched.Distribute(context.Background(), []UserQueue{queue}, t0)
	assert.Equal(t, 1, summary.RateLimited)
	assert.Equal(t, 0, summary.Delivered)

	rec, err := distRepo.Get(context.Background(), "u1", "ttl60")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, market.StatePending, rec.State)

	t60 := t0.Add(60 * time.Second)
	sched2 := New(limits, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: t60}, 30*time.Second)
	summary2 := sched2.Distribute(context.Background(), nil, t60)
	assert.Equal(t, 1, summary2.Expired)

	rec, err = distRepo.Get(context.Background(), "u1", "ttl60")
	require.NoError(t, err)
	assert.Equal(t, market.StateExpired, rec.State)
}

func TestDistributeFallsBackWithAIMDOnChannelFailure(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram", failAll: true}
	sched := New(config.RateLimitsConfig{}, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: now}, 30*time.Second)

	o := testOpp("fails", "BTCUSDT", 0.9, now, now.Add(time.Minute))
	queue := UserQueue{UserID: "u1", Tier: market.TierAdmin, Channel: "telegram", Ranked: []market.Opportunity{o}}

	summary := sched.Distribute(context.Background(), []UserQueue{queue}, now)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Delivered)

	win := sched.windowFor("telegram")
	assert.Less(t, win.Window(), float64(4), "a Deliver failure should shrink the congestion window below its initial value")

	rec, err := distRepo.Get(context.Background(), "u1", "fails")
	require.NoError(t, err)
	assert.Equal(t, market.StatePending, rec.State, "a failed delivery leaves the record Pending for retry")
}

func TestDistributeOrdersSelectionByExpiryWithinCycle(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	rateRepo := newFakeRateLimiter()
	distRepo := newFakeDistributionStore()
	channel := &fakeChannel{name: "telegram"}
	sched := New(config.RateLimitsConfig{}, rateRepo, distRepo, []market.ChannelAdapter{channel}, market.FixedClock{T: now}, 30*time.Second)

	soon := testOpp("soon", "BTCUSDT", 0.7, now, now.Add(10*time.Second))
	later := testOpp("later", "ETHUSDT", 0.95, now, now.Add(time.Hour))
	queue := UserQueue{UserID: "u1", Tier: market.TierAdmin, Channel: "telegram", Ranked: []market.Opportunity{later, soon}}

	sched.Distribute(context.Background(), []UserQueue{queue}, now)

	channel.mu.Lock()
	defer channel.mu.Unlock()
	require.Len(t, channel.delivered, 2)
	assert.Equal(t, "u1|soon", channel.delivered[0], "soonest-expiring opportunity should be emitted first even though it ranked lower")
}
