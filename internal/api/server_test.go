package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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
	"github.com/arbedge/opportunity-engine/internal/engine"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/schedule"
)

type fakeDataSource struct{ snap market.MarketSnapshot }

func (f fakeDataSource) FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (market.MarketSnapshot, error) {
	return f.snap, nil
}

type fakeUserDirectory struct {
	users map[string]market.UserPreferences
}

func (f fakeUserDirectory) ListSubscribedUsers(ctx context.Context, filter market.UserFilter) ([]string, error) {
	var out []string
	for id := range f.users {
		out = append(out, id)
	}
	return out, nil
}

func (f fakeUserDirectory) GetPreferences(ctx context.Context, userID string) (market.UserPreferences, error) {
	return f.users[userID], nil
}

type fakeRateLimiter struct{}

func (fakeRateLimiter) Get(ctx context.Context, userID string, w market.Window, now time.Time) (market.RateBudget, error) {
	return market.RateBudget{UserID: userID, Window: w, WindowStart: now}, nil
}

func (fakeRateLimiter) Increment(ctx context.Context, userID string, w market.Window, now time.Time) (market.RateBudget, error) {
	return market.RateBudget{UserID: userID, Window: w, Count: 1, WindowStart: now}, nil
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
	cp := rec
	f.records[recKey(rec.UserID, rec.OpportunityID)] = &cp
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
	if rec, ok := f.records[recKey(userID, opportunityID)]; ok {
		rec.State = state
		rec.DeliveredAt = deliveredAt
	}
	return nil
}

func (f *fakeDistributionStore) ListExpiredPending(ctx context.Context, now time.Time) ([]market.DistributionRecord, error) {
	return nil, nil
}

type fakeChannel struct{ name string }

func (c fakeChannel) Name() string { return c.name }

func (c fakeChannel) Deliver(ctx context.Context, userID string, o market.Opportunity) error {
	return nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := market.FixedClock{T: now}

	cfg := config.EngineConfig{
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

	snap := market.MarketSnapshot{
		TakenAt: now,
		Points: []market.PricePoint{
			{Exchange: "binance", Pair: "BTC-USDT", Bid: 50000, Ask: 50010, Volume24h: 100000, ObservedAt: now},
			{Exchange: "okx", Pair: "BTC-USDT", Bid: 50100, Ask: 50110, Volume24h: 100000, ObservedAt: now},
		},
	}

	det := detect.New(cfg)
	c := cache.New(cfg.CapPerPair, 4, 64, clock)
	enh := enhancer.New(config.AIConfig{DeadlineMS: 500, MinConfidence: 0.5}, nil, nil, clock)

	rateLimits := config.RateLimitsConfig{}
	rateLimits.Free.PerMinute = 100
	rateLimits.Free.PerHour = 1000
	rateLimits.Free.PerDay = 10000

	sched := schedule.New(rateLimits, fakeRateLimiter{}, newFakeDistributionStore(), []market.ChannelAdapter{fakeChannel{name: engine.DefaultChannel}}, clock, 30*time.Second)

	users := fakeUserDirectory{users: map[string]market.UserPreferences{
		"u1": {UserID: "u1", Tier: market.TierFree, MinConfidence: 0.1},
	}}

	eng := engine.New(cfg, fakeDataSource{snap: snap}, det, c, enh, sched, users, clock, nil, zerolog.Nop())

	return New(config.APIConfig{Host: "127.0.0.1", Port: 0}, eng, nil, zerolog.Nop())
}

func TestHandleHealth(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTickThenListOpportunities(t *testing.T) {
	s := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tick", nil)
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/opportunities", nil)
	s.router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	var body struct {
		Opportunities []market.Opportunity `json:"opportunities"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &body))
	require.Len(t, body.Opportunities, 1)
}

func TestHandleRecordInteractionNotFound(t *testing.T) {
	s := testServer(t)

	payload, _ := json.Marshal(interactionRequest{UserID: "u1", OpportunityID: "missing", Kind: "viewed"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRecordInteractionInvalidKind(t *testing.T) {
	s := testServer(t)

	payload, _ := json.Marshal(interactionRequest{UserID: "u1", OpportunityID: "x", Kind: "bogus"})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/interactions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
