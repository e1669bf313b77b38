package market

import (
	"context"
	"time"
)

// Clock is the single source of time inside the core. No component reaches
// for time.Now() directly; everything threads a Clock through its
// constructor, mirroring how the teacher threads *db.DB and loggers rather
// than using package-level globals.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock backed by the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock is a deterministic Clock for tests.
type FixedClock struct{ T time.Time }

func (c FixedClock) Now() time.Time { return c.T }

// MarketDataSource is the capability DataSourceManager's tiers implement
// and the engine consumes; spec section 6.
type MarketDataSource interface {
	FetchPairs(ctx context.Context, pairs []string, deadline time.Time) (MarketSnapshot, error)
}

// UserDirectory is the capability that lists subscribed users and their
// preferences; implemented by the (out of scope) user-profile collaborator.
type UserDirectory interface {
	ListSubscribedUsers(ctx context.Context, filter UserFilter) ([]string, error)
	GetPreferences(ctx context.Context, userID string) (UserPreferences, error)
}

// UserFilter narrows ListSubscribedUsers; empty value means "all".
type UserFilter struct {
	Tier Tier
}

// RankingResponse is what an AIModelRouter returns: a ranked subset of the
// opportunity ids it was given, with per-id scores.
type RankingResponse struct {
	Scores map[string]float64 // opportunity id -> score in [0,1]
}

// AIModelRouter is the capability AIEnhancer calls into for model-driven
// ranking, with a bounded latency budget (spec section 4.4).
type AIModelRouter interface {
	Rank(ctx context.Context, prompt string, deadline time.Time) (RankingResponse, error)
}

// ChannelAdapter is the capability DistributionScheduler emits deliveries
// through. Returns immediately with an acknowledgment; actual transport is
// adapter-internal (spec section 6).
type ChannelAdapter interface {
	Name() string
	Deliver(ctx context.Context, userID string, o Opportunity) error
}
