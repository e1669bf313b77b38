// Package schedule implements DistributionScheduler (spec section 4.5):
// weighted round-robin fairness across users, per-user sliding-window rate
// limits, at-most-once delivery via the DistributionRecord state machine,
// and AIMD backpressure against channel adapters.
package schedule

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/store"
)

// RateLimiter is the subset of store.RateLimitRepo the scheduler needs;
// narrowed to an interface so tests can fake it without a live database.
type RateLimiter interface {
	Get(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error)
	Increment(ctx context.Context, userID string, window market.Window, now time.Time) (market.RateBudget, error)
}

// DistributionStore is the subset of store.DistributionRepo the scheduler
// needs.
type DistributionStore interface {
	Insert(ctx context.Context, rec market.DistributionRecord, retentionUntil time.Time) error
	Get(ctx context.Context, userID, opportunityID string) (*market.DistributionRecord, error)
	UpdateState(ctx context.Context, userID, opportunityID string, state market.DeliveryState, deliveredAt *time.Time) error
	ListExpiredPending(ctx context.Context, now time.Time) ([]market.DistributionRecord, error)
}

// UserQueue is one user's AIEnhancer-ranked candidate slice for this cycle,
// most relevant first.
type UserQueue struct {
	UserID  string
	Tier    market.Tier
	Channel string
	Ranked  []market.Opportunity
}

// Summary tallies one Distribute call's outcomes for the engine-level tick
// report (spec section 7: capacity/contract events are counted, not
// treated as errors to the caller).
type Summary struct {
	Delivered   int
	Duplicate   int
	RateLimited int
	Deferred    int
	Expired     int
	Failed      int
}

// Scheduler is DistributionScheduler.
type Scheduler struct {
	limits            config.RateLimitsConfig
	rateRepo          RateLimiter
	distRepo          DistributionStore
	channels          map[string]market.ChannelAdapter
	clock             market.Clock
	redeliveryHorizon time.Duration

	mu          sync.Mutex
	windows     map[string]*congestionWindow
	inflight    map[string]int
	emitCeiling int
}

// New builds a Scheduler. channels is indexed by ChannelAdapter.Name().
// redeliveryHorizon is config.EngineConfig.RedeliveryHorizon() (spec
// section 4.5's "in-flight with age < redelivery_horizon, drop").
func New(limits config.RateLimitsConfig, rateRepo RateLimiter, distRepo DistributionStore, channels []market.ChannelAdapter, clock market.Clock, redeliveryHorizon time.Duration) *Scheduler {
	if clock == nil {
		clock = market.SystemClock{}
	}
	byName := make(map[string]market.ChannelAdapter, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	return &Scheduler{
		limits:            limits,
		rateRepo:          rateRepo,
		distRepo:          distRepo,
		channels:          byName,
		clock:             clock,
		redeliveryHorizon: redeliveryHorizon,
		windows:           make(map[string]*congestionWindow),
		inflight:          make(map[string]int),
	}
}

// Distribute runs one cycle: expires any Pending record whose opportunity
// lapsed since the last cycle (Scenario F), then for every user queue takes
// up to the tier's weighted-round-robin slot count, orders that selection
// by soonest-expiring-first (spec section 4.5's "expiry-priority-within-
// cycle ordering"), and attempts delivery for each.
func (s *Scheduler) Distribute(ctx context.Context, queues []UserQueue, now time.Time) Summary {
	summary := Summary{}
	s.expireOverdue(ctx, now, &summary)

	for _, q := range queues {
		weight := config.Weight(q.Tier)
		selected := byExpiryThenRank(topN(q.Ranked, weight))
		for _, o := range selected {
			s.processOne(ctx, q, o, now, &summary)
		}
	}
	return summary
}

func (s *Scheduler) expireOverdue(ctx context.Context, now time.Time, summary *Summary) {
	records, err := s.distRepo.ListExpiredPending(ctx, now)
	if err != nil {
		return
	}
	for _, rec := range records {
		if err := s.distRepo.UpdateState(ctx, rec.UserID, rec.OpportunityID, market.StateExpired, nil); err != nil {
			continue
		}
		summary.Expired++
	}
}

func (s *Scheduler) processOne(ctx context.Context, q UserQueue, o market.Opportunity, now time.Time, summary *Summary) {
	channel, ok := s.channels[q.Channel]
	if !ok {
		summary.Failed++
		return
	}

	existing, err := s.distRepo.Get(ctx, q.UserID, o.ID)
	if err != nil {
		summary.Failed++
		return
	}
	if existing != nil && existing.State.IsTerminal() {
		summary.Duplicate++
		return
	}
	if existing != nil && now.Sub(existing.EnqueuedAt) < s.redeliveryHorizon {
		summary.Duplicate++
		return
	}

	if existing == nil {
		rec := market.DistributionRecord{
			UserID:        q.UserID,
			OpportunityID: o.ID,
			Channel:       q.Channel,
			State:         market.StatePending,
			EnqueuedAt:    now,
			ExpiresAt:     o.ExpiresAt,
		}
		if err := s.distRepo.Insert(ctx, rec, rec.RetentionUntil(o.ExpiresAt.Sub(o.DetectedAt))); err != nil {
			if errors.Is(err, store.ErrAlreadyRecorded) {
				summary.Duplicate++
				return
			}
			summary.Failed++
			return
		}
	}

	if !s.withinRateLimit(ctx, q.UserID, q.Tier, now) {
		summary.RateLimited++
		return
	}

	win := s.windowFor(q.Channel)
	if !s.acquireSlot(q.Channel, win) {
		summary.Deferred++
		return
	}
	defer s.releaseSlot(q.Channel)

	if err := channel.Deliver(ctx, q.UserID, o); err != nil {
		win.OnFailure()
		summary.Failed++
		return
	}
	win.OnSuccess()

	if err := s.distRepo.UpdateState(ctx, q.UserID, o.ID, market.StateDelivered, &now); err != nil {
		summary.Failed++
		return
	}
	summary.Delivered++
}

// withinRateLimit checks every window before committing any increment, so
// a rejection on the day window never leaves the minute/hour counters
// incremented for a delivery that didn't happen.
func (s *Scheduler) withinRateLimit(ctx context.Context, userID string, tier market.Tier, now time.Time) bool {
	limits := s.limits.For(tier)
	windows := [...]market.Window{market.WindowMinute, market.WindowHour, market.WindowDay}

	for _, w := range windows {
		limit := limits.LimitFor(w)
		if limit < 0 {
			continue
		}
		budget, err := s.rateRepo.Get(ctx, userID, w, now)
		if err != nil {
			return false
		}
		if budget.Replenished(now).Count+1 > limit {
			return false
		}
	}

	for _, w := range windows {
		if limits.LimitFor(w) < 0 {
			continue
		}
		if _, err := s.rateRepo.Increment(ctx, userID, w, now); err != nil {
			return false
		}
	}
	return true
}

func (s *Scheduler) windowFor(channel string) *congestionWindow {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[channel]
	if !ok {
		ceiling := s.emitCeiling
		if ceiling <= 0 {
			ceiling = 64
		}
		w = newCongestionWindow(4, 1, float64(ceiling))
		s.windows[channel] = w
	}
	return w
}

// WithEmitCeiling caps the per-channel congestion window's growth at n
// (spec.md section 5's max_inflight_emit), for channels not yet seen by
// windowFor. Returns s for chaining at construction time.
func (s *Scheduler) WithEmitCeiling(n int) *Scheduler {
	s.emitCeiling = n
	return s
}

func (s *Scheduler) acquireSlot(channel string, win *congestionWindow) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inflight := s.inflight[channel]
	if !win.Allow(inflight) {
		return false
	}
	s.inflight[channel] = inflight + 1
	return true
}

func (s *Scheduler) releaseSlot(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight[channel]--
}

func topN(opportunities []market.Opportunity, n int) []market.Opportunity {
	if n <= 0 || n >= len(opportunities) {
		return append([]market.Opportunity(nil), opportunities...)
	}
	return append([]market.Opportunity(nil), opportunities[:n]...)
}

func byExpiryThenRank(selected []market.Opportunity) []market.Opportunity {
	out := append([]market.Opportunity(nil), selected...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}
