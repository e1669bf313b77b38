// Package engine implements OpportunityEngine (spec section 4.6): the
// orchestrator that drives one tick of the pipeline (fetch -> detect ->
// admit -> rank -> distribute) and exposes query() / record_interaction()
// to the API layer.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbedge/opportunity-engine/internal/cache"
	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/detect"
	"github.com/arbedge/opportunity-engine/internal/enhancer"
	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/obs"
	"github.com/arbedge/opportunity-engine/internal/schedule"
)

// DefaultChannel is the channel name used for a user queue when the
// directory doesn't express a per-user channel preference (market.
// UserPreferences carries no Channel field; spec section 6 treats channel
// selection as deployment-level routing, not a per-opportunity concern).
const DefaultChannel = "telegram"

// Engine is OpportunityEngine.
type Engine struct {
	cfg        config.EngineConfig
	dataSource market.MarketDataSource
	detector   *detect.Detector
	cache      *cache.Cache
	enhancer   *enhancer.AIEnhancer
	scheduler  *schedule.Scheduler
	users      market.UserDirectory
	clock      market.Clock
	metrics    *obs.Metrics
	log        zerolog.Logger

	defaultChannel string
	ticking        atomic.Bool
	aiSem          chan struct{}
	emitSem        chan struct{}
}

// New builds an Engine. clock and metrics may be nil to use the system clock
// and the process-wide registry.
func New(
	cfg config.EngineConfig,
	dataSource market.MarketDataSource,
	detector *detect.Detector,
	c *cache.Cache,
	enh *enhancer.AIEnhancer,
	sched *schedule.Scheduler,
	users market.UserDirectory,
	clock market.Clock,
	metrics *obs.Metrics,
	log zerolog.Logger,
) *Engine {
	if clock == nil {
		clock = market.SystemClock{}
	}
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	maxAI := cfg.MaxInflightAI
	if maxAI <= 0 {
		maxAI = 8
	}
	maxEmit := cfg.MaxInflightEmit
	if maxEmit <= 0 {
		maxEmit = 32
	}
	return &Engine{
		cfg:            cfg,
		dataSource:     dataSource,
		detector:       detector,
		cache:          c,
		enhancer:       enh,
		scheduler:      sched,
		users:          users,
		clock:          clock,
		metrics:        metrics,
		log:            log,
		defaultChannel: DefaultChannel,
		aiSem:          make(chan struct{}, maxAI),
		emitSem:        make(chan struct{}, maxEmit),
	}
}

// WithDefaultChannel overrides the channel name used when ranking user
// queues for Distribute. Returns e for chaining at construction time.
func (e *Engine) WithDefaultChannel(name string) *Engine {
	e.defaultChannel = name
	return e
}

// TickResult tallies one Tick's outcome for callers that want more than a
// bare error (cmd/engine's periodic driver logs this; internal/api's
// POST /tick handler returns it as the response body).
type TickResult struct {
	Skipped       bool
	Detected      int
	Admitted      int
	Deduped       int
	Distributed   int
	Expired       int
	FailedQueries int
}

// Tick runs one pipeline cycle: fetch a snapshot, detect opportunities,
// admit them into the cache, rank the live cache contents for every
// subscribed user, and distribute. Concurrent calls coalesce: a Tick
// already in flight makes a new call a no-op that returns immediately,
// mirroring the teacher's heartbeat/fallback atomic.Bool guards
// (internal/agents/heartbeat.go, internal/llm/fallback_test.go).
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	if !e.ticking.CompareAndSwap(false, true) {
		return TickResult{Skipped: true}, nil
	}
	defer e.ticking.Store(false)

	start := e.clock.Now()
	defer func() {
		e.metrics.TickDuration.Observe(e.clock.Now().Sub(start).Seconds())
	}()

	deadline := start.Add(e.cfg.TickInterval())
	snap, err := e.dataSource.FetchPairs(ctx, e.cfg.TrackedPairs, deadline)
	if err != nil {
		// spec section 4.6 failure policy: total data-source exhaustion
		// skips the tick and keeps serving whatever the cache already
		// holds, rather than failing the whole process.
		e.metrics.TickExhausted.Inc()
		e.log.Warn().Err(err).Msg("tick skipped: data source exhausted")
		return TickResult{Skipped: true}, nil
	}

	opportunities := e.detector.Detect(snap, start)
	e.metrics.TickDetected.Add(float64(len(opportunities)))

	result := TickResult{Detected: len(opportunities)}
	for _, o := range opportunities {
		admitResult, err := e.cache.Admit(o)
		if err != nil {
			// A Contract Violation is fatal for this opportunity only
			// (spec section 7); the tick continues with the rest.
			e.log.Error().Err(err).Str("opportunity_id", o.ID).Msg("admit rejected contract violation")
			continue
		}
		switch admitResult {
		case cache.Inserted:
			result.Admitted++
		case cache.Duplicate, cache.Superseded:
			result.Deduped++
		}
	}
	e.metrics.TickAdmitted.Add(float64(result.Admitted))
	e.metrics.TickDeduped.Add(float64(result.Deduped))

	summary, failedQueries := e.distribute(ctx, start)
	result.Distributed = summary.Delivered
	result.Expired = summary.Expired
	result.FailedQueries = failedQueries

	e.metrics.TickDistributed.Add(float64(summary.Delivered))
	e.metrics.TickExpired.Add(float64(summary.Expired))

	return result, nil
}

// distribute builds one UserQueue per subscribed user by ranking the
// cache's current live set through AIEnhancer, bounded by aiSem, then
// hands every queue to the scheduler in a single Distribute call so
// weighted-round-robin fairness and rate limiting see the whole cycle at
// once.
func (e *Engine) distribute(ctx context.Context, now time.Time) (schedule.Summary, int) {
	live := e.cache.List(cache.Filter{})
	if len(live) == 0 {
		return schedule.Summary{}, 0
	}

	userIDs, err := e.users.ListSubscribedUsers(ctx, market.UserFilter{})
	if err != nil {
		e.log.Error().Err(err).Msg("list subscribed users failed; skipping distribution")
		return schedule.Summary{}, 0
	}

	queues := make([]schedule.UserQueue, 0, len(userIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var failed int64

	for _, userID := range userIDs {
		userID := userID
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case e.aiSem <- struct{}{}:
			case <-ctx.Done():
				atomic.AddInt64(&failed, 1)
				return
			}
			defer func() { <-e.aiSem }()

			prefs, err := e.users.GetPreferences(ctx, userID)
			if err != nil {
				atomic.AddInt64(&failed, 1)
				return
			}

			ranked := e.enhancer.Rank(ctx, prefs, live, len(live))
			if len(ranked) == 0 {
				return
			}

			q := schedule.UserQueue{
				UserID:  userID,
				Tier:    prefs.Tier,
				Channel: e.defaultChannel,
				Ranked:  ranked,
			}
			mu.Lock()
			queues = append(queues, q)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Deterministic processing order keeps Distribute's weighted
	// round-robin reproducible across identical inputs (tests, replay).
	sort.Slice(queues, func(i, j int) bool { return queues[i].UserID < queues[j].UserID })

	return e.scheduler.Distribute(ctx, queues, now), int(failed)
}

// Query returns the live, TTL-filtered opportunities matching filter,
// narrowed to what userID's preferences allow when userID is non-empty.
// This is OpportunityEngine.query() (spec section 4.6).
func (e *Engine) Query(ctx context.Context, filter cache.Filter, userID string) ([]market.Opportunity, error) {
	all := e.cache.List(filter)
	if userID == "" {
		return all, nil
	}

	prefs, err := e.users.GetPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for %s: %w", userID, err)
	}
	return enhancer.FilterByPreferences(prefs, all), nil
}

// RecordInteraction is OpportunityEngine.record_interaction() (spec
// section 4.6): it updates the user's personalization state asynchronously
// and never blocks the caller on it.
func (e *Engine) RecordInteraction(userID, opportunityID string, kind market.InteractionKind) error {
	o, ok := e.cache.Get(opportunityID)
	if !ok {
		return fmt.Errorf("opportunity %s not found or expired", opportunityID)
	}
	e.enhancer.RecordInteraction(userID, o, kind)
	return nil
}
