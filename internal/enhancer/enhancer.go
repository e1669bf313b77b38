// Package enhancer ranks a user's eligible opportunities, preferring a
// bounded-latency AI model call and falling back to a deterministic local
// ranker on timeout, circuit-open, or a low-confidence AI response.
package enhancer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/market"
)

// AIEnhancer is the AIEnhancer capability from spec.md section 4.4.
type AIEnhancer struct {
	router market.AIModelRouter // may be nil to force the local ranker only
	prefs  *PreferenceStore
	cfg    config.AIConfig
	clock  market.Clock

	breaker *gobreaker.CircuitBreaker
	budget  *tokenBudget
}

// New builds an AIEnhancer. router may be nil (local ranker only, useful
// for tests and for deployments with no configured model router).
func New(cfg config.AIConfig, router market.AIModelRouter, prefs *PreferenceStore, clock market.Clock) *AIEnhancer {
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &AIEnhancer{
		router: router,
		prefs:  prefs,
		cfg:    cfg,
		clock:  clock,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ai-model-router",
			MaxRequests: 2,
			Interval:    30 * time.Second,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
			},
		}),
		budget: newTokenBudget(cfg.DailyTokenBudget, cfg.PerUserTokenBudget, clock),
	}
}

// Rank returns up to k opportunities for user, most relevant first. Every
// candidate already satisfies user.MinConfidence and the pair/exchange
// whitelists before either ranking path sees it — spec.md section 4.4's
// filter invariants the AI path must respect hold by construction, not by
// the AI's cooperation.
func (e *AIEnhancer) Rank(ctx context.Context, user market.UserPreferences, opportunities []market.Opportunity, k int) []market.Opportunity {
	candidates := FilterByPreferences(user, opportunities)
	if len(candidates) == 0 {
		return nil
	}

	if e.router != nil {
		prompt := buildPrompt(user, candidates)
		if e.budget.Allow(user.UserID, estimateTokens(prompt)) {
			deadline := e.clock.Now().Add(e.cfg.Deadline())
			if ranked, ok := e.tryAI(ctx, prompt, candidates, deadline); ok {
				return topK(ranked, k)
			}
		}
	}

	return topK(localRank(user, candidates, e.clock.Now()), k)
}

// RecordInteraction updates user's personalization vector asynchronously;
// it never runs on the Rank request path.
func (e *AIEnhancer) RecordInteraction(userID string, o market.Opportunity, kind market.InteractionKind) {
	if e.prefs == nil {
		return
	}
	e.prefs.RecordInteraction(userID, o, kind)
}

// FilterByPreferences narrows opportunities to the ones user.MinConfidence
// and the pair/exchange whitelists permit. Exported so internal/engine's
// query path can apply the same filter without going through Rank.
func FilterByPreferences(user market.UserPreferences, opportunities []market.Opportunity) []market.Opportunity {
	var out []market.Opportunity
	for _, o := range opportunities {
		if o.Confidence < user.MinConfidence {
			continue
		}
		if !user.AllowsPair(o.Pair()) {
			continue
		}
		if !user.AllowsExchanges(o.Exchanges()) {
			continue
		}
		out = append(out, o)
	}
	return out
}

// tryAI calls the configured AIModelRouter behind a circuit breaker.
// Returns (nil, false) on timeout, breaker-open, transport error, or a
// response whose best score doesn't clear cfg.MinConfidence — all of which
// the caller treats identically: fall back to the local ranker.
func (e *AIEnhancer) tryAI(ctx context.Context, prompt string, candidates []market.Opportunity, deadline time.Time) ([]market.Opportunity, bool) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.router.Rank(ctx, prompt, deadline)
	})
	if err != nil {
		return nil, false
	}
	resp := result.(market.RankingResponse)

	type scored struct {
		o     market.Opportunity
		score float64
	}
	var ranked []scored
	maxScore := 0.0
	for _, o := range candidates {
		s, ok := resp.Scores[o.ID]
		if !ok {
			continue
		}
		ranked = append(ranked, scored{o, s})
		if s > maxScore {
			maxScore = s
		}
	}
	if len(ranked) == 0 || maxScore < e.cfg.MinConfidence {
		return nil, false
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].o.ID < ranked[j].o.ID
	})

	out := make([]market.Opportunity, len(ranked))
	for i, s := range ranked {
		out[i] = s.o
	}
	return out, true
}

func buildPrompt(user market.UserPreferences, candidates []market.Opportunity) string {
	prompt := fmt.Sprintf("rank opportunities for user %s (focus=%s, risk_tolerance=%.2f):\n", user.UserID, user.Focus, user.RiskTolerance)
	for _, o := range candidates {
		prompt += fmt.Sprintf("- id=%s kind=%s pair=%s confidence=%.2f\n", o.ID, o.Kind, o.Pair(), o.Confidence)
	}
	return prompt
}

func topK(opportunities []market.Opportunity, k int) []market.Opportunity {
	if k <= 0 || k >= len(opportunities) {
		return opportunities
	}
	return opportunities[:k]
}
