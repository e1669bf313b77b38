package enhancer

import (
	"math"
	"sort"
	"time"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// localRank is the deterministic fallback ranker from spec.md section 4.4:
// for a fixed user state and input set it always produces the same order,
// combining detector confidence, a risk-tolerance-scaled penalty for
// high-risk items, and recency. Unlike the AI path it has no dependency on
// network state, so it's always available.
func localRank(user market.UserPreferences, opportunities []market.Opportunity, now time.Time) []market.Opportunity {
	type scored struct {
		o     market.Opportunity
		score float64
	}

	ranked := make([]scored, 0, len(opportunities))
	for _, o := range opportunities {
		ranked = append(ranked, scored{o: o, score: localScore(user, o, now)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].o.Confidence != ranked[j].o.Confidence {
			return ranked[i].o.Confidence > ranked[j].o.Confidence
		}
		return ranked[i].o.ID < ranked[j].o.ID
	})

	out := make([]market.Opportunity, len(ranked))
	for i, s := range ranked {
		out[i] = s.o
	}
	return out
}

func localScore(user market.UserPreferences, o market.Opportunity, now time.Time) float64 {
	score := o.Confidence

	if user.RiskTolerance < 0.5 {
		aversion := 0.5 - user.RiskTolerance
		score -= riskMagnitude(o) * aversion
	}

	age := now.Sub(o.DetectedAt)
	ttl := o.ExpiresAt.Sub(o.DetectedAt)
	if ttl > 0 {
		recency := 1 - clamp01(age.Seconds()/ttl.Seconds())
		score += recency * 0.1
	}

	return score
}

// riskMagnitude scores how "risky" an opportunity looks in [0,1]: a wide
// arbitrage spread or a large funding rate both indicate a move large
// enough that execution/slippage risk is elevated too.
func riskMagnitude(o market.Opportunity) float64 {
	switch o.Kind {
	case market.KindArbitrage:
		return clamp01(o.Arbitrage.SpreadBps / 200)
	case market.KindFundingRate:
		return clamp01(math.Abs(o.FundingRate.FundingRate) / 0.01)
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
