package market

// Tier is a user subscription class. It also governs weighted round-robin
// scheduling slots and rate limits (internal/schedule).
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// Focus is a user's stated preference for the kind of opportunity they want
// surfaced; AIEnhancer uses it as a soft filter/ranking signal.
type Focus string

const (
	FocusArbitrage Focus = "arbitrage"
	FocusTechnical Focus = "technical"
	FocusHybrid    Focus = "hybrid"
)

// UserPreferences is read by AIEnhancer and DistributionScheduler, and
// mutated only by the user-profile collaborator (out of scope here).
type UserPreferences struct {
	UserID            string
	Tier              Tier
	Focus             Focus
	RiskTolerance     float64 // [0,1], 0 = risk-averse, 1 = risk-seeking
	MinConfidence     float64
	PairWhitelist     []string // nil/empty means no restriction
	ExchangeWhitelist []string
}

// AllowsPair reports whether the whitelist (if any) permits pair.
func (p UserPreferences) AllowsPair(pair string) bool {
	if len(p.PairWhitelist) == 0 {
		return true
	}
	for _, allowed := range p.PairWhitelist {
		if allowed == pair {
			return true
		}
	}
	return false
}

// AllowsExchanges reports whether the whitelist (if any) permits every
// exchange in exchanges.
func (p UserPreferences) AllowsExchanges(exchanges []string) bool {
	if len(p.ExchangeWhitelist) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(p.ExchangeWhitelist))
	for _, e := range p.ExchangeWhitelist {
		allowed[e] = true
	}
	for _, e := range exchanges {
		if !allowed[e] {
			return false
		}
	}
	return true
}

// RiskTier buckets RiskTolerance into the low/medium/high bands that drive
// the TTL overrides in spec section 4.2.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// RiskTierOf classifies a risk_tolerance value in [0,1].
func RiskTierOf(riskTolerance float64) RiskTier {
	switch {
	case riskTolerance < 0.34:
		return RiskLow
	case riskTolerance < 0.67:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// InteractionKind is what a user did with a surfaced opportunity; fed into
// AIEnhancer's personalization state asynchronously.
type InteractionKind string

const (
	InteractionViewed  InteractionKind = "viewed"
	InteractionActed   InteractionKind = "acted"
	InteractionIgnored InteractionKind = "ignored"
)
