// Package market defines the shared data model for the Opportunity Engine:
// price points and snapshots ingested from exchanges, the closed
// Opportunity variant produced by detection, user preferences, and the
// persisted distribution/rate-limit records that track delivery.
package market

import (
	"fmt"
	"sort"
	"time"
)

// PricePoint is a single observation of one trading pair on one exchange.
type PricePoint struct {
	Exchange    string    `json:"exchange"`
	Pair        string    `json:"pair"`
	Bid         float64   `json:"bid"`
	Ask         float64   `json:"ask"`
	Last        float64   `json:"last"`
	Volume24h   float64   `json:"volume_24h"`
	FundingRate *float64  `json:"funding_rate,omitempty"`
	NextFunding *time.Time `json:"next_funding_at,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Mid returns the midpoint price between bid and ask.
func (p PricePoint) Mid() float64 {
	return (p.Bid + p.Ask) / 2
}

// MarketSnapshot is an immutable set of price points acquired at one instant.
// observed_at on each point is non-decreasing per (exchange, pair) across
// snapshots produced by the same DataSourceManager; taken_at is the single
// wall-clock acquisition time for the whole snapshot.
type MarketSnapshot struct {
	Points  []PricePoint
	TakenAt time.Time
}

// MaxStalenessMS returns max(now - observed_at) across all points, in
// milliseconds, per spec's freshness policy.
func (s MarketSnapshot) MaxStalenessMS(now time.Time) int64 {
	var max int64
	for _, p := range s.Points {
		age := now.Sub(p.ObservedAt).Milliseconds()
		if age > max {
			max = age
		}
	}
	return max
}

// ByPair groups snapshot points by trading pair.
func (s MarketSnapshot) ByPair() map[string][]PricePoint {
	out := make(map[string][]PricePoint)
	for _, p := range s.Points {
		out[p.Pair] = append(out[p.Pair], p)
	}
	return out
}

// Kind discriminates the two Opportunity variants. The variant set is
// closed: adding one means touching every exhaustive switch below and in
// internal/detect, internal/cache, internal/enhancer, internal/schedule.
type Kind string

const (
	KindArbitrage   Kind = "arbitrage"
	KindFundingRate Kind = "funding_rate"
)

// ArbitrageDetails holds the fields specific to an Arbitrage opportunity.
type ArbitrageDetails struct {
	Pair          string  `json:"pair"`
	LongExchange  string  `json:"long_exchange"`
	ShortExchange string  `json:"short_exchange"`
	LongPrice     float64 `json:"long_price"`
	ShortPrice    float64 `json:"short_price"`
	SpreadBps     float64 `json:"spread_bps"`
	EstProfitBps  float64 `json:"est_profit_bps"`
}

// FundingRateDetails holds the fields specific to a FundingRate opportunity.
type FundingRateDetails struct {
	Pair        string    `json:"pair"`
	Exchange    string    `json:"exchange"`
	FundingRate float64   `json:"funding_rate"`
	NextFunding time.Time `json:"next_funding_at"`
}

// Opportunity is the closed tagged variant from spec section 3. Exactly one
// of Arbitrage / FundingRate is populated, selected by Kind.
type Opportunity struct {
	ID                string  `json:"id"`
	Kind              Kind    `json:"kind"`
	DetectedAt        time.Time `json:"detected_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Confidence        float64 `json:"confidence"`
	SourceStalenessMS int64   `json:"source_staleness_ms"`
	RawVolumeScore    float64 `json:"raw_volume_score"`

	Arbitrage   *ArbitrageDetails   `json:"arbitrage,omitempty"`
	FundingRate *FundingRateDetails `json:"funding_rate,omitempty"`
}

// Pair returns the trading pair for whichever variant is populated.
func (o Opportunity) Pair() string {
	switch o.Kind {
	case KindArbitrage:
		return o.Arbitrage.Pair
	case KindFundingRate:
		return o.FundingRate.Pair
	default:
		return ""
	}
}

// Exchanges returns the canonically (lexicographically) sorted set of
// exchanges involved in this opportunity.
func (o Opportunity) Exchanges() []string {
	var ex []string
	switch o.Kind {
	case KindArbitrage:
		ex = []string{o.Arbitrage.LongExchange, o.Arbitrage.ShortExchange}
	case KindFundingRate:
		ex = []string{o.FundingRate.Exchange}
	}
	sort.Strings(ex)
	return ex
}

// Validate enforces the header invariants from spec section 3. A violation
// is a Contract Violation per spec section 7: fatal for the tick that
// produced it, never silently accepted into the cache.
func (o Opportunity) Validate() error {
	if !o.ExpiresAt.After(o.DetectedAt) {
		return fmt.Errorf("%w: expires_at %s is not after detected_at %s", ErrContractViolation, o.ExpiresAt, o.DetectedAt)
	}
	if o.Confidence < 0.10 || o.Confidence > 0.95 {
		return fmt.Errorf("%w: confidence %f outside [0.10, 0.95]", ErrContractViolation, o.Confidence)
	}
	switch o.Kind {
	case KindArbitrage:
		if o.Arbitrage == nil {
			return fmt.Errorf("%w: arbitrage opportunity missing details", ErrContractViolation)
		}
	case KindFundingRate:
		if o.FundingRate == nil {
			return fmt.Errorf("%w: funding-rate opportunity missing details", ErrContractViolation)
		}
	default:
		return fmt.Errorf("%w: unknown opportunity kind %q", ErrContractViolation, o.Kind)
	}
	return nil
}

// IsExpired reports whether the opportunity must no longer be served.
func (o Opportunity) IsExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}
