// Package detect turns a market snapshot into candidate opportunities.
// Detection is a pure function: no I/O, no logging, no clock reads beyond
// the "now" it's handed. The engine that calls it owns all ambient
// concerns (logging, metrics) around the call.
package detect

import (
	"math"
	"sort"
	"time"

	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/market"
)

// Detector finds Arbitrage and FundingRate candidates in a snapshot.
type Detector struct {
	cfg config.EngineConfig
}

// New builds a Detector from the engine's detection thresholds.
func New(cfg config.EngineConfig) *Detector {
	return &Detector{cfg: cfg}
}

// Detect evaluates every pair in the snapshot against the arbitrage and
// funding-rate rules, returning opportunities sorted by confidence desc,
// then detected_at asc, then fingerprint asc for determinism.
func (d *Detector) Detect(snap market.MarketSnapshot, now time.Time) []market.Opportunity {
	var out []market.Opportunity

	for _, points := range snap.ByPair() {
		out = append(out, d.detectArbitrage(points, now)...)
		out = append(out, d.detectFundingRate(points, now)...)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})

	return out
}

// detectArbitrage checks every ordered pair of distinct exchanges observing
// the same pair within max_cross_lag_ms. Only one direction of a given
// unordered pair can be profitable, so both directions are tried and whichever
// clears the threshold is emitted.
func (d *Detector) detectArbitrage(points []market.PricePoint, now time.Time) []market.Opportunity {
	var out []market.Opportunity
	maxLag := time.Duration(d.cfg.MaxCrossLagMS) * time.Millisecond

	for i := range points {
		for j := range points {
			if i == j {
				continue
			}
			long, short := points[i], points[j]
			if long.Exchange == short.Exchange {
				continue
			}
			lag := long.ObservedAt.Sub(short.ObservedAt)
			if lag < 0 {
				lag = -lag
			}
			if lag > maxLag {
				continue
			}

			mid := (long.Bid + short.Ask) / 2
			if mid <= 0 {
				continue
			}
			spreadBps := (short.Ask - long.Bid) / mid * 1e4
			if spreadBps < d.cfg.MinSpreadBps {
				continue
			}
			if long.Volume24h < d.cfg.MinVolume || short.Volume24h < d.cfg.MinVolume {
				continue
			}

			profitBps := (short.Bid - long.Ask) / mid * 1e4

			exchanges := []string{long.Exchange, short.Exchange}
			staleness := maxStalenessMS(now, long.ObservedAt, short.ObservedAt)
			confidence := d.arbitrageConfidence(spreadBps, staleness, long.Volume24h, short.Volume24h)

			id := market.Fingerprint(market.KindArbitrage, exchanges, long.Pair, now, d.cfg.FingerprintBucketSeconds, mid)

			out = append(out, market.Opportunity{
				ID:                id,
				Kind:              market.KindArbitrage,
				DetectedAt:        now,
				ExpiresAt:         now.Add(d.cfg.ArbitrageTTL()),
				Confidence:        confidence,
				SourceStalenessMS: staleness,
				RawVolumeScore:    volumeScore(long.Volume24h, short.Volume24h),
				Arbitrage: &market.ArbitrageDetails{
					Pair:          long.Pair,
					LongExchange:  long.Exchange,
					ShortExchange: short.Exchange,
					LongPrice:     long.Ask,
					ShortPrice:    short.Bid,
					SpreadBps:     spreadBps,
					EstProfitBps:  profitBps,
				},
			})
		}
	}

	return out
}

// detectFundingRate emits one candidate per point whose funding rate clears
// the threshold and whose next funding falls inside the configured horizon.
func (d *Detector) detectFundingRate(points []market.PricePoint, now time.Time) []market.Opportunity {
	var out []market.Opportunity
	horizon := time.Duration(d.cfg.FundingHorizonSeconds) * time.Second

	for _, p := range points {
		if p.FundingRate == nil || p.NextFunding == nil {
			continue
		}
		rate := *p.FundingRate
		if math.Abs(rate) < d.cfg.MinFundingRate {
			continue
		}
		if p.NextFunding.After(now.Add(horizon)) {
			continue
		}

		staleness := maxStalenessMS(now, p.ObservedAt)
		confidence := d.fundingConfidence(rate, staleness)

		id := market.Fingerprint(market.KindFundingRate, []string{p.Exchange}, p.Pair, now, d.cfg.FingerprintBucketSeconds, p.Mid())

		out = append(out, market.Opportunity{
			ID:                id,
			Kind:              market.KindFundingRate,
			DetectedAt:        now,
			ExpiresAt:         *p.NextFunding,
			Confidence:        confidence,
			SourceStalenessMS: staleness,
			RawVolumeScore:    volumeScore(p.Volume24h),
			FundingRate: &market.FundingRateDetails{
				Pair:        p.Pair,
				Exchange:    p.Exchange,
				FundingRate: rate,
				NextFunding: *p.NextFunding,
			},
		})
	}

	return out
}

// arbitrageConfidence combines a staleness penalty, volume sufficiency, and
// the spread's excess over the minimum threshold. Weights are chosen so no
// single factor can saturate confidence to a fixed value on its own,
// keeping the "never fixed 0.50" property testable.
func (d *Detector) arbitrageConfidence(spreadBps float64, stalenessMS int64, volumes ...float64) float64 {
	excess := 0.0
	if d.cfg.MinSpreadBps > 0 {
		excess = clamp01((spreadBps-d.cfg.MinSpreadBps)/d.cfg.MinSpreadBps, 1)
	}
	return clampConfidence(0.5 + excess*0.3 + d.volumeBonus(volumes...) - d.stalenessPenalty(stalenessMS))
}

// fundingConfidence combines a staleness penalty with the funding rate's
// excess over the minimum threshold.
func (d *Detector) fundingConfidence(rate float64, stalenessMS int64) float64 {
	excess := 0.0
	if d.cfg.MinFundingRate > 0 {
		excess = clamp01((math.Abs(rate)-d.cfg.MinFundingRate)/d.cfg.MinFundingRate, 1)
	}
	return clampConfidence(0.5 + excess*0.3 - d.stalenessPenalty(stalenessMS))
}

// stalenessPenalty scales linearly from 0 at 0ms to 0.4 at 30s and beyond.
func (d *Detector) stalenessPenalty(ms int64) float64 {
	const fullPenaltyMS = 30_000
	return clamp01(float64(ms)/fullPenaltyMS, 1) * 0.4
}

// volumeBonus scales from 0 to 0.2 as both sides' volume clears 5x the
// configured minimum.
func (d *Detector) volumeBonus(volumes ...float64) float64 {
	if d.cfg.MinVolume <= 0 {
		return 0.2
	}
	min := volumes[0]
	for _, v := range volumes[1:] {
		if v < min {
			min = v
		}
	}
	return clamp01(min/(d.cfg.MinVolume*5), 1) * 0.2
}

func clamp01(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func clampConfidence(v float64) float64 {
	if v < 0.10 {
		return 0.10
	}
	if v > 0.95 {
		return 0.95
	}
	return v
}

func maxStalenessMS(now time.Time, observedAt ...time.Time) int64 {
	var max int64
	for _, t := range observedAt {
		age := now.Sub(t).Milliseconds()
		if age > max {
			max = age
		}
	}
	return max
}

func volumeScore(volumes ...float64) float64 {
	var sum float64
	for _, v := range volumes {
		sum += v
	}
	return sum / float64(len(volumes))
}
