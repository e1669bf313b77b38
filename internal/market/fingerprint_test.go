package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	detectedAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	a := Fingerprint(KindArbitrage, []string{"binance", "coinbase"}, "BTCUSDT", detectedAt, 60, 30050)
	b := Fingerprint(KindArbitrage, []string{"coinbase", "binance"}, "BTCUSDT", detectedAt, 60, 30052)

	assert.Equal(t, a, b, "exchange order and small price drift within the same tier must collapse to one id")
}

func TestFingerprintBucketsSeparateMinutes(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(90 * time.Second)

	a := Fingerprint(KindArbitrage, []string{"binance", "coinbase"}, "BTCUSDT", t1, 60, 30050)
	b := Fingerprint(KindArbitrage, []string{"binance", "coinbase"}, "BTCUSDT", t2, 60, 30050)

	assert.NotEqual(t, a, b, "detections more than one bucket apart must not collapse")
}

func TestFingerprintDifferentPairsDiffer(t *testing.T) {
	detectedAt := time.Now()
	a := Fingerprint(KindArbitrage, []string{"binance", "coinbase"}, "BTCUSDT", detectedAt, 60, 30050)
	b := Fingerprint(KindArbitrage, []string{"binance", "coinbase"}, "ETHUSDT", detectedAt, 60, 30050)
	assert.NotEqual(t, a, b)
}

func TestOpportunityValidate(t *testing.T) {
	now := time.Now()
	valid := Opportunity{
		Kind:       KindArbitrage,
		DetectedAt: now,
		ExpiresAt:  now.Add(time.Minute),
		Confidence: 0.5,
		Arbitrage:  &ArbitrageDetails{Pair: "BTCUSDT"},
	}
	assert.NoError(t, valid.Validate())

	badTTL := valid
	badTTL.ExpiresAt = now
	assert.ErrorIs(t, badTTL.Validate(), ErrContractViolation)

	badConfidence := valid
	badConfidence.Confidence = 0.05
	assert.ErrorIs(t, badConfidence.Validate(), ErrContractViolation)

	missingDetails := valid
	missingDetails.Arbitrage = nil
	assert.ErrorIs(t, missingDetails.Validate(), ErrContractViolation)
}
