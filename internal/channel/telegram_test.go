package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arbedge/opportunity-engine/internal/market"
)

type fakeChatResolver struct {
	chatID int64
	err    error
}

func (f fakeChatResolver) ChatIDFor(ctx context.Context, userID string) (int64, error) {
	return f.chatID, f.err
}

func TestFormatOpportunityArbitrage(t *testing.T) {
	o := market.Opportunity{
		Kind:       market.KindArbitrage,
		Confidence: 0.75,
		Arbitrage: &market.ArbitrageDetails{
			Pair: "BTC-USDT", LongExchange: "binance", ShortExchange: "okx",
			LongPrice: 50010, ShortPrice: 50100, SpreadBps: 18, EstProfitBps: 15,
		},
	}
	text := formatOpportunity(o)
	assert.Contains(t, text, "BTC-USDT")
	assert.Contains(t, text, "binance")
	assert.Contains(t, text, "75%")
}

func TestFormatOpportunityFundingRate(t *testing.T) {
	o := market.Opportunity{
		Kind:       market.KindFundingRate,
		Confidence: 0.6,
		FundingRate: &market.FundingRateDetails{
			Pair: "ETH-USDT", Exchange: "bybit", FundingRate: 0.001,
			NextFunding: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC),
		},
	}
	text := formatOpportunity(o)
	assert.Contains(t, text, "ETH-USDT")
	assert.Contains(t, text, "bybit")
}

func TestTelegramChannelDeliverPropagatesResolverError(t *testing.T) {
	c := NewTelegramChannel(nil, fakeChatResolver{err: assertErr{}})
	err := c.Deliver(context.Background(), "u1", market.Opportunity{Kind: market.KindArbitrage, Arbitrage: &market.ArbitrageDetails{}})
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "no chat linked" }
