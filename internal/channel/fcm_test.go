package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/market"
)

type fakeDeviceDirectory struct {
	tokens []string
	err    error
}

func (f fakeDeviceDirectory) DeviceTokensFor(ctx context.Context, userID string) ([]string, error) {
	return f.tokens, f.err
}

func TestFCMChannelDeliverRejectsNoDevices(t *testing.T) {
	c := NewFCMChannel(nil, fakeDeviceDirectory{})
	err := c.Deliver(context.Background(), "u1", market.Opportunity{Kind: market.KindArbitrage, Arbitrage: &market.ArbitrageDetails{Pair: "BTC-USDT"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDownstream)
}

func TestFCMChannelDeliverPropagatesDirectoryError(t *testing.T) {
	c := NewFCMChannel(nil, fakeDeviceDirectory{err: assertErr{}})
	err := c.Deliver(context.Background(), "u1", market.Opportunity{Kind: market.KindArbitrage, Arbitrage: &market.ArbitrageDetails{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrDownstream)
}

func TestNotificationTextFundingRate(t *testing.T) {
	title, body := notificationText(market.Opportunity{
		Kind: market.KindFundingRate,
		FundingRate: &market.FundingRateDetails{
			Pair: "ETH-USDT", Exchange: "bybit", FundingRate: 0.002,
		},
	})
	assert.Contains(t, title, "ETH-USDT")
	assert.Contains(t, body, "bybit")
}
