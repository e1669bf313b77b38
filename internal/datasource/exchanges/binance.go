package exchanges

import (
	"context"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// BinanceClient is the tier-4 read-only client for Binance: spot book
// tickers for bid/ask/last and futures premium-index for funding rate and
// next funding time. Grounded on internal/exchange/binance.go's client
// construction, with every order-placement/WebSocket-user-stream surface
// dropped since this engine only ever reads market data.
type BinanceClient struct {
	spot    *binance.Client
	futures *futures.Client
	retry   RetryConfig
	clock   market.Clock
}

// NewBinanceClient builds a client; credentials may be empty for spot
// ticker calls (they're public), but the futures premium-index endpoint
// is also public, so this never actually requires a key in practice.
func NewBinanceClient(apiKey, secretKey string, testnet bool, clock market.Clock) *BinanceClient {
	if testnet {
		binance.UseTestnet = true
		futures.UseTestnet = true
	}
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &BinanceClient{
		spot:    binance.NewClient(apiKey, secretKey),
		futures: futures.NewClient(apiKey, secretKey),
		retry:   DefaultRetryConfig(),
		clock:   clock,
	}
}

// Name implements Client.
func (c *BinanceClient) Name() string { return "binance" }

// Tickers implements Client. A pair with no matching Binance symbol (or a
// transient failure on one pair) is skipped rather than failing the whole
// call, mirroring spec.md's tolerance for partial tier results.
func (c *BinanceClient) Tickers(ctx context.Context, pairs []string) ([]market.PricePoint, error) {
	var points []market.PricePoint

	for _, pair := range pairs {
		symbol := toBinanceSymbol(pair)

		var bookTickers []*binance.BookTicker
		err := WithRetry(ctx, c.retry, func() error {
			var doErr error
			bookTickers, doErr = c.spot.NewListBookTickersService().Symbol(symbol).Do(ctx)
			return doErr
		})
		if err != nil || len(bookTickers) == 0 {
			continue
		}

		bid, _ := strconv.ParseFloat(bookTickers[0].BidPrice, 64)
		ask, _ := strconv.ParseFloat(bookTickers[0].AskPrice, 64)

		p := market.PricePoint{
			Exchange:   c.Name(),
			Pair:       pair,
			Bid:        bid,
			Ask:        ask,
			Last:       (bid + ask) / 2,
			ObservedAt: c.clock.Now(),
		}

		if fr, nextFunding, ok := c.fetchFundingRate(ctx, symbol); ok {
			p.FundingRate = &fr
			p.NextFunding = &nextFunding
		}

		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: binance returned no tickers for requested pairs", market.ErrTransientSource)
	}
	return points, nil
}

func (c *BinanceClient) fetchFundingRate(ctx context.Context, symbol string) (float64, time.Time, bool) {
	var premiums []*futures.PremiumIndex
	err := WithRetry(ctx, c.retry, func() error {
		var doErr error
		premiums, doErr = c.futures.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		return doErr
	})
	if err != nil || len(premiums) == 0 {
		return 0, time.Time{}, false
	}

	rate, err := strconv.ParseFloat(premiums[0].LastFundingRate, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	nextFunding := time.UnixMilli(premiums[0].NextFundingTime)
	return rate, nextFunding, true
}

// toBinanceSymbol converts a canonical "BTC/USDT" pair into Binance's
// concatenated "BTCUSDT" symbol form.
func toBinanceSymbol(pair string) string {
	out := make([]byte, 0, len(pair))
	for i := 0; i < len(pair); i++ {
		if pair[i] != '/' {
			out = append(out, pair[i])
		}
	}
	return string(out)
}
