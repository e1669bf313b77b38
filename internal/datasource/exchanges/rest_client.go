package exchanges

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arbedge/opportunity-engine/internal/market"
)

// RESTClient is the shared hand-rolled HTTP implementation for exchanges
// with no Go SDK in the retrieved pack (Coinbase, OKX, Bybit, Bitget). Each
// exchange gets its own RESTEndpoint describing how to build the request
// URL and parse the response, since the four public ticker APIs share no
// wire format.
type RESTClient struct {
	name     string
	baseURL  string
	endpoint RESTEndpoint
	http     *http.Client
	retry    RetryConfig
	clock    market.Clock
}

// RESTEndpoint adapts one exchange's public ticker API to the common
// Client interface.
type RESTEndpoint interface {
	// TickerURL builds the request URL for pair against baseURL.
	TickerURL(baseURL, pair string) string
	// ParseTicker extracts a PricePoint from the raw response body.
	ParseTicker(pair string, body []byte) (market.PricePoint, error)
}

// NewRESTClient builds a tier-4 client for one exchange.
func NewRESTClient(name, baseURL string, endpoint RESTEndpoint, clock market.Clock) *RESTClient {
	if clock == nil {
		clock = market.SystemClock{}
	}
	return &RESTClient{
		name:     name,
		baseURL:  baseURL,
		endpoint: endpoint,
		http:     &http.Client{Timeout: 5 * time.Second},
		retry:    DefaultRetryConfig(),
		clock:    clock,
	}
}

// Name implements Client.
func (c *RESTClient) Name() string { return c.name }

// Tickers implements Client, fetching each pair independently (these APIs
// don't offer a batched multi-symbol endpoint across all four exchanges
// uniformly) and skipping any pair that errors rather than failing the
// whole snapshot.
func (c *RESTClient) Tickers(ctx context.Context, pairs []string) ([]market.PricePoint, error) {
	var points []market.PricePoint

	for _, pair := range pairs {
		var body []byte
		err := WithRetry(ctx, c.retry, func() error {
			b, doErr := c.fetch(ctx, c.endpoint.TickerURL(c.baseURL, pair))
			if doErr != nil {
				return doErr
			}
			body = b
			return nil
		})
		if err != nil {
			continue
		}

		p, err := c.endpoint.ParseTicker(pair, body)
		if err != nil {
			continue
		}
		p.Exchange = c.name
		p.ObservedAt = c.clock.Now()
		points = append(points, p)
	}

	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s returned no tickers for requested pairs", market.ErrTransientSource, c.name)
	}
	return points, nil
}

func (c *RESTClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// CoinbaseEndpoint implements RESTEndpoint for Coinbase's public product
// ticker API (GET /products/{pair}/ticker).
type CoinbaseEndpoint struct{}

func (CoinbaseEndpoint) TickerURL(baseURL, pair string) string {
	return fmt.Sprintf("%s/products/%s/ticker", baseURL, strings.ReplaceAll(pair, "/", "-"))
}

func (CoinbaseEndpoint) ParseTicker(pair string, body []byte) (market.PricePoint, error) {
	var raw struct {
		Bid    string `json:"bid"`
		Ask    string `json:"ask"`
		Price  string `json:"price"`
		Volume string `json:"volume"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return market.PricePoint{}, err
	}
	bid, _ := strconv.ParseFloat(raw.Bid, 64)
	ask, _ := strconv.ParseFloat(raw.Ask, 64)
	last, _ := strconv.ParseFloat(raw.Price, 64)
	volume, _ := strconv.ParseFloat(raw.Volume, 64)
	return market.PricePoint{Pair: pair, Bid: bid, Ask: ask, Last: last, Volume24h: volume}, nil
}

// OKXEndpoint implements RESTEndpoint for OKX's public ticker API
// (GET /api/v5/market/ticker?instId={pair}).
type OKXEndpoint struct{}

func (OKXEndpoint) TickerURL(baseURL, pair string) string {
	return fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", baseURL, strings.ReplaceAll(pair, "/", "-"))
}

func (OKXEndpoint) ParseTicker(pair string, body []byte) (market.PricePoint, error) {
	var raw struct {
		Data []struct {
			BidPx string `json:"bidPx"`
			AskPx string `json:"askPx"`
			Last  string `json:"last"`
			Vol24 string `json:"vol24h"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return market.PricePoint{}, err
	}
	if len(raw.Data) == 0 {
		return market.PricePoint{}, fmt.Errorf("okx: empty ticker data for %s", pair)
	}
	d := raw.Data[0]
	bid, _ := strconv.ParseFloat(d.BidPx, 64)
	ask, _ := strconv.ParseFloat(d.AskPx, 64)
	last, _ := strconv.ParseFloat(d.Last, 64)
	volume, _ := strconv.ParseFloat(d.Vol24, 64)
	return market.PricePoint{Pair: pair, Bid: bid, Ask: ask, Last: last, Volume24h: volume}, nil
}

// BybitEndpoint implements RESTEndpoint for Bybit's public ticker API
// (GET /v5/market/tickers?category=spot&symbol={pair}).
type BybitEndpoint struct{}

func (BybitEndpoint) TickerURL(baseURL, pair string) string {
	return fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", baseURL, strings.ReplaceAll(pair, "/", ""))
}

func (BybitEndpoint) ParseTicker(pair string, body []byte) (market.PricePoint, error) {
	var raw struct {
		Result struct {
			List []struct {
				Bid1Price string `json:"bid1Price"`
				Ask1Price string `json:"ask1Price"`
				LastPrice string `json:"lastPrice"`
				Volume24h string `json:"volume24h"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return market.PricePoint{}, err
	}
	if len(raw.Result.List) == 0 {
		return market.PricePoint{}, fmt.Errorf("bybit: empty ticker list for %s", pair)
	}
	d := raw.Result.List[0]
	bid, _ := strconv.ParseFloat(d.Bid1Price, 64)
	ask, _ := strconv.ParseFloat(d.Ask1Price, 64)
	last, _ := strconv.ParseFloat(d.LastPrice, 64)
	volume, _ := strconv.ParseFloat(d.Volume24h, 64)
	return market.PricePoint{Pair: pair, Bid: bid, Ask: ask, Last: last, Volume24h: volume}, nil
}

// BitgetEndpoint implements RESTEndpoint for Bitget's public ticker API
// (GET /api/v2/spot/market/tickers?symbol={pair}).
type BitgetEndpoint struct{}

func (BitgetEndpoint) TickerURL(baseURL, pair string) string {
	return fmt.Sprintf("%s/api/v2/spot/market/tickers?symbol=%s", baseURL, strings.ReplaceAll(pair, "/", ""))
}

func (BitgetEndpoint) ParseTicker(pair string, body []byte) (market.PricePoint, error) {
	var raw struct {
		Data []struct {
			BidPr     string `json:"bidPr"`
			AskPr     string `json:"askPr"`
			LastPr    string `json:"lastPr"`
			BaseVolume string `json:"baseVolume"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return market.PricePoint{}, err
	}
	if len(raw.Data) == 0 {
		return market.PricePoint{}, fmt.Errorf("bitget: empty ticker data for %s", pair)
	}
	d := raw.Data[0]
	bid, _ := strconv.ParseFloat(d.BidPr, 64)
	ask, _ := strconv.ParseFloat(d.AskPr, 64)
	last, _ := strconv.ParseFloat(d.LastPr, 64)
	volume, _ := strconv.ParseFloat(d.BaseVolume, 64)
	return market.PricePoint{Pair: pair, Bid: bid, Ask: ask, Last: last, Volume24h: volume}, nil
}

// NewCoinbaseClient builds the tier-4 client for Coinbase.
func NewCoinbaseClient(clock market.Clock) *RESTClient {
	return NewRESTClient("coinbase", "https://api.exchange.coinbase.com", CoinbaseEndpoint{}, clock)
}

// NewOKXClient builds the tier-4 client for OKX.
func NewOKXClient(clock market.Clock) *RESTClient {
	return NewRESTClient("okx", "https://www.okx.com", OKXEndpoint{}, clock)
}

// NewBybitClient builds the tier-4 client for Bybit.
func NewBybitClient(clock market.Clock) *RESTClient {
	return NewRESTClient("bybit", "https://api.bybit.com", BybitEndpoint{}, clock)
}

// NewBitgetClient builds the tier-4 client for Bitget.
func NewBitgetClient(clock market.Clock) *RESTClient {
	return NewRESTClient("bitget", "https://api.bitget.com", BitgetEndpoint{}, clock)
}
