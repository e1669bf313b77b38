package exchanges_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/datasource/exchanges"
	"github.com/arbedge/opportunity-engine/internal/market"
)

var fixedTestClock = market.FixedClock{T: time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)}

func TestCoinbaseClientParsesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bid":"100.1","ask":"100.3","price":"100.2","volume":"500"}`))
	}))
	defer srv.Close()

	client := exchanges.NewRESTClient("coinbase", srv.URL, exchanges.CoinbaseEndpoint{}, fixedTestClock)
	points, err := client.Tickers(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "coinbase", points[0].Exchange)
	assert.Equal(t, 100.1, points[0].Bid)
	assert.Equal(t, 100.3, points[0].Ask)
	assert.Equal(t, fixedTestClock.T, points[0].ObservedAt)
}

func TestOKXClientParsesTicker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"bidPx":"50","askPx":"51","last":"50.5","vol24h":"1000"}]}`))
	}))
	defer srv.Close()

	client := exchanges.NewRESTClient("okx", srv.URL, exchanges.OKXEndpoint{}, fixedTestClock)
	points, err := client.Tickers(context.Background(), []string{"ETH/USDT"})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 50.0, points[0].Bid)
}

func TestRESTClientSkipsFailingPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := exchanges.NewRESTClient("bybit", srv.URL, exchanges.BybitEndpoint{}, fixedTestClock)
	_, err := client.Tickers(context.Background(), []string{"BTC/USDT"})
	require.Error(t, err)
}

func TestRateLimitedClientDelegatesName(t *testing.T) {
	client := exchanges.NewCoinbaseClient(fixedTestClock)
	limited := exchanges.NewRateLimitedClient(client, 5)
	assert.Equal(t, "coinbase", limited.Name())
}
