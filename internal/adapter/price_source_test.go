package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-analyzer/internal/errors"
)

func TestJupiterClient_GetCurrentPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.RawQuery, "ids=")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{
			"mintA":{"id":"mintA","type":"derivedPrice","price":"1.25"},
			"mintB":{"id":"mintB","type":"derivedPrice","price":"0"},
			"mintC":null
		}}`))
	}))
	defer server.Close()

	client := NewJupiterClient(server.URL, 5*time.Second)
	quotes, err := client.GetCurrentPrices(context.Background(), []string{"mintA", "mintB", "mintC"})
	require.NoError(t, err)

	require.Contains(t, quotes, "mintA")
	assert.Equal(t, 1.25, quotes["mintA"].Price)
	assert.Nil(t, quotes["mintA"].Change24h)

	// Zero and null entries must not produce quotes
	assert.NotContains(t, quotes, "mintB")
	assert.NotContains(t, quotes, "mintC")
}

func TestJupiterClient_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewJupiterClient(server.URL, 5*time.Second)
	_, err := client.GetCurrentPrices(context.Background(), []string{"mintA"})
	require.Error(t, err)
	assert.True(t, errors.IsRateLimited(err))
}

func TestJupiterClient_NoHistoricalSupport(t *testing.T) {
	client := NewJupiterClient("http://unused", 5*time.Second)
	_, err := client.GetHistoricalPrice(context.Background(), "mintA", time.Now())
	require.Error(t, err)
}

func TestCoinGeckoClient_GetCurrentPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/simple/token_price/ethereum")
		w.Header().Set("Content-Type", "application/json")
		// Response keys come back lowercased
		_, _ = w.Write([]byte(`{
			"0xabc":{"usd":42.5,"usd_24h_change":-3.2},
			"0xdef":{"usd":0}
		}`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "ethereum", 5*time.Second)
	quotes, err := client.GetCurrentPrices(context.Background(), []string{"0xABC", "0xDEF"})
	require.NoError(t, err)

	// The mixed-case caller id must map back to the lowercased answer
	require.Contains(t, quotes, "0xABC")
	assert.Equal(t, 42.5, quotes["0xABC"].Price)
	require.NotNil(t, quotes["0xABC"].Change24h)
	assert.Equal(t, -3.2, *quotes["0xABC"].Change24h)

	assert.NotContains(t, quotes, "0xDEF")
}

func TestCoinGeckoClient_HistoricalPicksNearestSample(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/market_chart/range")
		w.Header().Set("Content-Type", "application/json")
		near := float64(at.Add(-30 * time.Minute).UnixMilli())
		far := float64(at.Add(-12 * time.Hour).UnixMilli())
		_, _ = w.Write([]byte(
			`{"prices":[[` +
				strconv.FormatInt(int64(far), 10) + `,10.0],[` +
				strconv.FormatInt(int64(near), 10) + `,11.5]]}`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "solana", 5*time.Second)
	price, err := client.GetHistoricalPrice(context.Background(), "mintA", at)
	require.NoError(t, err)
	assert.Equal(t, 11.5, price)
}

func TestCoinGeckoClient_HistoricalNoSamples(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prices":[]}`))
	}))
	defer server.Close()

	client := NewCoinGeckoClient(server.URL, "solana", 5*time.Second)
	_, err := client.GetHistoricalPrice(context.Background(), "mintA", time.Now())
	require.Error(t, err)
}

func TestDexScreenerClient_PicksDeepestPair(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pairs":[
			{"priceUsd":"2.00","liquidity":{"usd":1000},"priceChange":{"h24":1.0}},
			{"priceUsd":"2.10","liquidity":{"usd":50000},"priceChange":{"h24":4.5}}
		]}`))
	}))
	defer server.Close()

	client := NewDexScreenerClient(server.URL, 5*time.Second)
	quotes, err := client.GetCurrentPrices(context.Background(), []string{"mintA"})
	require.NoError(t, err)

	require.Contains(t, quotes, "mintA")
	assert.Equal(t, 2.10, quotes["mintA"].Price)
	require.NotNil(t, quotes["mintA"].Change24h)
	assert.Equal(t, 4.5, *quotes["mintA"].Change24h)
}
