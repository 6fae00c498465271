package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wallet-analyzer/internal/errors"
)

// CoinGeckoClient resolves token prices by contract address on a single
// platform ("solana", "ethereum"). It is the only source that carries
// 24h change data and historical samples, so it sits behind Jupiter in
// the priority order but ahead of the long-tail sources.
type CoinGeckoClient struct {
	baseURL    string
	platform   string
	httpClient *http.Client
}

type coingeckoTokenPrice struct {
	USD       *float64 `json:"usd"`
	Change24h *float64 `json:"usd_24h_change"`
}

type coingeckoMarketChart struct {
	Prices [][]float64 `json:"prices"`
}

func NewCoinGeckoClient(baseURL, platform string, timeout time.Duration) *CoinGeckoClient {
	return &CoinGeckoClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		platform: platform,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *CoinGeckoClient) Name() string {
	return "coingecko"
}

func (c *CoinGeckoClient) MaxBatchSize() int {
	return 50
}

func (c *CoinGeckoClient) GetCurrentPrices(ctx context.Context, ids []string) (map[string]SourceQuote, error) {
	if len(ids) == 0 {
		return map[string]SourceQuote{}, nil
	}

	lowered := make([]string, len(ids))
	for i, id := range ids {
		lowered[i] = strings.ToLower(id)
	}

	reqURL := fmt.Sprintf("%s/simple/token_price/%s?contract_addresses=%s&vs_currencies=usd&include_24hr_change=true",
		c.baseURL, c.platform, url.QueryEscape(strings.Join(lowered, ",")))
	body, err := doGet(ctx, c.httpClient, reqURL, c.Name())
	if err != nil {
		return nil, err
	}

	var parsed map[string]coingeckoTokenPrice
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}

	// CoinGecko lowercases contract addresses in its response keys,
	// so map answers back to the caller's original ids.
	quotes := make(map[string]SourceQuote, len(parsed))
	for i, id := range ids {
		entry, ok := parsed[lowered[i]]
		if !ok || entry.USD == nil || *entry.USD <= 0 {
			continue
		}
		quotes[id] = SourceQuote{Price: *entry.USD, Change24h: entry.Change24h}
	}

	return quotes, nil
}

// GetHistoricalPrice queries a one-day window around the requested time
// and returns the sample closest to it.
func (c *CoinGeckoClient) GetHistoricalPrice(ctx context.Context, id string, at time.Time) (float64, error) {
	from := at.Add(-24 * time.Hour).Unix()
	to := at.Add(24 * time.Hour).Unix()

	reqURL := fmt.Sprintf("%s/coins/%s/contract/%s/market_chart/range?vs_currency=usd&from=%d&to=%d",
		c.baseURL, c.platform, strings.ToLower(id), from, to)
	body, err := doGet(ctx, c.httpClient, reqURL, c.Name())
	if err != nil {
		return 0, err
	}

	var parsed coingeckoMarketChart
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}

	target := float64(at.UnixMilli())
	best := 0.0
	bestDist := math.Inf(1)
	for _, sample := range parsed.Prices {
		if len(sample) < 2 || sample[1] <= 0 {
			continue
		}
		dist := math.Abs(sample[0] - target)
		if dist < bestDist {
			bestDist = dist
			best = sample[1]
		}
	}
	if best <= 0 {
		return 0, errors.NewSourceError(c.Name(), fmt.Errorf("no samples near %s for %s", at.Format(time.RFC3339), id))
	}

	return best, nil
}
