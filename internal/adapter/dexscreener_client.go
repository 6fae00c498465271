package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wallet-analyzer/internal/errors"
)

// DexScreenerClient covers long-tail tokens that the aggregator APIs
// have never listed. It only answers one token per request, so it sits
// last in the source priority order.
type DexScreenerClient struct {
	baseURL    string
	httpClient *http.Client
}

type dexscreenerResponse struct {
	Pairs []dexscreenerPair `json:"pairs"`
}

type dexscreenerPair struct {
	PriceUSD    string `json:"priceUsd"`
	PriceChange struct {
		H24 *float64 `json:"h24"`
	} `json:"priceChange"`
	Liquidity struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

func NewDexScreenerClient(baseURL string, timeout time.Duration) *DexScreenerClient {
	return &DexScreenerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *DexScreenerClient) Name() string {
	return "dexscreener"
}

func (c *DexScreenerClient) MaxBatchSize() int {
	return 1
}

func (c *DexScreenerClient) GetCurrentPrices(ctx context.Context, ids []string) (map[string]SourceQuote, error) {
	quotes := make(map[string]SourceQuote, len(ids))
	for _, id := range ids {
		reqURL := fmt.Sprintf("%s/tokens/%s", c.baseURL, id)
		body, err := doGet(ctx, c.httpClient, reqURL, c.Name())
		if err != nil {
			return nil, err
		}

		var parsed dexscreenerResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse response: %w", err))
		}

		pair := deepestPair(parsed.Pairs)
		if pair == nil {
			continue
		}
		price, err := strconv.ParseFloat(pair.PriceUSD, 64)
		if err != nil || price <= 0 {
			continue
		}
		quotes[id] = SourceQuote{Price: price, Change24h: pair.PriceChange.H24}
	}

	return quotes, nil
}

// deepestPair picks the pair with the most liquidity; thin pairs on new
// DEX listings report junk prices.
func deepestPair(pairs []dexscreenerPair) *dexscreenerPair {
	var best *dexscreenerPair
	for i := range pairs {
		if pairs[i].PriceUSD == "" {
			continue
		}
		if best == nil || pairs[i].Liquidity.USD > best.Liquidity.USD {
			best = &pairs[i]
		}
	}
	return best
}

// GetHistoricalPrice is unsupported; DexScreener has no public
// historical endpoint.
func (c *DexScreenerClient) GetHistoricalPrice(ctx context.Context, id string, at time.Time) (float64, error) {
	return 0, errors.NewSourceError(c.Name(), fmt.Errorf("historical prices not supported"))
}
