package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wallet-analyzer/internal/errors"
)

// JupiterClient fetches spot prices from the Jupiter price API. It is
// the primary source for Solana mints and supports large batches, but
// has no historical endpoint and no 24h change data.
type JupiterClient struct {
	baseURL    string
	httpClient *http.Client
}

type jupiterPriceResponse struct {
	Data map[string]*jupiterPriceEntry `json:"data"`
}

type jupiterPriceEntry struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Price string `json:"price"`
}

func NewJupiterClient(baseURL string, timeout time.Duration) *JupiterClient {
	return &JupiterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *JupiterClient) Name() string {
	return "jupiter"
}

func (c *JupiterClient) MaxBatchSize() int {
	return 100
}

func (c *JupiterClient) GetCurrentPrices(ctx context.Context, ids []string) (map[string]SourceQuote, error) {
	if len(ids) == 0 {
		return map[string]SourceQuote{}, nil
	}

	reqURL := fmt.Sprintf("%s?ids=%s", c.baseURL, url.QueryEscape(strings.Join(ids, ",")))
	body, err := doGet(ctx, c.httpClient, reqURL, c.Name())
	if err != nil {
		return nil, err
	}

	var parsed jupiterPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}

	quotes := make(map[string]SourceQuote, len(parsed.Data))
	for id, entry := range parsed.Data {
		if entry == nil || entry.Price == "" {
			continue
		}
		price, err := strconv.ParseFloat(entry.Price, 64)
		if err != nil || price <= 0 {
			continue
		}
		quotes[id] = SourceQuote{Price: price}
	}

	return quotes, nil
}

// GetHistoricalPrice is unsupported; Jupiter only serves spot prices.
func (c *JupiterClient) GetHistoricalPrice(ctx context.Context, id string, at time.Time) (float64, error) {
	return 0, errors.NewSourceError(c.Name(), fmt.Errorf("historical prices not supported"))
}
