package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/types"
)

const (
	// WETH doubles as the price id for native ETH so every price
	// source can resolve it by contract address.
	wethContract    = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	ethereumChainID = 1
	weiPerEth       = 1e18
)

var nativeEthAsset = types.Asset{ID: wethContract, Symbol: "ETH", Name: "Ethereum", Decimals: 18}

// EtherscanClient serves Ethereum balances and transfer history from
// the Etherscan v2 API. The free tier allows 3 requests per second, so
// every call goes through a shared limiter.
type EtherscanClient struct {
	baseURL    string
	apiKey     string
	maxEvents  int
	httpClient *http.Client
	limiter    *rate.Limiter
}

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type etherscanTransaction struct {
	Hash      string `json:"hash"`
	TimeStamp string `json:"timeStamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	IsError   string `json:"isError"`
}

type etherscanTokenTransfer struct {
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
}

func NewEtherscanClient(baseURL, apiKey string, maxEvents int, timeout time.Duration) *EtherscanClient {
	return &EtherscanClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		maxEvents: maxEvents,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(3), 3),
	}
}

func (c *EtherscanClient) Name() string {
	return "etherscan"
}

func (c *EtherscanClient) Chain() types.ChainID {
	return types.ChainEthereum
}

// GetBalances returns the native ETH balance plus token balances
// reconstructed from ERC20 transfer net flows. Etherscan has no free
// balance-list endpoint, so the reconstruction can drift for tokens
// with rebasing supplies or transfers older than the history cap.
func (c *EtherscanClient) GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error) {
	result, err := c.doRequest(ctx, map[string]string{
		"module":  "account",
		"action":  "balance",
		"address": address,
		"tag":     "latest",
	})
	if err != nil {
		return nil, err
	}

	var weiStr string
	if err := json.Unmarshal(result, &weiStr); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse balance: %w", err))
	}
	wei, err := strconv.ParseFloat(weiStr, 64)
	if err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("unexpected balance %q", weiStr))
	}

	transfers, err := c.fetchTokenTransfers(ctx, address)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(address)
	assets := make(map[string]types.Asset)
	net := make(map[string]float64)
	for _, tt := range transfers {
		asset, qty, ok := convertTokenTransfer(tt)
		if !ok {
			continue
		}
		assets[asset.ID] = asset
		switch lowered {
		case strings.ToLower(tt.To):
			net[asset.ID] += qty
		case strings.ToLower(tt.From):
			net[asset.ID] -= qty
		}
	}

	snapshot := &types.BalanceSnapshot{
		Address: address,
		Chain:   types.ChainEthereum,
		Native: types.Balance{
			Asset:    nativeEthAsset,
			Quantity: wei / weiPerEth,
		},
	}
	for id, qty := range net {
		if qty <= 0 {
			continue
		}
		snapshot.Tokens = append(snapshot.Tokens, types.Balance{
			Asset:    assets[id],
			Quantity: qty,
		})
	}

	return snapshot, nil
}

// GetTransferHistory merges normal transactions and ERC20 transfers
// into signed transfer events relative to the wallet.
func (c *EtherscanClient) GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error) {
	if limit <= 0 || limit > c.maxEvents {
		limit = c.maxEvents
	}

	normal, err := c.fetchTransactions(ctx, address)
	if err != nil {
		return nil, err
	}
	transfers, err := c.fetchTokenTransfers(ctx, address)
	if err != nil {
		return nil, err
	}

	lowered := strings.ToLower(address)
	events := make([]types.TransferEvent, 0, len(normal)+len(transfers))

	for _, tx := range normal {
		if tx.IsError == "1" {
			continue
		}
		wei, err := strconv.ParseFloat(tx.Value, 64)
		if err != nil || wei <= 0 {
			continue
		}
		ts, err := parseUnixString(tx.TimeStamp)
		if err != nil {
			continue
		}
		event := types.TransferEvent{
			Asset:     nativeEthAsset,
			Timestamp: ts,
			Reference: tx.Hash,
		}
		switch lowered {
		case strings.ToLower(tx.To):
			event.Quantity = wei / weiPerEth
			event.Counterparty = tx.From
		case strings.ToLower(tx.From):
			event.Quantity = -wei / weiPerEth
			event.Counterparty = tx.To
		default:
			continue
		}
		events = append(events, event)
	}

	for _, tt := range transfers {
		asset, qty, ok := convertTokenTransfer(tt)
		if !ok {
			continue
		}
		ts, err := parseUnixString(tt.TimeStamp)
		if err != nil {
			continue
		}
		event := types.TransferEvent{
			Asset:     asset,
			Timestamp: ts,
			Reference: tt.Hash,
		}
		switch lowered {
		case strings.ToLower(tt.To):
			event.Quantity = qty
			event.Counterparty = tt.From
		case strings.ToLower(tt.From):
			event.Quantity = -qty
			event.Counterparty = tt.To
		default:
			continue
		}
		events = append(events, event)
	}

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// HealthCheck exercises the API with a cheap stats call
func (c *EtherscanClient) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, map[string]string{
		"module": "stats",
		"action": "ethprice",
	})
	return err
}

func (c *EtherscanClient) fetchTransactions(ctx context.Context, address string) ([]etherscanTransaction, error) {
	result, err := c.doRequest(ctx, map[string]string{
		"module":  "account",
		"action":  "txlist",
		"address": address,
		"sort":    "desc",
		"page":    "1",
		"offset":  strconv.Itoa(c.maxEvents),
	})
	if err != nil {
		return nil, err
	}

	var txs []etherscanTransaction
	if err := json.Unmarshal(result, &txs); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse txlist: %w", err))
	}
	return txs, nil
}

func (c *EtherscanClient) fetchTokenTransfers(ctx context.Context, address string) ([]etherscanTokenTransfer, error) {
	result, err := c.doRequest(ctx, map[string]string{
		"module":  "account",
		"action":  "tokentx",
		"address": address,
		"sort":    "desc",
		"page":    "1",
		"offset":  strconv.Itoa(c.maxEvents),
	})
	if err != nil {
		return nil, err
	}

	var transfers []etherscanTokenTransfer
	if err := json.Unmarshal(result, &transfers); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse tokentx: %w", err))
	}
	return transfers, nil
}

// doRequest builds a v2 API URL, applies the free-tier limiter and
// normalizes Etherscan's status/message envelope.
func (c *EtherscanClient) doRequest(ctx context.Context, params map[string]string) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("API key not configured"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.NewSourceTimeoutError(c.Name())
	}

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("chainid", strconv.Itoa(ethereumChainID))
	query.Set("apikey", c.apiKey)

	body, err := doGet(ctx, c.httpClient, c.baseURL+"?"+query.Encode(), c.Name())
	if err != nil {
		return nil, err
	}

	var resp etherscanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse response: %w", err))
	}

	if resp.Status == "0" {
		msg := strings.ToLower(resp.Message)
		switch {
		case strings.Contains(msg, "no transactions found"):
			return json.RawMessage("[]"), nil
		case strings.Contains(msg, "rate limit"):
			return nil, errors.NewSourceRateLimitError(c.Name())
		default:
			return nil, errors.NewSourceError(c.Name(), fmt.Errorf("API error: %s", resp.Message))
		}
	}

	return resp.Result, nil
}

func convertTokenTransfer(tt etherscanTokenTransfer) (types.Asset, float64, bool) {
	decimals, err := strconv.Atoi(tt.TokenDecimal)
	if err != nil || decimals < 0 || decimals > 30 {
		return types.Asset{}, 0, false
	}
	raw, err := strconv.ParseFloat(tt.Value, 64)
	if err != nil || raw <= 0 {
		return types.Asset{}, 0, false
	}

	asset := types.Asset{
		ID:       strings.ToLower(tt.ContractAddress),
		Symbol:   tt.TokenSymbol,
		Name:     tt.TokenName,
		Decimals: decimals,
	}
	if asset.Symbol == "" {
		asset.Symbol = asset.ID[:6]
	}
	return asset, raw / math.Pow10(decimals), true
}

func parseUnixString(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
