package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wallet-analyzer/internal/errors"
	"github.com/wallet-analyzer/internal/types"
)

const (
	solMint             = "So11111111111111111111111111111111111111112"
	splTokenProgram     = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	lamportsPerSol      = 1e9
	heliusPageSize      = 100
	heliusMaxBalanceLen = 250 // token accounts beyond this are dust
)

// wellKnownMints maps popular Solana mints to display metadata.
// Unknown mints fall back to a shortened mint address as the symbol.
var wellKnownMints = map[string]types.Asset{
	solMint: {ID: solMint, Symbol: "SOL", Name: "Solana", Decimals: 9},
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": {ID: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Name: "USD Coin", Decimals: 6},
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": {ID: "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", Symbol: "USDT", Name: "Tether USD", Decimals: 6},
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  {ID: "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", Symbol: "JUP", Name: "Jupiter", Decimals: 6},
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": {ID: "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", Symbol: "BONK", Name: "Bonk", Decimals: 5},
	"mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So":  {ID: "mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So", Symbol: "mSOL", Name: "Marinade staked SOL", Decimals: 9},
	"J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn": {ID: "J1toso1uCk3RLmjorhTtrVwY9HJ7X8V9yYac6Y7kGCPn", Symbol: "JitoSOL", Name: "Jito staked SOL", Decimals: 9},
}

// HeliusClient serves Solana balances over JSON-RPC and transfer
// history over the Helius enhanced transactions API.
type HeliusClient struct {
	rpcURL     string
	apiURL     string
	apiKey     string
	maxEvents  int
	httpClient *http.Client
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type heliusTokenAccount struct {
	Account struct {
		Data struct {
			Parsed struct {
				Info struct {
					Mint        string `json:"mint"`
					TokenAmount struct {
						UIAmount float64 `json:"uiAmount"`
						Decimals int     `json:"decimals"`
					} `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"account"`
}

type heliusTransaction struct {
	Signature       string `json:"signature"`
	Timestamp       int64  `json:"timestamp"`
	TransactionType string `json:"type"`
	NativeTransfers []struct {
		FromUserAccount string `json:"fromUserAccount"`
		ToUserAccount   string `json:"toUserAccount"`
		Amount          int64  `json:"amount"` // lamports
	} `json:"nativeTransfers"`
	TokenTransfers []struct {
		FromUserAccount string  `json:"fromUserAccount"`
		ToUserAccount   string  `json:"toUserAccount"`
		Mint            string  `json:"mint"`
		TokenAmount     float64 `json:"tokenAmount"`
	} `json:"tokenTransfers"`
}

func NewHeliusClient(rpcURL, apiURL, apiKey string, maxEvents int, timeout time.Duration) *HeliusClient {
	return &HeliusClient{
		rpcURL:    strings.TrimRight(rpcURL, "/"),
		apiURL:    strings.TrimRight(apiURL, "/"),
		apiKey:    apiKey,
		maxEvents: maxEvents,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HeliusClient) Name() string {
	return "helius"
}

func (c *HeliusClient) Chain() types.ChainID {
	return types.ChainSolana
}

// GetBalances fetches the native SOL balance plus all SPL token
// accounts with a non-zero amount.
func (c *HeliusClient) GetBalances(ctx context.Context, address string) (*types.BalanceSnapshot, error) {
	var lamports struct {
		Value int64 `json:"value"`
	}
	if err := c.rpcCall(ctx, "getBalance", []interface{}{address}, &lamports); err != nil {
		return nil, err
	}

	var accounts struct {
		Value []heliusTokenAccount `json:"value"`
	}
	params := []interface{}{
		address,
		map[string]string{"programId": splTokenProgram},
		map[string]string{"encoding": "jsonParsed"},
	}
	if err := c.rpcCall(ctx, "getTokenAccountsByOwner", params, &accounts); err != nil {
		return nil, err
	}

	snapshot := &types.BalanceSnapshot{
		Address: address,
		Chain:   types.ChainSolana,
		Native: types.Balance{
			Asset:    wellKnownMints[solMint],
			Quantity: float64(lamports.Value) / lamportsPerSol,
		},
	}

	for _, acct := range accounts.Value {
		info := acct.Account.Data.Parsed.Info
		if info.TokenAmount.UIAmount <= 0 || info.Mint == solMint {
			continue
		}
		snapshot.Tokens = append(snapshot.Tokens, types.Balance{
			Asset:    c.assetForMint(info.Mint, info.TokenAmount.Decimals),
			Quantity: info.TokenAmount.UIAmount,
		})
		if len(snapshot.Tokens) >= heliusMaxBalanceLen {
			break
		}
	}

	return snapshot, nil
}

// GetTransferHistory pages through the enhanced transactions API and
// flattens each transaction into signed per-asset transfer events
// relative to the wallet.
func (c *HeliusClient) GetTransferHistory(ctx context.Context, address string, limit int) ([]types.TransferEvent, error) {
	if limit <= 0 || limit > c.maxEvents {
		limit = c.maxEvents
	}

	var events []types.TransferEvent
	before := ""

	for len(events) < limit {
		url := fmt.Sprintf("%s/v0/addresses/%s/transactions?api-key=%s&limit=%d", c.apiURL, address, c.apiKey, heliusPageSize)
		if before != "" {
			url += "&before=" + before
		}

		body, err := doGet(ctx, c.httpClient, url, c.Name())
		if err != nil {
			return nil, err
		}

		var page []heliusTransaction
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse transactions: %w", err))
		}
		if len(page) == 0 {
			break
		}

		for _, tx := range page {
			events = append(events, c.flattenTransaction(address, tx)...)
			if len(events) >= limit {
				break
			}
		}
		before = page[len(page)-1].Signature

		if len(page) < heliusPageSize {
			break
		}
	}

	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// flattenTransaction converts a transaction into zero or more signed
// transfer events: one per asset whose net flow touches the wallet.
func (c *HeliusClient) flattenTransaction(address string, tx heliusTransaction) []types.TransferEvent {
	ts := time.Unix(tx.Timestamp, 0).UTC()
	flows := make(map[string]float64)
	counterparties := make(map[string]string)

	for _, nt := range tx.NativeTransfers {
		amount := float64(nt.Amount) / lamportsPerSol
		if nt.ToUserAccount == address {
			flows[solMint] += amount
			counterparties[solMint] = nt.FromUserAccount
		}
		if nt.FromUserAccount == address {
			flows[solMint] -= amount
			counterparties[solMint] = nt.ToUserAccount
		}
	}

	for _, tt := range tx.TokenTransfers {
		if tt.TokenAmount <= 0 {
			continue
		}
		if tt.ToUserAccount == address {
			flows[tt.Mint] += tt.TokenAmount
			counterparties[tt.Mint] = tt.FromUserAccount
		}
		if tt.FromUserAccount == address {
			flows[tt.Mint] -= tt.TokenAmount
			counterparties[tt.Mint] = tt.ToUserAccount
		}
	}

	var events []types.TransferEvent
	for mint, qty := range flows {
		if qty == 0 {
			continue
		}
		events = append(events, types.TransferEvent{
			Asset:        c.assetForMint(mint, -1),
			Quantity:     qty,
			Timestamp:    ts,
			Reference:    tx.Signature,
			Counterparty: counterparties[mint],
		})
	}
	return events
}

// HealthCheck asks the RPC node whether it considers itself healthy
func (c *HeliusClient) HealthCheck(ctx context.Context) error {
	var status string
	return c.rpcCall(ctx, "getHealth", nil, &status)
}

func (c *HeliusClient) assetForMint(mint string, decimals int) types.Asset {
	if asset, ok := wellKnownMints[mint]; ok {
		return asset
	}
	symbol := mint
	if len(symbol) > 8 {
		symbol = symbol[:4] + ".." + symbol[len(symbol)-2:]
	}
	if decimals < 0 {
		decimals = 9
	}
	return types.Asset{ID: mint, Symbol: symbol, Decimals: decimals}
}

func (c *HeliusClient) rpcCall(ctx context.Context, method string, params []interface{}, result interface{}) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.NewSourceError(c.Name(), fmt.Errorf("failed to encode request: %w", err))
	}

	url := c.rpcURL
	if c.apiKey != "" {
		url = fmt.Sprintf("%s/?api-key=%s", c.rpcURL, c.apiKey)
	}

	body, err := doPost(ctx, c.httpClient, url, c.Name(), payload)
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse RPC response: %w", err))
	}
	if resp.Error != nil {
		return errors.NewSourceError(c.Name(), fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message))
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return errors.NewSourceError(c.Name(), fmt.Errorf("failed to parse %s result: %w", method, err))
		}
	}
	return nil
}
