// Package exchange implements the CLOB REST and WebSocket clients.
//
// The REST client (Client) talks to the exchange's CLOB API for order
// management:
//   - GetOrderBook:       GET  /book               — fetch L2 book for a token
//   - SubmitOrders:       POST /orders              — batch-place up to 15 signed orders
//   - CancelOrders:       DELETE /orders            — cancel specific orders by ID
//   - CancelAll:          DELETE /cancel-all         — emergency cancel everything
//   - CancelMarketOrders: DELETE /cancel-market-orders — cancel one market's orders
//   - DeriveAPIKey:       GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every request is automatically retried on transport errors and 5xx responses.
// Book reads and order/cancel calls are rate-limited via per-category
// TokenBuckets; order/cancel calls carry L2 HMAC headers, book reads are
// unauthenticated, and DeriveAPIKey carries L1 headers and is not rate-limited.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"arbengine/internal/config"
	"arbengine/pkg/types"
)

// Client is the CLOB REST API client. It wraps a resty HTTP client with
// rate limiting, retry, and auth.
type Client struct {
	http   *resty.Client // HTTP client with retry + base URL
	auth   *Auth         // L1/L2 auth provider for request signing
	rl     *RateLimiter  // per-endpoint-category rate limiting
	dryRun bool          // when true, mutating methods return fake success without HTTP calls
	logger *slog.Logger
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "exchange"),
	}
}

// wireLevel and wireBook mirror the exchange's book-read response shape,
// shared with the dispatch path in ws.go.
type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type wireBook struct {
	AssetID string      `json:"asset_id"`
	Bids    []wireLevel `json:"bids"`
	Asks    []wireLevel `json:"asks"`
}

// GetOrderBook fetches the current order book for a single token.
func (c *Client) GetOrderBook(ctx context.Context, tokenId types.TokenId) (types.OrderBook, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return types.OrderBook{}, err
	}

	var result wireBook
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", string(tokenId)).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return types.OrderBook{}, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderBook{}, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}

	return types.OrderBook{
		TokenId:   tokenId,
		Bids:      convertLevels(result.Bids),
		Asks:      convertLevels(result.Asks),
		UpdatedAt: time.Now(),
	}, nil
}

func convertLevels(levels []wireLevel) []types.PriceLevel {
	out := make([]types.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(l.Size)
		if err != nil {
			continue
		}
		out = append(out, types.PriceLevel{Price: price, Size: size})
	}
	return out
}

// signedOrder is the on-chain order payload the exchange expects, built
// from a high-level Leg.
type signedOrder struct {
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
}

type orderPayload struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
}

// OrderResult is the exchange's per-order acknowledgement.
type OrderResult struct {
	Success bool
	OrderId string
	Status  string
}

// CancelResult lists the order IDs a cancel request actually removed.
type CancelResult struct {
	Canceled []string
}

// buildOrderPayload converts a high-level Leg into the on-chain signed
// order + metadata the REST API expects, at the market's tick precision.
// The maker is the funder wallet (proxy), the signer is the EOA, and the
// taker is the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(leg types.Leg, tickSize TickSize, expiration int64) orderPayload {
	price, _ := leg.Price.Float64()
	size, _ := leg.Size.Float64()
	makerAmt, takerAmt := PriceToAmounts(price, size, leg.Side, tickSize)

	return orderPayload{
		Order: signedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       string(leg.TokenId),
			MakerAmount:   makerAmt.String(),
			TakerAmount:   takerAmt.String(),
			Side:          string(leg.Side),
			Expiration:    fmt.Sprintf("%d", expiration),
			Nonce:         "0",
			FeeRateBps:    "0",
			SignatureType: int(c.auth.sigType),
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: "GTC",
	}
}

// SubmitOrders places up to 15 legs in a single batch. Order in the
// returned slice matches the order of legs.
func (c *Client) SubmitOrders(ctx context.Context, legs []types.Leg, tickSize TickSize) ([]OrderResult, error) {
	if len(legs) == 0 {
		return nil, nil
	}
	if len(legs) > 15 {
		return nil, fmt.Errorf("batch limit is 15 orders, got %d", len(legs))
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit orders", "count", len(legs))
		results := make([]OrderResult, len(legs))
		for i := range legs {
			results[i] = OrderResult{Success: true, OrderId: fmt.Sprintf("dry-run-%d", i), Status: "live"}
		}
		return results, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	expiration := time.Now().Add(5 * time.Minute).Unix()
	payloads := make([]orderPayload, len(legs))
	for i, leg := range legs {
		payloads[i] = c.buildOrderPayload(leg, tickSize, expiration)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []OrderResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("submit orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("submit orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	return results, nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*CancelResult, error) {
	if len(orderIDs) == 0 {
		return &CancelResult{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return &CancelResult{Canceled: orderIDs}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &CancelResult{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for a specific market.
func (c *Client) CancelMarketOrders(ctx context.Context, marketId types.MarketId) (*CancelResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", marketId)
		return &CancelResult{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"market":"%s"}`, marketId)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result CancelResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
