package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"arbengine/internal/config"
	"arbengine/pkg/types"
)

// gammaMarket is the JSON shape returned by the exchange's market-discovery
// API. Outcomes, outcome prices, and token ids all arrive as JSON-encoded
// array strings rather than native arrays.
type gammaMarket struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	ConditionID     string  `json:"conditionId"`
	Slug            string  `json:"slug"`
	Active          bool    `json:"active"`
	Closed          bool    `json:"closed"`
	AcceptingOrders bool    `json:"acceptingOrders"`
	EnableOrderBook bool    `json:"enableOrderBook"`
	EndDate         string  `json:"endDate"`
	Liquidity       string  `json:"liquidity"`
	Volume24hr      float64 `json:"volume24hr"`
	Outcomes        string  `json:"outcomes"`
	OutcomePrices   string  `json:"outcomePrices"`
	ClobTokenIds    string  `json:"clobTokenIds"`
	Spread          float64 `json:"spread"`
}

// FetchedMarket pairs a domain Market with the discovery-time statistics
// the market filter and scorer need but which don't belong in the generic
// domain model.
type FetchedMarket struct {
	Market       types.Market
	Volume24h    float64
	Liquidity    float64
	Spread       float64
	Slug         string
	Active       bool
	Closed       bool
}

// Fetcher polls the exchange's market-discovery endpoint for the full
// candidate universe, paginating until a short page signals the end.
type Fetcher struct {
	http *resty.Client
}

// NewFetcher creates a Fetcher pointed at cfg.API.GammaBaseURL.
func NewFetcher(cfg config.Config) *Fetcher {
	timeout := cfg.API.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &Fetcher{http: client}
}

// FetchMarkets retrieves every active market, paginated 100 at a time.
func (f *Fetcher) FetchMarkets(ctx context.Context) ([]FetchedMarket, error) {
	const pageSize = 100
	offset := 0

	var out []FetchedMarket
	for {
		var page []gammaMarket
		resp, err := f.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(pageSize),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&page).
			Get("/markets")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page %d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		for _, gm := range page {
			if fm, ok := convertGammaMarket(gm); ok {
				out = append(out, fm)
			}
		}

		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}
	return out, nil
}

// convertGammaMarket turns a wire market into the generic N-outcome domain
// model. Markets with fewer than 2 outcomes, or with token ids that don't
// line up with the outcome names, are skipped.
func convertGammaMarket(gm gammaMarket) (FetchedMarket, bool) {
	var names []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &names); err != nil || len(names) < 2 {
		return FetchedMarket{}, false
	}
	var tokenIDs []string
	if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) != len(names) {
		return FetchedMarket{}, false
	}

	outcomes := make([]types.Outcome, len(names))
	for i, name := range names {
		outcomes[i] = types.Outcome{TokenId: types.TokenId(tokenIDs[i]), Name: name}
	}

	liquidity, _ := strconv.ParseFloat(gm.Liquidity, 64)

	var endDate *time.Time
	if gm.EndDate != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDate); err == nil {
			endDate = &t
		}
	}

	return FetchedMarket{
		Market: types.Market{
			Id:       types.MarketId(gm.ConditionID),
			Question: gm.Question,
			Outcomes: outcomes,
			Payout:   types.One,
			EndDate:  endDate,
		},
		Volume24h: gm.Volume24hr,
		Liquidity: liquidity,
		Spread:    gm.Spread,
		Slug:      gm.Slug,
		Active:    gm.Active,
		Closed:    gm.Closed,
	}, true
}
