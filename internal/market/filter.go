// Package market bounds the candidate universe the registry operates on:
// hard filters (liquidity, volume, spread, outcome count, end date, include
// / exclude lists) applied to the raw feed from the exchange fetcher.
package market

import (
	"strings"
	"time"

	"arbengine/internal/config"
	"arbengine/internal/exchange"
)

// Filter applies cfg's hard filters to markets, then caps the result to
// cfg.MaxMarkets (0 means unbounded).
func Filter(markets []exchange.FetchedMarket, cfg config.MarketFilterConfig) []exchange.FetchedMarket {
	excluded := toLowerSet(cfg.ExcludeSlugs)
	includeConditions := toLowerSet(cfg.IncludeConditionIDs)
	includeSlugs := toLowerSet(cfg.IncludeSlugs)
	includeKeywords := toLowerSlice(cfg.IncludeKeywords)
	excludeKeywords := toLowerSlice(cfg.ExcludeKeywords)
	hasIncludeFilter := len(includeConditions) > 0 || len(includeSlugs) > 0 || len(includeKeywords) > 0

	now := time.Now()
	var maxEnd time.Time
	if cfg.MaxEndDateDays > 0 {
		maxEnd = now.AddDate(0, 0, cfg.MaxEndDateDays)
	}

	var out []exchange.FetchedMarket
	for _, m := range markets {
		if !m.Active || m.Closed {
			continue
		}

		slugLower := strings.ToLower(m.Slug)
		questionLower := strings.ToLower(m.Market.Question)
		conditionLower := strings.ToLower(string(m.Market.Id))

		if hasIncludeFilter {
			matched := includeConditions[conditionLower] || includeSlugs[slugLower]
			if !matched {
				matched = containsAny(slugLower, questionLower, includeKeywords)
			}
			if !matched {
				continue
			}
		}

		if excluded[slugLower] {
			continue
		}
		if containsAny(slugLower, questionLower, excludeKeywords) {
			continue
		}

		if m.Liquidity < cfg.MinLiquidity {
			continue
		}
		if m.Volume24h < cfg.MinVolume24h {
			continue
		}
		if cfg.MaxSpreadPct > 0 && m.Spread > cfg.MaxSpreadPct {
			continue
		}
		if cfg.MaxOutcomes > 0 && len(m.Market.Outcomes) > cfg.MaxOutcomes {
			continue
		}
		if m.Market.EndDate != nil && !maxEnd.IsZero() {
			if m.Market.EndDate.Before(now) || m.Market.EndDate.After(maxEnd) {
				continue
			}
		}

		out = append(out, m)
	}

	if cfg.MaxMarkets > 0 && len(out) > cfg.MaxMarkets {
		out = out[:cfg.MaxMarkets]
	}
	return out
}

func toLowerSet(vals []string) map[string]bool {
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = true
		}
	}
	return set
}

func toLowerSlice(vals []string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func containsAny(slug, question string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(slug, kw) || strings.Contains(question, kw) {
			return true
		}
	}
	return false
}
