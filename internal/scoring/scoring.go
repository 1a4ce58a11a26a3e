// Package scoring computes a composite priority score for markets, used
// only to rank candidates for the subscription manager's queue. Scores are
// never consulted on the hot path.
package scoring

import (
	"arbengine/pkg/types"
)

// Weights holds the normalized factor weights. Configure via
// config.ScoringConfig; NormalizeWeights must be called once at startup.
type Weights struct {
	Liquidity    float64
	Spread       float64
	Opportunity  float64
	OutcomeCount float64
	Activity     float64
}

// NormalizeWeights rescales w so its fields sum to 1. A zero-sum input
// falls back to equal weighting across all five factors.
func NormalizeWeights(w Weights) Weights {
	sum := w.Liquidity + w.Spread + w.Opportunity + w.OutcomeCount + w.Activity
	if sum <= 0 {
		return Weights{Liquidity: 0.2, Spread: 0.2, Opportunity: 0.2, OutcomeCount: 0.2, Activity: 0.2}
	}
	return Weights{
		Liquidity:    w.Liquidity / sum,
		Spread:       w.Spread / sum,
		Opportunity:  w.Opportunity / sum,
		OutcomeCount: w.OutcomeCount / sum,
		Activity:     w.Activity / sum,
	}
}

// Signals carries the raw per-market inputs the scorer needs. All fields
// are expected pre-normalized into [0, 1] by the caller (the engine's
// candidate builder), except OutcomeCount which is a raw outcome count.
type Signals struct {
	NormalizedVolume24h float64
	NormalizedSpread    float64
	OpportunityHitRate  float64
	OutcomeCount        int
	ActivityRate        float64
}

// outcomeCountBonus returns a tiered bonus favoring markets with more
// outcomes, capped at 1.
func outcomeCountBonus(n int) float64 {
	switch {
	case n <= 2:
		return 0.0
	case n <= 4:
		return 0.5
	default:
		return 1.0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Score computes a composite score in [0, 1] for a market from its current
// signals and the configured weights.
func Score(market types.Market, signals Signals, w Weights) types.MarketScore {
	tightness := clamp01(1 - signals.NormalizedSpread)
	liquidity := clamp01(signals.NormalizedVolume24h)
	opportunity := clamp01(signals.OpportunityHitRate)
	bonus := outcomeCountBonus(signals.OutcomeCount)
	activity := clamp01(signals.ActivityRate)

	composite := w.Liquidity*liquidity +
		w.Spread*tightness +
		w.Opportunity*opportunity +
		w.OutcomeCount*bonus +
		w.Activity*activity

	return types.MarketScore{MarketId: market.Id, Score: clamp01(composite)}
}
