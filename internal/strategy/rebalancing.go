package strategy

import (
	"arbengine/pkg/types"
)

// Rebalancing detects arbitrage across n-outcome markets (n >= 3): buying
// one share of every outcome guarantees the market's payout if the combined
// ask cost is below it.
type Rebalancing struct {
	MinEdge     types.Money
	MinProfit   types.Money
	MaxOutcomes int
}

func (r *Rebalancing) Name() string { return "market_rebalancing" }

func (r *Rebalancing) AppliesTo(ctx MarketContext) bool {
	if ctx.OutcomeCount < 3 {
		return false
	}
	if r.MaxOutcomes > 0 && ctx.OutcomeCount > r.MaxOutcomes {
		return false
	}
	return true
}

func (r *Rebalancing) Detect(ctx DetectionContext) []types.Opportunity {
	m := ctx.Market
	n := len(m.Outcomes)
	if n < 3 {
		return nil
	}
	if r.MaxOutcomes > 0 && n > r.MaxOutcomes {
		return nil
	}

	legs := make([]types.Leg, 0, n)
	totalCost := types.Zero
	volume := types.Money{}
	volumeSet := false

	for _, o := range m.Outcomes {
		book, ok := ctx.Books.Get(o.TokenId)
		if !ok {
			return nil
		}
		ask, ok := book.BestAsk()
		if !ok {
			return nil
		}
		if ask.Size.IsZero() || ask.Size.IsNegative() {
			return nil
		}
		if ask.Price.IsZero() || ask.Price.IsNegative() || ask.Price.GreaterThanOrEqual(types.One) {
			return nil
		}

		totalCost = totalCost.Add(ask.Price)
		if !volumeSet || ask.Size.LessThan(volume) {
			volume = ask.Size
			volumeSet = true
		}
		legs = append(legs, types.Leg{TokenId: o.TokenId, Side: types.Buy, Price: ask.Price, Size: ask.Size})
	}
	if !volumeSet {
		return nil
	}

	edge := m.Payout.Sub(totalCost)
	if edge.LessThan(r.MinEdge) {
		return nil
	}

	expectedProfit := edge.Mul(volume)
	if expectedProfit.LessThan(r.MinProfit) {
		return nil
	}

	for i := range legs {
		legs[i].Size = volume
	}

	opp := types.Opportunity{
		StrategyName:    r.Name(),
		MarketId:        m.Id,
		Legs:            legs,
		TotalCost:       totalCost,
		Edge:            edge,
		TradeableVolume: volume,
		ExpectedProfit:  expectedProfit,
		DetectedAt:      detectedAt(ctx.Now),
	}
	return []types.Opportunity{opp}
}
