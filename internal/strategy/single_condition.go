package strategy

import (
	"time"

	"arbengine/pkg/types"
)

// SingleCondition detects the binary (two-outcome) arbitrage: buying both
// outcomes whenever their combined ask cost is below the market's payout.
type SingleCondition struct {
	MinEdge   types.Money
	MinProfit types.Money
}

func (s *SingleCondition) Name() string { return "single_condition" }

func (s *SingleCondition) AppliesTo(ctx MarketContext) bool {
	return ctx.OutcomeCount == 2
}

func (s *SingleCondition) Detect(ctx DetectionContext) []types.Opportunity {
	m := ctx.Market
	if len(m.Outcomes) != 2 {
		return nil
	}
	a, b := m.Outcomes[0], m.Outcomes[1]

	bookA, bookB, ok := ctx.Books.GetPair(a.TokenId, b.TokenId)
	if !ok {
		return nil
	}
	askA, ok := bookA.BestAsk()
	if !ok {
		return nil
	}
	askB, ok := bookB.BestAsk()
	if !ok {
		return nil
	}

	totalCost := askA.Price.Add(askB.Price)
	edge := m.Payout.Sub(totalCost)
	if edge.LessThan(s.MinEdge) {
		return nil
	}

	volume := types.Money(askA.Size)
	if askB.Size.LessThan(volume) {
		volume = askB.Size
	}

	expectedProfit := edge.Mul(volume)
	if expectedProfit.LessThan(s.MinProfit) {
		return nil
	}

	opp := types.Opportunity{
		StrategyName: s.Name(),
		MarketId:     m.Id,
		Legs: []types.Leg{
			{TokenId: a.TokenId, Side: types.Buy, Price: askA.Price, Size: volume},
			{TokenId: b.TokenId, Side: types.Buy, Price: askB.Price, Size: volume},
		},
		TotalCost:       totalCost,
		Edge:            edge,
		TradeableVolume: volume,
		ExpectedProfit:  expectedProfit,
		DetectedAt:      detectedAt(ctx.Now),
	}
	return []types.Opportunity{opp}
}

func detectedAt(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now()
	}
	return now
}
