package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"arbengine/internal/bookcache"
	"arbengine/internal/registry"
	"arbengine/pkg/types"
)

func dec(s string) types.Money {
	d, _ := decimal.NewFromString(s)
	return d
}

func binaryMarket() types.Market {
	return types.Market{
		Id: "m1",
		Outcomes: []types.Outcome{
			{TokenId: "y", Name: "Yes"},
			{TokenId: "n", Name: "No"},
		},
		Payout: types.One,
	}
}

func TestSingleConditionEmitsOpportunity(t *testing.T) {
	t.Parallel()
	s := &SingleCondition{MinEdge: dec("0.02"), MinProfit: dec("0.50")}
	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "y", Asks: []types.PriceLevel{{Price: dec("0.45"), Size: dec("100")}}})
	books.Update(types.OrderBook{TokenId: "n", Asks: []types.PriceLevel{{Price: dec("0.50"), Size: dec("80")}}})

	opps := s.Detect(DetectionContext{Market: binaryMarket(), Books: books})
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
	o := opps[0]
	if !o.Edge.Equal(dec("0.05")) {
		t.Errorf("Edge = %s, want 0.05", o.Edge)
	}
	if !o.TradeableVolume.Equal(dec("80")) {
		t.Errorf("TradeableVolume = %s, want 80", o.TradeableVolume)
	}
	if !o.ExpectedProfit.Equal(dec("4.00")) {
		t.Errorf("ExpectedProfit = %s, want 4.00", o.ExpectedProfit)
	}
	if len(o.Legs) != 2 || !o.Legs[0].Price.Equal(dec("0.45")) || !o.Legs[1].Price.Equal(dec("0.50")) {
		t.Errorf("Legs = %+v", o.Legs)
	}
}

func TestSingleConditionSuppressesBelowMinEdge(t *testing.T) {
	t.Parallel()
	s := &SingleCondition{MinEdge: dec("0.10"), MinProfit: dec("0")}
	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "y", Asks: []types.PriceLevel{{Price: dec("0.49"), Size: dec("100")}}})
	books.Update(types.OrderBook{TokenId: "n", Asks: []types.PriceLevel{{Price: dec("0.49"), Size: dec("100")}}})

	if opps := s.Detect(DetectionContext{Market: binaryMarket(), Books: books}); len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0 (edge 0.02 < min_edge 0.10)", len(opps))
	}
}

func TestSingleConditionMissingSideReturnsEmpty(t *testing.T) {
	t.Parallel()
	s := &SingleCondition{MinEdge: dec("0"), MinProfit: dec("0")}
	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "y", Asks: []types.PriceLevel{{Price: dec("0.45"), Size: dec("100")}}})

	if opps := s.Detect(DetectionContext{Market: binaryMarket(), Books: books}); len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0 (missing n side)", len(opps))
	}
}

func TestSingleConditionAppliesToBinaryOnly(t *testing.T) {
	t.Parallel()
	s := &SingleCondition{}
	if !s.AppliesTo(MarketContext{OutcomeCount: 2}) {
		t.Error("expected AppliesTo true for outcome_count=2")
	}
	if s.AppliesTo(MarketContext{OutcomeCount: 3}) {
		t.Error("expected AppliesTo false for outcome_count=3")
	}
}

func TestStrategyRegistryDetectsApplicableStrategy(t *testing.T) {
	t.Parallel()
	reg := NewRegistry(&SingleCondition{MinEdge: dec("0"), MinProfit: dec("0")})
	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "y", Asks: []types.PriceLevel{{Price: dec("0.40"), Size: dec("10")}}})
	books.Update(types.OrderBook{TokenId: "n", Asks: []types.PriceLevel{{Price: dec("0.40"), Size: dec("10")}}})

	opps := reg.Detect(MarketContext{OutcomeCount: 2}, DetectionContext{Market: binaryMarket(), Books: books, Registry: registry.New()})
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1", len(opps))
	}
}
