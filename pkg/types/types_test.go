package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestMarketOutcomeIndex(t *testing.T) {
	t.Parallel()
	m := Market{
		Id: "m1",
		Outcomes: []Outcome{
			{TokenId: "y", Name: "Yes"},
			{TokenId: "n", Name: "No"},
		},
		Payout: One,
	}

	if got := m.OutcomeIndex("y"); got != 0 {
		t.Errorf("OutcomeIndex(y) = %d, want 0", got)
	}
	if got := m.OutcomeIndex("n"); got != 1 {
		t.Errorf("OutcomeIndex(n) = %d, want 1", got)
	}
	if got := m.OutcomeIndex("z"); got != -1 {
		t.Errorf("OutcomeIndex(z) = %d, want -1", got)
	}
}

func TestOrderBookBestLevels(t *testing.T) {
	t.Parallel()
	book := OrderBook{
		TokenId: "y",
		Bids:    []PriceLevel{{Price: dec("0.40"), Size: dec("100")}},
		Asks:    []PriceLevel{{Price: dec("0.45"), Size: dec("80")}},
	}

	bid, ok := book.BestBid()
	if !ok || !bid.Price.Equal(dec("0.40")) {
		t.Errorf("BestBid = %+v, ok=%v", bid, ok)
	}
	ask, ok := book.BestAsk()
	if !ok || !ask.Price.Equal(dec("0.45")) {
		t.Errorf("BestAsk = %+v, ok=%v", ask, ok)
	}

	empty := OrderBook{TokenId: "z"}
	if _, ok := empty.BestBid(); ok {
		t.Error("BestBid on empty book should be absent")
	}
	if _, ok := empty.BestAsk(); ok {
		t.Error("BestAsk on empty book should be absent")
	}
}

func TestClusterMarketIndex(t *testing.T) {
	t.Parallel()
	c := Cluster{
		Id:             "c1",
		OrderedMarkets: []MarketId{"a", "b", "c"},
	}

	if got := c.MarketIndex("b"); got != 1 {
		t.Errorf("MarketIndex(b) = %d, want 1", got)
	}
	if got := c.MarketIndex("z"); got != -1 {
		t.Errorf("MarketIndex(z) = %d, want -1", got)
	}
}

func TestRelationMembers(t *testing.T) {
	t.Parallel()

	implies := Relation{Kind: KindImplies, IfYes: "a", ThenYes: "b"}
	if got := implies.Members(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Implies.Members() = %v", got)
	}

	mutex := Relation{Kind: KindMutuallyExclusive, Markets: []MarketId{"x", "y", "z"}}
	if got := mutex.Members(); len(got) != 3 {
		t.Errorf("MutuallyExclusive.Members() = %v", got)
	}

	linear := Relation{Kind: KindLinear, Terms: []LinearTerm{{MarketId: "p", Coefficient: 1}, {MarketId: "q", Coefficient: -1}}}
	if got := linear.Members(); len(got) != 2 || got[0] != "p" || got[1] != "q" {
		t.Errorf("Linear.Members() = %v", got)
	}
}
