package strategy

import (
	"testing"
	"time"

	"arbengine/internal/bookcache"
	"arbengine/internal/registry"
	"arbengine/pkg/types"
)

type fakeClusterLookup struct {
	cluster types.Cluster
	ok      bool
}

func (f fakeClusterLookup) GetCluster(id types.MarketId) (types.Cluster, bool) {
	return f.cluster, f.ok
}

func impliesCluster() types.Cluster {
	return types.Cluster{
		Id:             "c1",
		OrderedMarkets: []types.MarketId{"A", "B"},
		PrecomputedConstraints: []types.ConstraintRow{
			// mu_A - mu_B <= 0
			{Coefficients: []float64{1, -1}, Sense: types.SenseLE, RHS: 0},
		},
	}
}

func marketsAB() (types.Market, types.Market) {
	a := types.Market{Id: "A", Outcomes: []types.Outcome{{TokenId: "a-yes"}, {TokenId: "a-no"}}, Payout: types.One}
	b := types.Market{Id: "B", Outcomes: []types.Outcome{{TokenId: "b-yes"}, {TokenId: "b-no"}}, Payout: types.One}
	return a, b
}

func TestCombinatorialEmitsOpportunityOnImplicationViolation(t *testing.T) {
	t.Parallel()
	c := &Combinatorial{MaxIterations: 50, Tolerance: 1e-6, GapThreshold: 0.02, Epsilon: 1e-4}

	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "a-yes", Asks: []types.PriceLevel{{Price: dec("0.60"), Size: dec("100")}}})
	books.Update(types.OrderBook{TokenId: "b-yes", Asks: []types.PriceLevel{{Price: dec("0.40"), Size: dec("100")}}})

	reg := registry.New()
	a, b := marketsAB()
	_ = reg.Refresh([]types.Market{a, b})

	ctx := DetectionContext{
		Market:   a,
		Books:    books,
		Registry: reg,
		Clusters: fakeClusterLookup{cluster: impliesCluster(), ok: true},
		Now:      time.Now(),
	}
	opps := c.Detect(ctx)
	if len(opps) != 1 {
		t.Fatalf("got %d opportunities, want 1 (implication violated by theta=(0.6, 0.4))", len(opps))
	}
	if opps[0].StrategyName != "combinatorial" {
		t.Errorf("StrategyName = %s", opps[0].StrategyName)
	}
	if len(opps[0].Legs) == 0 {
		t.Error("expected at least one leg")
	}
}

func TestCombinatorialNoClusterReturnsEmpty(t *testing.T) {
	t.Parallel()
	c := &Combinatorial{}
	books := bookcache.New()
	reg := registry.New()
	a, _ := marketsAB()

	ctx := DetectionContext{Market: a, Books: books, Registry: reg, Clusters: fakeClusterLookup{ok: false}}
	if opps := c.Detect(ctx); len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0 (no cluster)", len(opps))
	}
}

func TestCombinatorialZeroGapWithDefaultThresholdNoOpportunity(t *testing.T) {
	t.Parallel()
	// Feasible prices drive the Frank-Wolfe gap to exactly 0; a GapThreshold
	// of 0 falls back to the 0.02 default, so the zero gap must not emit an
	// opportunity.
	c := &Combinatorial{MaxIterations: 50, Tolerance: 1e-6, GapThreshold: 0, Epsilon: 1e-4}

	books := bookcache.New()
	books.Update(types.OrderBook{TokenId: "a-yes", Asks: []types.PriceLevel{{Price: dec("0.30"), Size: dec("100")}}})
	books.Update(types.OrderBook{TokenId: "b-yes", Asks: []types.PriceLevel{{Price: dec("0.70"), Size: dec("100")}}})

	reg := registry.New()
	a, b := marketsAB()
	_ = reg.Refresh([]types.Market{a, b})

	ctx := DetectionContext{
		Market:   a,
		Books:    books,
		Registry: reg,
		Clusters: fakeClusterLookup{cluster: impliesCluster(), ok: true},
	}
	if opps := c.Detect(ctx); len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0 (zero gap below default threshold)", len(opps))
	}
}

func TestCombinatorialConsistentPricesNoOpportunity(t *testing.T) {
	t.Parallel()
	c := &Combinatorial{MaxIterations: 50, Tolerance: 1e-6, GapThreshold: 0.02, Epsilon: 1e-4}

	books := bookcache.New()
	// mu_A <= mu_B already satisfied: theta is feasible, no mass movement needed.
	books.Update(types.OrderBook{TokenId: "a-yes", Asks: []types.PriceLevel{{Price: dec("0.30"), Size: dec("100")}}})
	books.Update(types.OrderBook{TokenId: "b-yes", Asks: []types.PriceLevel{{Price: dec("0.70"), Size: dec("100")}}})

	reg := registry.New()
	a, b := marketsAB()
	_ = reg.Refresh([]types.Market{a, b})

	ctx := DetectionContext{
		Market:   a,
		Books:    books,
		Registry: reg,
		Clusters: fakeClusterLookup{cluster: impliesCluster(), ok: true},
	}
	if opps := c.Detect(ctx); len(opps) != 0 {
		t.Errorf("got %d opportunities, want 0 (prices already feasible)", len(opps))
	}
}
