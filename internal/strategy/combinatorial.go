package strategy

import (
	"math"

	"github.com/shopspring/decimal"

	"arbengine/internal/solver"
	"arbengine/pkg/types"
)

// Combinatorial detects arbitrage implied by cross-market relations (a
// cluster's precomputed constraints) via Frank-Wolfe projection of the
// current ask-price vector onto the marginal polytope, under the
// generalized-KL (logarithmic scoring rule) Bregman divergence.
type Combinatorial struct {
	MaxIterations int
	Tolerance     float64
	GapThreshold  float64
	Epsilon       float64
}

func (c *Combinatorial) Name() string { return "combinatorial" }

// AppliesTo is intentionally permissive: the real gate is whether the
// cluster cache holds a non-expired cluster for the market, which is only
// knowable in Detect (DetectionContext carries the cluster lookup).
func (c *Combinatorial) AppliesTo(ctx MarketContext) bool {
	return ctx.HasRelations
}

func divergence(mu, theta []float64) float64 {
	d := 0.0
	for i := range mu {
		if theta[i] <= 0 || mu[i] <= 0 {
			continue
		}
		d += mu[i]*math.Log(mu[i]/theta[i]) - mu[i] + theta[i]
	}
	return d
}

func gradient(mu, theta []float64) []float64 {
	g := make([]float64, len(mu))
	for i := range mu {
		m := mu[i]
		if m <= 1e-12 {
			m = 1e-12
		}
		th := theta[i]
		if th <= 1e-12 {
			th = 1e-12
		}
		g[i] = math.Log(m / th)
	}
	return g
}

// satisfiesAll reports whether theta itself already lies in the marginal
// polytope, per the spec's "clip only if infeasible" initialization rule.
func satisfiesAll(theta []float64, constraints []types.ConstraintRow) bool {
	const tol = 1e-9
	for _, c := range constraints {
		dot := 0.0
		for i, coeff := range c.Coefficients {
			dot += coeff * theta[i]
		}
		switch c.Sense {
		case types.SenseLE:
			if dot > c.RHS+tol {
				return false
			}
		case types.SenseGE:
			if dot < c.RHS-tol {
				return false
			}
		case types.SenseEQ:
			if math.Abs(dot-c.RHS) > tol {
				return false
			}
		}
	}
	return true
}

// clipToPolytope finds a feasible 0/1 vertex of the marginal polytope to
// seed Frank-Wolfe when theta itself violates the cluster's constraints,
// by solving a single ILP maximizing <theta, x> (the vertex most aligned
// with theta's direction); subsequent FW iterations pull mu back toward
// theta's interior.
func clipToPolytope(theta []float64, constraints []types.ConstraintRow) []float64 {
	n := len(theta)
	res := solver.SolveILP(theta, constraints)
	if res.Status == solver.StatusOptimal {
		return res.Allocations
	}
	out := make([]float64, n)
	copy(out, theta)
	return out
}

func (c *Combinatorial) Detect(ctx DetectionContext) []types.Opportunity {
	if ctx.Clusters == nil {
		return nil
	}
	cluster, ok := ctx.Clusters.GetCluster(ctx.Market.Id)
	if !ok {
		return nil
	}

	n := len(cluster.OrderedMarkets)
	if n == 0 {
		return nil
	}

	theta := make([]float64, n)
	bestAskPrice := make([]types.Money, n)
	bestAskSize := make([]types.Money, n)
	bestAskToken := make([]types.TokenId, n)

	for i, mid := range cluster.OrderedMarkets {
		mkt, ok := marketByID(ctx, mid)
		if !ok || len(mkt.Outcomes) == 0 {
			return nil
		}
		yes := mkt.Outcomes[0].TokenId
		book, ok := ctx.Books.Get(yes)
		if !ok {
			return nil
		}
		ask, ok := book.BestAsk()
		if !ok {
			return nil
		}
		f, _ := ask.Price.Float64()
		theta[i] = f
		bestAskPrice[i] = ask.Price
		bestAskSize[i] = ask.Size
		bestAskToken[i] = yes
	}

	var mu []float64
	if satisfiesAll(theta, cluster.PrecomputedConstraints) {
		mu = append(mu, theta...)
	} else {
		mu = clipToPolytope(theta, cluster.PrecomputedConstraints)
	}

	maxIter := c.MaxIterations
	if maxIter <= 0 {
		maxIter = 50
	}
	tol := c.Tolerance
	if tol <= 0 {
		tol = 1e-4
	}

	for iter := 0; iter < maxIter; iter++ {
		g := gradient(mu, theta)

		negG := make([]float64, n)
		for i, v := range g {
			negG[i] = -v
		}
		oracle := solver.SolveILP(negG, cluster.PrecomputedConstraints)
		if oracle.Status != solver.StatusOptimal {
			return nil
		}
		v := oracle.Allocations

		gap := 0.0
		for i := range mu {
			gap += g[i] * (mu[i] - v[i])
		}
		if gap < tol {
			break
		}

		alpha := lineSearch(mu, v, theta)
		for i := range mu {
			mu[i] = mu[i] + alpha*(v[i]-mu[i])
		}
	}

	gap := divergence(mu, theta)
	threshold := c.GapThreshold
	if threshold <= 0 {
		threshold = 0.02
	}
	if gap <= threshold {
		return nil
	}

	eps := c.Epsilon
	if eps <= 0 {
		eps = 1e-4
	}

	var legs []types.Leg
	var volume types.Money
	volumeSet := false
	for i := range mu {
		if mu[i] > theta[i]+eps {
			legs = append(legs, types.Leg{
				TokenId: bestAskToken[i],
				Side:    types.Buy,
				Price:   bestAskPrice[i],
				Size:    bestAskSize[i],
			})
			if !volumeSet || bestAskSize[i].LessThan(volume) {
				volume = bestAskSize[i]
				volumeSet = true
			}
		}
	}
	if len(legs) == 0 {
		return nil
	}

	for i := range legs {
		legs[i].Size = volume
	}

	totalCost := types.Zero
	for _, l := range legs {
		totalCost = totalCost.Add(l.Price)
	}
	edge := decimal.NewFromFloat(gap)
	expectedProfit := edge.Mul(volume)

	opp := types.Opportunity{
		StrategyName:    c.Name(),
		MarketId:        ctx.Market.Id,
		Legs:            legs,
		TotalCost:       totalCost,
		Edge:            edge,
		TradeableVolume: volume,
		ExpectedProfit:  expectedProfit,
		DetectedAt:      detectedAt(ctx.Now),
	}
	return []types.Opportunity{opp}
}

// lineSearch finds the step alpha in [0,1] minimizing the divergence to
// theta along mu + alpha*(v-mu). The KL-type divergence is convex along any
// segment of the polytope, so a ternary search over the unimodal objective
// is exact to floating-point precision without needing gradient steps.
func lineSearch(mu, v, theta []float64) float64 {
	f := func(alpha float64) float64 {
		cand := make([]float64, len(mu))
		for i := range mu {
			cand[i] = mu[i] + alpha*(v[i]-mu[i])
		}
		return divergence(cand, theta)
	}

	lo, hi := 0.0, 1.0
	for iter := 0; iter < 60; iter++ {
		m1 := lo + (hi-lo)/3
		m2 := hi - (hi-lo)/3
		if f(m1) < f(m2) {
			hi = m2
		} else {
			lo = m1
		}
	}
	return (lo + hi) / 2
}

func marketByID(ctx DetectionContext, id types.MarketId) (types.Market, bool) {
	if ctx.Market.Id == id {
		return ctx.Market, true
	}
	return ctx.Registry.Market(id)
}
