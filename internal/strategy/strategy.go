// Package strategy holds the pluggable arbitrage-detection strategies and
// the registry that routes order-book updates to the strategies applicable
// to a given market's shape.
package strategy

import (
	"sort"
	"time"

	"arbengine/internal/bookcache"
	"arbengine/internal/registry"
	"arbengine/pkg/types"
)

// MarketContext is the pure-predicate input to Strategy.AppliesTo. It never
// touches live state so AppliesTo stays side-effect free.
type MarketContext struct {
	OutcomeCount     int
	HasRelations     bool
	CorrelatedMarket []types.MarketId
}

// ClusterLookup is the read-only view the combinatorial strategy needs into
// the cluster cache. Defined here (consumer side) so strategy does not
// depend on the clustercache package's concrete type.
type ClusterLookup interface {
	GetCluster(id types.MarketId) (types.Cluster, bool)
}

// DetectionContext gives a strategy read-only access to the live state it
// needs to compute opportunities for one market.
type DetectionContext struct {
	Market   types.Market
	Books    *bookcache.Cache
	Registry *registry.Registry
	Clusters ClusterLookup
	Now      time.Time
}

// Strategy is implemented by each detection algorithm. Detect must be a
// pure function of its inputs: no hidden state, no side effects.
type Strategy interface {
	Name() string
	AppliesTo(ctx MarketContext) bool
	Detect(ctx DetectionContext) []types.Opportunity
}

// Registry dispatches book updates to every applicable strategy and orders
// their combined output.
type Registry struct {
	strategies []Strategy
}

// NewRegistry builds a strategy registry from a fixed ordered list of
// strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	return &Registry{strategies: strategies}
}

// Detect runs every strategy whose AppliesTo predicate matches mctx, and
// returns their combined opportunities ordered by (expected_profit desc,
// strategy_name).
func (r *Registry) Detect(mctx MarketContext, dctx DetectionContext) []types.Opportunity {
	var out []types.Opportunity
	for _, s := range r.strategies {
		if !s.AppliesTo(mctx) {
			continue
		}
		out = append(out, s.Detect(dctx)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpectedProfit.Equal(out[j].ExpectedProfit) {
			return out[i].ExpectedProfit.GreaterThan(out[j].ExpectedProfit)
		}
		return out[i].StrategyName < out[j].StrategyName
	})
	return out
}

// Strategies returns the registry's configured strategies in order.
func (r *Registry) Strategies() []Strategy {
	return r.strategies
}
