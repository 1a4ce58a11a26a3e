// Package registry maps token ids to their parent markets and resolves
// outcome siblings for the strategy layer. It is built at startup from the
// exchange's market listing and is read-only between refreshes.
package registry

import (
	"fmt"
	"sync"

	"arbengine/pkg/types"
)

// tokenEntry records which market and outcome slot a token belongs to.
type tokenEntry struct {
	marketId     types.MarketId
	outcomeIndex int
}

// Registry is safe for concurrent reads; Refresh serializes writers.
type Registry struct {
	mu       sync.RWMutex
	markets  map[types.MarketId]types.Market
	tokens   map[types.TokenId]tokenEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		markets: make(map[types.MarketId]types.Market),
		tokens:  make(map[types.TokenId]tokenEntry),
	}
}

// Refresh atomically replaces the registry's contents with a new market
// listing. Call this at startup and whenever the exchange's market listing
// changes.
func (r *Registry) Refresh(markets []types.Market) error {
	newMarkets := make(map[types.MarketId]types.Market, len(markets))
	newTokens := make(map[types.TokenId]tokenEntry)

	for _, m := range markets {
		if len(m.Outcomes) < 2 {
			return fmt.Errorf("market %s has fewer than 2 outcomes", m.Id)
		}
		newMarkets[m.Id] = m
		for i, o := range m.Outcomes {
			newTokens[o.TokenId] = tokenEntry{marketId: m.Id, outcomeIndex: i}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets = newMarkets
	r.tokens = newTokens
	return nil
}

// MarketForToken returns the market a token belongs to.
func (r *Registry) MarketForToken(token types.TokenId) (types.Market, bool) {
	r.mu.RLock()
	entry, ok := r.tokens[token]
	if !ok {
		r.mu.RUnlock()
		return types.Market{}, false
	}
	m, ok := r.markets[entry.marketId]
	r.mu.RUnlock()
	return m, ok
}

// Market returns a market by id.
func (r *Registry) Market(id types.MarketId) (types.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	return m, ok
}

// OutcomeIndex returns the outcome slot a token occupies within its market.
func (r *Registry) OutcomeIndex(token types.TokenId) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tokens[token]
	if !ok {
		return 0, false
	}
	return entry.outcomeIndex, true
}

// OutcomeSiblings returns the other tokens belonging to the same market as
// token, in outcome order (the given token itself is excluded).
func (r *Registry) OutcomeSiblings(token types.TokenId) []types.TokenId {
	m, ok := r.MarketForToken(token)
	if !ok {
		return nil
	}
	siblings := make([]types.TokenId, 0, len(m.Outcomes)-1)
	for _, o := range m.Outcomes {
		if o.TokenId != token {
			siblings = append(siblings, o.TokenId)
		}
	}
	return siblings
}

// Markets returns a snapshot of all known markets.
func (r *Registry) Markets() []types.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	return out
}

// Len returns the number of known markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
