// Package clustercache maps a market id to its current cluster and exposes
// precomputed constraint matrices to the combinatorial strategy. Relations
// are grouped into clusters by connected components (union-find) over the
// markets they mention.
package clustercache

import (
	"sort"
	"sync"
	"time"

	"arbengine/pkg/types"
)

// Persister is implemented by internal/store to make relations and
// clusters crash-safe. Nil is valid: an in-memory-only cache.
type Persister interface {
	SaveRelations(relations []types.Relation) error
	LoadRelations() ([]types.Relation, error)
}

// Cache is safe for many concurrent readers; writes (AddRelations,
// Invalidate) are serialized by a single lock, matching the reader-
// majority policy: reads never block on each other.
type Cache struct {
	mu sync.RWMutex

	ttl       time.Duration
	relations []types.Relation

	clusters map[types.ClusterId]types.Cluster
	byMarket map[types.MarketId]types.ClusterId

	persist Persister
}

// New creates an empty cluster cache. A zero ttl means clusters never
// expire by age (still invalidated explicitly).
func New(ttl time.Duration, persist Persister) *Cache {
	c := &Cache{
		ttl:      ttl,
		clusters: make(map[types.ClusterId]types.Cluster),
		byMarket: make(map[types.MarketId]types.ClusterId),
		persist:  persist,
	}
	if persist != nil {
		if relations, err := persist.LoadRelations(); err == nil && len(relations) > 0 {
			c.rebuild(relations)
		}
	}
	return c
}

// GetCluster returns a non-expired cluster containing the market, or
// (zero, false) if absent or expired.
func (c *Cache) GetCluster(id types.MarketId) (types.Cluster, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cid, ok := c.byMarket[id]
	if !ok {
		return types.Cluster{}, false
	}
	cluster, ok := c.clusters[cid]
	if !ok {
		return types.Cluster{}, false
	}
	if c.ttl > 0 && time.Since(cluster.UpdatedAt) > c.ttl {
		return types.Cluster{}, false
	}
	return cluster, true
}

// AddRelations merges new relations into the known set and rebuilds
// clusters by connected components. Callers may call this with a single
// relation or a full batch.
func (c *Cache) AddRelations(relations []types.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.relations = append(c.relations, relations...)
	c.rebuildLocked(c.relations, time.Now())

	if c.persist != nil {
		_ = c.persist.SaveRelations(c.relations)
	}
}

func (c *Cache) rebuild(relations []types.Relation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relations = relations
	c.rebuildLocked(relations, time.Now())
}

// Invalidate drops any cluster containing the market. The relations that
// produced it are also dropped, since the caller is expected to re-infer
// and re-publish fresh relations for the market's new state.
func (c *Cache) Invalidate(id types.MarketId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cid, ok := c.byMarket[id]
	if !ok {
		return
	}
	cluster := c.clusters[cid]
	stale := make(map[types.MarketId]bool, len(cluster.OrderedMarkets))
	for _, m := range cluster.OrderedMarkets {
		stale[m] = true
	}

	kept := c.relations[:0:0]
	for _, r := range c.relations {
		touchesStale := false
		for _, m := range r.Members() {
			if stale[m] {
				touchesStale = true
				break
			}
		}
		if !touchesStale {
			kept = append(kept, r)
		}
	}
	c.relations = kept
	c.rebuildLocked(c.relations, time.Now())

	if c.persist != nil {
		_ = c.persist.SaveRelations(c.relations)
	}
}

// rebuildLocked regroups all relations into clusters by connected
// component. Caller holds c.mu.
func (c *Cache) rebuildLocked(relations []types.Relation, now time.Time) {
	uf := newUnionFind()
	relationsByMarket := make(map[types.MarketId][]types.Relation)

	for _, r := range relations {
		members := r.Members()
		if len(members) == 0 {
			continue
		}
		uf.add(members[0])
		for _, m := range members[1:] {
			uf.add(m)
			uf.union(members[0], m)
		}
		for _, m := range members {
			relationsByMarket[m] = append(relationsByMarket[m], r)
		}
	}

	componentMembers := make(map[types.MarketId][]types.MarketId)
	for m := range relationsByMarket {
		root := uf.find(m)
		componentMembers[root] = append(componentMembers[root], m)
	}

	newClusters := make(map[types.ClusterId]types.Cluster)
	newByMarket := make(map[types.MarketId]types.ClusterId)

	for root, members := range componentMembers {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		seen := make(map[types.RelationId]bool)
		var rels []types.Relation
		for _, m := range members {
			for _, r := range relationsByMarket[m] {
				if r.Id != "" && seen[r.Id] {
					continue
				}
				if r.Id != "" {
					seen[r.Id] = true
				}
				rels = append(rels, r)
			}
		}

		cid := types.ClusterId(root)
		cluster := types.Cluster{
			Id:                     cid,
			OrderedMarkets:         members,
			Relations:              rels,
			PrecomputedConstraints: encodeConstraints(members, rels),
			UpdatedAt:              now,
		}
		newClusters[cid] = cluster
		for _, m := range members {
			newByMarket[m] = cid
		}
	}

	c.clusters = newClusters
	c.byMarket = newByMarket
}

// encodeConstraints materializes every relation into dense coefficient rows
// indexed consistently with members' order, so hot-path strategies never
// translate relations themselves.
func encodeConstraints(members []types.MarketId, relations []types.Relation) []types.ConstraintRow {
	index := make(map[types.MarketId]int, len(members))
	for i, m := range members {
		index[m] = i
	}
	n := len(members)

	var rows []types.ConstraintRow
	for _, r := range relations {
		switch r.Kind {
		case types.KindImplies:
			row := make([]float64, n)
			row[index[r.IfYes]] = 1
			row[index[r.ThenYes]] -= 1
			rows = append(rows, types.ConstraintRow{Coefficients: row, Sense: types.SenseLE, RHS: 0})

		case types.KindMutuallyExclusive:
			row := make([]float64, n)
			for _, m := range r.Markets {
				row[index[m]] += 1
			}
			rows = append(rows, types.ConstraintRow{Coefficients: row, Sense: types.SenseLE, RHS: 1})

		case types.KindExactlyOne:
			row := make([]float64, n)
			for _, m := range r.Markets {
				row[index[m]] += 1
			}
			rows = append(rows, types.ConstraintRow{Coefficients: row, Sense: types.SenseEQ, RHS: 1})

		case types.KindLinear:
			row := make([]float64, n)
			for _, t := range r.Terms {
				row[index[t.MarketId]] += t.Coefficient
			}
			rows = append(rows, types.ConstraintRow{Coefficients: row, Sense: r.Sense, RHS: r.RHS})
		}
	}
	return rows
}
