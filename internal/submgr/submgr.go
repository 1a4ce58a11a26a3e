// Package submgr owns the priority queue of candidate tokens and the set
// of currently active subscriptions, expanding or contracting the active
// set on demand from the governor and the connection pool.
package submgr

import (
	"container/heap"
	"sync"

	"arbengine/pkg/types"
)

// Candidate is one (TokenId, score) pair competing for a subscription slot.
type Candidate struct {
	TokenId types.TokenId
	Score   float64
}

// candidateHeap is a max-heap on Score (heap.Pop returns the lowest value
// under container/heap's Less contract, so Less is inverted here to get
// highest-score-first semantics for expand). Contract does not use this
// heap; it scans the active set for the lowest scores.
type candidateHeap []*Candidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].Score > h[j].Score }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(*Candidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ConnectionEvent describes a token's subscription outcome as reported by
// the connection pool.
type ConnectionEvent struct {
	TokenId types.TokenId
	Dropped bool // true: token fell out of the active set; false: resumed
}

// Manager owns the candidate queue and active set. All operations are
// guarded by a single lock; manipulations are expected to be short-running.
type Manager struct {
	mu sync.Mutex

	queue    candidateHeap
	indexed  map[types.TokenId]*Candidate
	active   map[types.TokenId]float64

	activeCap   int
	activeFloor int
}

// NewManager creates an empty subscription manager. activeCap bounds the
// active-set size; activeFloor is the minimum contract must leave behind.
func NewManager(activeCap, activeFloor int) *Manager {
	return &Manager{
		indexed:     make(map[types.TokenId]*Candidate),
		active:      make(map[types.TokenId]float64),
		activeCap:   activeCap,
		activeFloor: activeFloor,
	}
}

// Enqueue merges candidates into the queue, deduplicating by token id and
// re-scoring any that are already present.
func (m *Manager) Enqueue(candidates []Candidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range candidates {
		c := c
		if _, ok := m.active[c.TokenId]; ok {
			m.active[c.TokenId] = c.Score
			continue
		}
		if existing, ok := m.indexed[c.TokenId]; ok {
			existing.Score = c.Score
			heap.Fix(&m.queue, m.indexOf(existing))
			continue
		}
		cand := &Candidate{TokenId: c.TokenId, Score: c.Score}
		m.indexed[c.TokenId] = cand
		heap.Push(&m.queue, cand)
	}
}

func (m *Manager) indexOf(target *Candidate) int {
	for i, c := range m.queue {
		if c == target {
			return i
		}
	}
	return -1
}

// Expand pops up to n highest-scoring unsubscribed tokens, adds them to the
// active set, and returns the ids actually added. Never exceeds the
// configured active-set cap.
func (m *Manager) Expand(n int) []types.TokenId {
	m.mu.Lock()
	defer m.mu.Unlock()

	var added []types.TokenId
	for len(added) < n && m.queue.Len() > 0 {
		if m.activeCap > 0 && len(m.active) >= m.activeCap {
			break
		}
		top := heap.Pop(&m.queue).(*Candidate)
		delete(m.indexed, top.TokenId)
		m.active[top.TokenId] = top.Score
		added = append(added, top.TokenId)
	}
	return added
}

// Contract removes up to n lowest-scoring active tokens and returns the ids
// removed. Never drops the active set below activeFloor.
func (m *Manager) Contract(n int) []types.TokenId {
	m.mu.Lock()
	defer m.mu.Unlock()

	type scored struct {
		id    types.TokenId
		score float64
	}
	all := make([]scored, 0, len(m.active))
	for id, score := range m.active {
		all = append(all, scored{id, score})
	}
	// simple selection of the n lowest-scoring; active sets are small
	// enough (subscription caps, not order-book scale) that O(n*m) is fine.
	var removed []types.TokenId
	for len(removed) < n && len(all) > 0 {
		if len(m.active)-len(removed) <= m.activeFloor {
			break
		}
		minIdx := 0
		for i := 1; i < len(all); i++ {
			if all[i].score < all[minIdx].score {
				minIdx = i
			}
		}
		victim := all[minIdx]
		all = append(all[:minIdx], all[minIdx+1:]...)
		delete(m.active, victim.id)
		removed = append(removed, victim.id)
	}
	return removed
}

// OnConnectionEvent adjusts the active set when the pool reports a token
// dropped or resumed. A dropped token is returned to the candidate queue
// with its last known score so it can be re-expanded later; a resumed
// token re-enters the active set directly.
func (m *Manager) OnConnectionEvent(e ConnectionEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.Dropped {
		score, ok := m.active[e.TokenId]
		if !ok {
			return
		}
		delete(m.active, e.TokenId)
		cand := &Candidate{TokenId: e.TokenId, Score: score}
		m.indexed[e.TokenId] = cand
		heap.Push(&m.queue, cand)
		return
	}

	if cand, ok := m.indexed[e.TokenId]; ok {
		heap.Remove(&m.queue, m.indexOf(cand))
		delete(m.indexed, e.TokenId)
		m.active[e.TokenId] = cand.Score
	}
}

// ActiveCount returns the current active-set size.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// QueueLen returns the number of queued, not-yet-active candidates.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// RemainingBudget returns how many more tokens can be added before hitting
// activeCap. An unconfigured (<=0) cap reports a large sentinel so callers
// can use it directly as a clamp ceiling.
func (m *Manager) RemainingBudget() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeCap <= 0 {
		return 1 << 30
	}
	remaining := m.activeCap - len(m.active)
	if remaining < 0 {
		return 0
	}
	return remaining
}
