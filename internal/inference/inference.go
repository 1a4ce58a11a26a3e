// Package inference runs relation discovery off the hot path: a bounded
// deduped queue of triggering events feeds a coordinator that batches
// markets, rate-limits calls to a pluggable Inferrer, validates the
// result, and publishes surviving relations to the cluster cache.
package inference

import (
	"sync"

	"arbengine/pkg/types"
)

// EventKind names what triggered a market's re-inference.
type EventKind int

const (
	NewMarket EventKind = iota
	SignificantPriceChange
	FullScan
)

// Event is one triggering occurrence. The queue dedupes on MarketId alone:
// a market already queued is not queued again until it's drained.
type Event struct {
	Kind     EventKind
	MarketId types.MarketId
}

// Queue is a bounded, deduped FIFO of pending inference events. Safe for
// concurrent use: producers push from the hot path, the coordinator drains
// from its own goroutine.
type Queue struct {
	mu      sync.Mutex
	order   []types.MarketId
	pending map[types.MarketId]Event
	maxLen  int
}

// NewQueue creates a queue that drops the oldest pending event once maxLen
// distinct markets are queued. maxLen <= 0 means unbounded.
func NewQueue(maxLen int) *Queue {
	return &Queue{pending: make(map[types.MarketId]Event), maxLen: maxLen}
}

// Push enqueues evt, replacing any already-pending event for the same
// market without changing its queue position (content updates in place).
func (q *Queue) Push(evt Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.pending[evt.MarketId]; exists {
		q.pending[evt.MarketId] = evt
		return
	}

	if q.maxLen > 0 && len(q.order) >= q.maxLen {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.pending, oldest)
	}

	q.order = append(q.order, evt.MarketId)
	q.pending[evt.MarketId] = evt
}

// Drain removes and returns up to n pending events, oldest first. Passing
// n <= 0 drains everything.
func (q *Queue) Drain(n int) []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || n > len(q.order) {
		n = len(q.order)
	}
	out := make([]Event, 0, n)
	for _, id := range q.order[:n] {
		out = append(out, q.pending[id])
		delete(q.pending, id)
	}
	q.order = q.order[n:]
	return out
}

// Len reports the number of distinct markets currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
