package submgr

import (
	"testing"

	"arbengine/pkg/types"
)

func TestExpandPopsHighestScoringFirst(t *testing.T) {
	t.Parallel()
	m := NewManager(10, 0)
	m.Enqueue([]Candidate{
		{TokenId: "low", Score: 0.1},
		{TokenId: "high", Score: 0.9},
		{TokenId: "mid", Score: 0.5},
	})

	added := m.Expand(2)
	if len(added) != 2 || added[0] != "high" || added[1] != "mid" {
		t.Errorf("Expand(2) = %v, want [high mid]", added)
	}
	if m.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2", m.ActiveCount())
	}
	if m.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1", m.QueueLen())
	}
}

func TestExpandNeverExceedsCap(t *testing.T) {
	t.Parallel()
	m := NewManager(1, 0)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 1}, {TokenId: "b", Score: 2}})

	added := m.Expand(5)
	if len(added) != 1 {
		t.Fatalf("Expand(5) with cap=1 added %d, want 1", len(added))
	}
}

func TestContractRemovesLowestScoringFirst(t *testing.T) {
	t.Parallel()
	m := NewManager(10, 0)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 0.9}, {TokenId: "b", Score: 0.1}, {TokenId: "c", Score: 0.5}})
	m.Expand(3)

	removed := m.Contract(1)
	if len(removed) != 1 || removed[0] != "b" {
		t.Errorf("Contract(1) = %v, want [b]", removed)
	}
}

func TestContractNeverDropsBelowFloor(t *testing.T) {
	t.Parallel()
	m := NewManager(10, 2)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 1}, {TokenId: "b", Score: 2}, {TokenId: "c", Score: 3}})
	m.Expand(3)

	removed := m.Contract(5)
	if len(removed) != 1 {
		t.Fatalf("Contract(5) with floor=2 removed %d, want 1", len(removed))
	}
	if m.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2 (floor)", m.ActiveCount())
	}
}

func TestOnConnectionEventDroppedReturnsToQueue(t *testing.T) {
	t.Parallel()
	m := NewManager(10, 0)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 0.5}})
	m.Expand(1)

	m.OnConnectionEvent(ConnectionEvent{TokenId: "a", Dropped: true})
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after drop", m.ActiveCount())
	}
	if m.QueueLen() != 1 {
		t.Errorf("QueueLen() = %d, want 1 after drop", m.QueueLen())
	}
}

func TestEnqueueDedupesAndRescores(t *testing.T) {
	t.Parallel()
	m := NewManager(10, 0)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 0.1}})
	m.Enqueue([]Candidate{{TokenId: "a", Score: 0.9}})

	if m.QueueLen() != 1 {
		t.Fatalf("QueueLen() = %d, want 1 (deduped)", m.QueueLen())
	}
	added := m.Expand(1)
	if len(added) != 1 || added[0] != types.TokenId("a") {
		t.Errorf("Expand(1) = %v", added)
	}
}

func TestRemainingBudget(t *testing.T) {
	t.Parallel()
	m := NewManager(3, 0)
	m.Enqueue([]Candidate{{TokenId: "a", Score: 1}, {TokenId: "b", Score: 2}})
	m.Expand(2)

	if got := m.RemainingBudget(); got != 1 {
		t.Errorf("RemainingBudget() = %d, want 1", got)
	}
}
