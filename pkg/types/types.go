// Package types defines the shared data model for the arbitrage engine —
// identifiers, money, order books, opportunities, positions, relations and
// clusters. It has no dependencies on internal packages, so it can be
// imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Identifiers
// ————————————————————————————————————————————————————————————————————————

// TokenId identifies a single tradeable outcome token on the exchange.
type TokenId string

// MarketId identifies a market (a question with ≥2 outcomes).
type MarketId string

// RelationId identifies an inferred logical constraint between markets.
type RelationId string

// ClusterId identifies a set of markets transitively connected by relations.
type ClusterId string

// PositionId identifies an opened position resulting from an execution.
type PositionId string

// ————————————————————————————————————————————————————————————————————————
// Money
// ————————————————————————————————————————————————————————————————————————

// Money is the sole numeric type on the value path: prices, sizes,
// exposure, and PnL. decimal.Decimal carries arbitrary precision, so the
// ≥28-significant-digit requirement holds without a custom bignum type.
// Floating point must never appear in a Money computation.
type Money = decimal.Decimal

// Zero is the Money zero value, for readability at call sites.
var Zero = decimal.Zero

// One is the Money value 1, used as the default payout scalar and the
// upper price bound.
var One = decimal.NewFromInt(1)

// ————————————————————————————————————————————————————————————————————————
// Side
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// ————————————————————————————————————————————————————————————————————————
// Market / Outcome
// ————————————————————————————————————————————————————————————————————————

// Outcome pairs a token with its display name. Outcome order within a
// Market is stable for the market's lifetime.
type Outcome struct {
	TokenId TokenId
	Name    string
}

// Market is a question with an ordered list of ≥2 outcomes and a payout
// scalar (typically 1.0): the sum of all winning-outcome payouts.
type Market struct {
	Id       MarketId
	Question string
	Outcomes []Outcome
	Payout   Money
	EndDate  *time.Time
}

// OutcomeIndex returns the position of token within the market's outcome
// list, or -1 if the token does not belong to this market.
func (m Market) OutcomeIndex(token TokenId) int {
	for i, o := range m.Outcomes {
		if o.TokenId == token {
			return i
		}
	}
	return -1
}

// ————————————————————————————————————————————————————————————————————————
// Order book
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single resting quantity at a price.
type PriceLevel struct {
	Price Money
	Size  Money
}

// OrderBook is a point-in-time snapshot of one token's book. Bids are
// sorted descending by price; asks ascending. A side with no levels is
// valid (no best quote available).
type OrderBook struct {
	TokenId   TokenId
	Bids      []PriceLevel
	Asks      []PriceLevel
	UpdatedAt time.Time
}

// BestBid returns the highest bid level, or false if the book has no bids.
func (b OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the book has no asks.
func (b OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// ————————————————————————————————————————————————————————————————————————
// Opportunity
// ————————————————————————————————————————————————————————————————————————

// Leg is one order to place as part of an opportunity.
type Leg struct {
	TokenId TokenId
	Side    Side
	Price   Money
	Size    Money
}

// Opportunity is an immutable value computed by a strategy. An opportunity
// with Edge <= 0 must never be constructed by a strategy; callers that
// build one outside a strategy (e.g. tests) are expected to honor the same
// rule.
type Opportunity struct {
	StrategyName     string
	MarketId         MarketId
	Legs             []Leg
	TotalCost        Money
	Edge             Money
	TradeableVolume  Money
	ExpectedProfit   Money
	DetectedAt       time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// PositionStatus is a closed set of variants: Open, PartialFill, Closed.
// Only the fields relevant to Status are meaningful; this mirrors a sum
// type without requiring an interface per variant.
type PositionStatusKind int

const (
	StatusOpen PositionStatusKind = iota
	StatusPartialFill
	StatusClosed
)

// PositionStatus carries the variant-specific payload for a Position's
// lifecycle state.
type PositionStatus struct {
	Kind PositionStatusKind

	// PartialFill fields.
	Filled  []TokenId
	Missing []TokenId

	// Closed fields.
	RealizedPnL Money
	ClosedAt    time.Time
}

// Position is created on successful (or partially successful) execution.
type Position struct {
	Id               PositionId
	MarketId         MarketId
	LegsFilled       []Leg
	EntryCost        Money
	GuaranteedPayout Money
	OpenedAt         time.Time
	Status           PositionStatus
}

// ————————————————————————————————————————————————————————————————————————
// Relation / Cluster
// ————————————————————————————————————————————————————————————————————————

// RelationKind enumerates the four supported constraint shapes.
type RelationKind int

const (
	KindImplies RelationKind = iota
	KindMutuallyExclusive
	KindExactlyOne
	KindLinear
)

// Sense is the comparison operator of a Linear relation or a solver
// Constraint.
type Sense string

const (
	SenseLE Sense = "<="
	SenseEQ Sense = "="
	SenseGE Sense = ">="
)

// LinearTerm is one (market, coefficient) pair of a Linear relation.
type LinearTerm struct {
	MarketId    MarketId
	Coefficient float64
}

// Relation is an inferred logical constraint between markets.
//
//   - Implies(IfYes, ThenYes): encoded as μ_IfYes − μ_ThenYes ≤ 0.
//   - MutuallyExclusive(Markets): Σ μ_i ≤ 1.
//   - ExactlyOne(Markets): Σ μ_i = 1.
//   - Linear(Terms, Sense, RHS): arbitrary linear constraint.
type Relation struct {
	Id        RelationId
	Kind      RelationKind
	Markets   []MarketId // MutuallyExclusive / ExactlyOne members
	IfYes     MarketId   // Implies only
	ThenYes   MarketId   // Implies only
	Terms     []LinearTerm
	Sense     Sense
	RHS       float64
	Confidence float64
	Reasoning  string
	InferredAt time.Time
	ExpiresAt  time.Time
}

// Members returns every market id this relation references, regardless of
// kind, in a stable order (used to build the union-find input).
func (r Relation) Members() []MarketId {
	switch r.Kind {
	case KindImplies:
		return []MarketId{r.IfYes, r.ThenYes}
	case KindMutuallyExclusive, KindExactlyOne:
		return append([]MarketId(nil), r.Markets...)
	case KindLinear:
		out := make([]MarketId, len(r.Terms))
		for i, t := range r.Terms {
			out[i] = t.MarketId
		}
		return out
	default:
		return nil
	}
}

// ConstraintRow is one dense coefficient row of a precomputed cluster
// constraint, indexed consistently with Cluster.OrderedMarkets.
type ConstraintRow struct {
	Coefficients []float64
	Sense        Sense
	RHS          float64
}

// Cluster groups markets connected (transitively) by relations.
// OrderedMarkets is sorted by id so constraint-matrix indices are stable.
type Cluster struct {
	Id                  ClusterId
	OrderedMarkets      []MarketId
	Relations           []Relation
	PrecomputedConstraints []ConstraintRow
	UpdatedAt           time.Time
}

// MarketIndex returns the position of a market within the cluster's
// deterministic ordering, or -1 if absent.
func (c Cluster) MarketIndex(id MarketId) int {
	for i, m := range c.OrderedMarkets {
		if m == id {
			return i
		}
	}
	return -1
}

// ————————————————————————————————————————————————————————————————————————
// Market scoring
// ————————————————————————————————————————————————————————————————————————

// MarketScore is the composite subscription-priority score for a market,
// in [0, 1]. It is consulted only by the subscription manager — never on
// the hot path.
type MarketScore struct {
	MarketId MarketId
	Score    float64
}

// ————————————————————————————————————————————————————————————————————————
// Notification events
// ————————————————————————————————————————————————————————————————————————

// NotificationEventType enumerates the lifecycle events the notifier
// fans out.
type NotificationEventType string

const (
	EventOpportunityDetected NotificationEventType = "opportunity_detected"
	EventExecuted            NotificationEventType = "executed"
	EventRejected            NotificationEventType = "rejected"
	EventPartialFill         NotificationEventType = "partial_fill"
	EventError               NotificationEventType = "error"
)

// NotificationEvent describes a lifecycle-relevant decision (an approved or
// rejected opportunity, an execution outcome, a degraded shard); the
// orchestrator publishes every one of them.
type NotificationEvent struct {
	Type       NotificationEventType
	MarketId   MarketId
	Opportunity *Opportunity
	Position    *Position
	Reason      string
	Timestamp   time.Time
}
