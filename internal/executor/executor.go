// Package executor turns a risk-approved opportunity into submitted orders,
// re-validating the book immediately before submission and classifying the
// outcome (Success, PartialFill, Failed) once every leg settles or times out.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"arbengine/internal/exchange"
	"arbengine/pkg/types"
)

// BookSource is the consumer-side view of the order-book cache the executor
// re-reads from immediately before submission.
type BookSource interface {
	Get(token types.TokenId) (types.OrderBook, bool)
}

// OrderClient is the consumer-side view of the exchange REST client.
type OrderClient interface {
	SubmitOrders(ctx context.Context, legs []types.Leg, tickSize exchange.TickSize) ([]exchange.OrderResult, error)
}

// BreakerRecorder is the consumer-side view of the risk gate's circuit
// breaker bookkeeping.
type BreakerRecorder interface {
	RecordExecutionResult(success bool, now time.Time)
}

// Config controls re-validation tolerances and submission pacing.
type Config struct {
	MaxSlippage          float64
	MaxPositionPerMarket types.Money
	MaxExecutionLatency  time.Duration
	TickSize             exchange.TickSize
}

// Outcome classifies how an execution settled.
type Outcome int

const (
	Success Outcome = iota
	PartialFill
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "Success"
	case PartialFill:
		return "PartialFill"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrPriceMoved is returned when a leg's price moved adversely beyond
// MaxSlippage between detection and submission.
var ErrPriceMoved = fmt.Errorf("PriceMoved")

// Result is the outcome of Execute: the classification, the resulting
// position (nil on Failed), and the notification event to publish.
type Result struct {
	Outcome  Outcome
	Position *types.Position
	Event    types.NotificationEvent
}

// Executor re-validates and submits opportunities concurrently, one
// goroutine per leg, fanning results back in over a channel.
type Executor struct {
	cfg     Config
	client  OrderClient
	books   BookSource
	breaker BreakerRecorder
	logger  *slog.Logger
}

// New creates an Executor.
func New(cfg Config, client OrderClient, books BookSource, breaker BreakerRecorder, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:     cfg,
		client:  client,
		books:   books,
		breaker: breaker,
		logger:  logger.With("component", "executor"),
	}
}

// Execute runs the §4.12 pipeline for an approved opportunity.
func (e *Executor) Execute(ctx context.Context, opp types.Opportunity, now time.Time) (Result, error) {
	revalidated, err := e.revalidate(opp)
	if err != nil {
		e.breaker.RecordExecutionResult(false, now)
		return Result{}, err
	}

	legResults := e.submitConcurrently(ctx, revalidated)

	filled := make([]types.Leg, 0, len(legResults))
	missing := make([]types.TokenId, 0)
	for _, lr := range legResults {
		if lr.err == nil && lr.result.Success {
			filled = append(filled, lr.leg)
		} else {
			missing = append(missing, lr.leg.TokenId)
		}
	}

	switch {
	case len(missing) == 0:
		e.breaker.RecordExecutionResult(true, now)
		pos := &types.Position{
			Id:               types.PositionId(uuid.NewString()),
			MarketId:         opp.MarketId,
			LegsFilled:       filled,
			EntryCost:        revalidated.TotalCost.Mul(revalidated.TradeableVolume),
			GuaranteedPayout: revalidated.TradeableVolume,
			OpenedAt:         now,
			Status:           types.PositionStatus{Kind: types.StatusOpen},
		}
		return Result{
			Outcome:  Success,
			Position: pos,
			Event: types.NotificationEvent{
				Type: types.EventExecuted, MarketId: opp.MarketId,
				Opportunity: &opp, Position: pos, Timestamp: now,
			},
		}, nil

	case len(filled) == 0:
		e.breaker.RecordExecutionResult(false, now)
		return Result{
			Outcome: Failed,
			Event: types.NotificationEvent{
				Type: types.EventError, MarketId: opp.MarketId,
				Opportunity: &opp, Reason: "no legs filled", Timestamp: now,
			},
		}, nil

	default:
		// Partial fill never counts against the breaker: it is not
		// indicative of the exchange or the book being unreliable.
		filledTokenIds := make([]types.TokenId, len(filled))
		for i, l := range filled {
			filledTokenIds[i] = l.TokenId
		}
		pos := &types.Position{
			Id:               types.PositionId(uuid.NewString()),
			MarketId:         opp.MarketId,
			LegsFilled:       filled,
			EntryCost:        sumCost(filled),
			GuaranteedPayout: types.Zero,
			OpenedAt:         now,
			Status: types.PositionStatus{
				Kind:    types.StatusPartialFill,
				Filled:  filledTokenIds,
				Missing: missing,
			},
		}
		e.reduceFilledLegs(ctx, filled)
		return Result{
			Outcome:  PartialFill,
			Position: pos,
			Event: types.NotificationEvent{
				Type: types.EventPartialFill, MarketId: opp.MarketId,
				Opportunity: &opp, Position: pos, Timestamp: now,
			},
		}, nil
	}
}

// revalidate re-fetches best asks for every leg, rejects on adverse
// slippage, and clamps tradeable volume to current sizes and
// MaxPositionPerMarket / total_cost.
func (e *Executor) revalidate(opp types.Opportunity) (types.Opportunity, error) {
	volume := opp.TradeableVolume
	legs := make([]types.Leg, len(opp.Legs))
	copy(legs, opp.Legs)

	for i, leg := range legs {
		book, ok := e.books.Get(leg.TokenId)
		if !ok {
			return types.Opportunity{}, fmt.Errorf("%w: no book for %s", ErrPriceMoved, leg.TokenId)
		}
		ask, ok := book.BestAsk()
		if !ok {
			return types.Opportunity{}, fmt.Errorf("%w: no ask for %s", ErrPriceMoved, leg.TokenId)
		}

		adverse, _ := ask.Price.Sub(leg.Price).Div(leg.Price).Float64()
		if adverse > e.cfg.MaxSlippage {
			return types.Opportunity{}, fmt.Errorf("%w: leg %s moved %.4f", ErrPriceMoved, leg.TokenId, adverse)
		}

		legs[i].Price = ask.Price
		if ask.Size.LessThan(volume) {
			volume = ask.Size
		}
	}

	totalCost := types.Zero
	for _, leg := range legs {
		totalCost = totalCost.Add(leg.Price)
	}

	if !totalCost.IsZero() && e.cfg.MaxPositionPerMarket.GreaterThan(types.Zero) {
		maxVolume := e.cfg.MaxPositionPerMarket.Div(totalCost)
		if maxVolume.LessThan(volume) {
			volume = maxVolume
		}
	}

	for i := range legs {
		legs[i].Size = volume
	}

	out := opp
	out.Legs = legs
	out.TotalCost = totalCost
	out.TradeableVolume = volume
	return out, nil
}

type legResult struct {
	leg    types.Leg
	result exchange.OrderResult
	err    error
}

// submitConcurrently submits every leg as its own order, in parallel, so
// one slow leg never delays the others past MaxExecutionLatency. Legs are
// returned in the opportunity's original order regardless of completion
// order (determinism requirement on submission order, not completion).
func (e *Executor) submitConcurrently(ctx context.Context, opp types.Opportunity) []legResult {
	deadline := e.cfg.MaxExecutionLatency
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	submitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	results := make([]legResult, len(opp.Legs))
	var wg sync.WaitGroup
	for i, leg := range opp.Legs {
		wg.Add(1)
		go func(i int, leg types.Leg) {
			defer wg.Done()
			res, err := e.client.SubmitOrders(submitCtx, []types.Leg{leg}, e.cfg.TickSize)
			lr := legResult{leg: leg, err: err}
			if err == nil && len(res) == 1 {
				lr.result = res[0]
			} else if err == nil {
				lr.err = fmt.Errorf("unexpected result count for leg %s", leg.TokenId)
			}
			results[i] = lr
		}(i, leg)
	}
	wg.Wait()
	return results
}

// reduceFilledLegs submits market-sell reducing orders for legs that filled
// when the overall execution partially failed, closing out the unwanted
// directional exposure immediately rather than leaving it open.
func (e *Executor) reduceFilledLegs(ctx context.Context, filled []types.Leg) {
	if len(filled) == 0 {
		return
	}
	reducing := make([]types.Leg, len(filled))
	for i, l := range filled {
		reducing[i] = types.Leg{TokenId: l.TokenId, Side: types.Sell, Price: l.Price, Size: l.Size}
	}
	if _, err := e.client.SubmitOrders(ctx, reducing, e.cfg.TickSize); err != nil {
		e.logger.Error("failed to submit reducing orders after partial fill", "error", err)
	}
}

func sumCost(legs []types.Leg) types.Money {
	total := types.Zero
	for _, l := range legs {
		total = total.Add(l.Price.Mul(l.Size))
	}
	return total
}
