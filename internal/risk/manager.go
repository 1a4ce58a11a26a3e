// Package risk gates candidate opportunities before they reach the
// executor. Every check runs against the gate's current view of exposure
// and recent execution outcomes; a single struct carries a pass/fail
// verdict plus the named rejection reason so the caller and the notifier
// can report exactly which check failed.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"arbengine/pkg/types"
)

// RejectionReason names the exact check that failed, matching the gate's
// table one-to-one so callers never need to re-derive it from a message
// string.
type RejectionReason string

const (
	ReasonNone                  RejectionReason = ""
	ReasonExposureLimitExceeded RejectionReason = "ExposureLimitExceeded"
	ReasonPositionLimitExceeded RejectionReason = "PositionLimitExceeded"
	ReasonBelowProfitFloor      RejectionReason = "BelowProfitFloor"
	ReasonSlippageExceeded      RejectionReason = "SlippageExceeded"
	ReasonCircuitBreakerOpen    RejectionReason = "CircuitBreakerOpen"
	ReasonDailyLossLimit        RejectionReason = "DailyLossLimit"
)

// Verdict is the outcome of Check.
type Verdict struct {
	Approved bool
	Reason   RejectionReason
}

// Config holds the gate's limits. All monetary fields are decimal Money;
// MaxSlippage is a fraction (0.02 == 2%).
type Config struct {
	MaxTotalExposure       types.Money
	MaxPositionPerMarket   types.Money
	MinProfit              types.Money
	MaxSlippage            float64
	MaxConsecutiveFailures int
	FailureWindow          time.Duration
	CircuitBreakerCooldown time.Duration
	MaxDailyLoss           types.Money
}

// breakerState is the circuit breaker's closed/open/half-open state
// machine. It opens after MaxConsecutiveFailures execution failures land
// within FailureWindow, cools down for CircuitBreakerCooldown, then
// half-opens to allow exactly one probe: that probe's outcome either
// closes the breaker (success) or reopens it (failure).
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Gate enforces the risk table across all active markets. It is the single
// serialization point for exposure bookkeeping and circuit-breaker state;
// Check and RecordExecutionResult share the same lock.
type Gate struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex

	totalExposure    types.Money
	marketExposure   map[types.MarketId]types.Money
	dailyRealizedPnL types.Money

	failures     []time.Time // recent consecutive-failure timestamps, within FailureWindow
	breaker      breakerState
	breakerUntil time.Time // cooldown expiry; only meaningful while breakerOpen
	probeInFlight bool
}

// New creates a risk gate with zero exposure and a closed circuit breaker.
func New(cfg Config, logger *slog.Logger) *Gate {
	return &Gate{
		cfg:            cfg,
		logger:         logger.With("component", "risk"),
		marketExposure: make(map[types.MarketId]types.Money),
	}
}

// Check evaluates every row of the risk table against opp, in the order
// listed in the spec's check table, and returns the first failing reason.
// An approved verdict reserves no exposure by itself — the caller commits
// exposure via ReserveExposure once the executor actually submits legs.
func (g *Gate) Check(opp types.Opportunity, now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	legCost := opp.TotalCost.Mul(opp.TradeableVolume)

	if g.totalExposure.Add(legCost).GreaterThan(g.cfg.MaxTotalExposure) {
		return Verdict{Approved: false, Reason: ReasonExposureLimitExceeded}
	}

	marketCost := g.marketExposure[opp.MarketId].Add(legCost)
	if marketCost.GreaterThan(g.cfg.MaxPositionPerMarket) {
		return Verdict{Approved: false, Reason: ReasonPositionLimitExceeded}
	}

	if opp.ExpectedProfit.LessThan(g.cfg.MinProfit) {
		return Verdict{Approved: false, Reason: ReasonBelowProfitFloor}
	}

	if effectiveSlippage(opp) > g.cfg.MaxSlippage {
		return Verdict{Approved: false, Reason: ReasonSlippageExceeded}
	}

	g.refreshBreakerLocked(now)
	if g.breaker == breakerOpen {
		return Verdict{Approved: false, Reason: ReasonCircuitBreakerOpen}
	}

	if g.dailyRealizedPnL.LessThan(g.cfg.MaxDailyLoss.Neg()) {
		return Verdict{Approved: false, Reason: ReasonDailyLossLimit}
	}

	if g.breaker == breakerHalfOpen {
		g.probeInFlight = true
	}

	return Verdict{Approved: true}
}

// effectiveSlippage is the spread between the most and least expensive leg
// as a fraction of the cheapest leg's price — a cheap proxy for how much
// the book could move against the combined order before execution starts.
// The executor's own re-fetch-and-compare is the authoritative slippage
// check at submission time; this is the gate's pre-screen.
func effectiveSlippage(opp types.Opportunity) float64 {
	if len(opp.Legs) == 0 {
		return 0
	}
	minPrice, maxPrice := opp.Legs[0].Price, opp.Legs[0].Price
	for _, l := range opp.Legs[1:] {
		if l.Price.LessThan(minPrice) {
			minPrice = l.Price
		}
		if l.Price.GreaterThan(maxPrice) {
			maxPrice = l.Price
		}
	}
	if minPrice.IsZero() {
		return 0
	}
	spread, _ := maxPrice.Sub(minPrice).Div(minPrice).Float64()
	return spread
}

// ReserveExposure commits exposure for an approved opportunity once the
// executor begins submitting legs. Callers release it back via
// ReleaseExposure when the position closes or the execution fails outright.
func (g *Gate) ReserveExposure(marketId types.MarketId, cost types.Money) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalExposure = g.totalExposure.Add(cost)
	g.marketExposure[marketId] = g.marketExposure[marketId].Add(cost)
}

// ReleaseExposure reverses a prior ReserveExposure, e.g. after a position
// closes or an execution is abandoned before any fills landed.
func (g *Gate) ReleaseExposure(marketId types.MarketId, cost types.Money) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalExposure = g.totalExposure.Sub(cost)
	if g.totalExposure.IsNegative() {
		g.totalExposure = types.Zero
	}
	remaining := g.marketExposure[marketId].Sub(cost)
	if remaining.IsNegative() {
		remaining = types.Zero
	}
	g.marketExposure[marketId] = remaining
}

// RecordRealizedPnL folds a closed position's realized PnL into the day's
// running total, consumed by the DailyLossLimit check.
func (g *Gate) RecordRealizedPnL(pnl types.Money) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyRealizedPnL = g.dailyRealizedPnL.Add(pnl)
}

// ResetDailyLoss clears the running realized-PnL total, intended to be
// called once per trading day boundary by the orchestrator.
func (g *Gate) ResetDailyLoss() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dailyRealizedPnL = types.Zero
}

// RecordExecutionResult feeds an execution outcome into the circuit
// breaker. success=false on a failure; success=true on a success. While
// half-open, the first result after Check's probe is the outcome that
// closes or reopens the breaker.
func (g *Gate) RecordExecutionResult(success bool, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refreshBreakerLocked(now)

	if g.breaker == breakerHalfOpen && g.probeInFlight {
		g.probeInFlight = false
		if success {
			g.breaker = breakerClosed
			g.failures = nil
			g.logger.Info("circuit breaker closed after successful probe")
		} else {
			g.breaker = breakerOpen
			g.breakerUntil = now.Add(g.cfg.CircuitBreakerCooldown)
			g.logger.Warn("circuit breaker reopened after failed probe")
		}
		return
	}

	if success {
		g.failures = nil
		return
	}

	g.failures = append(g.failures, now)
	g.failures = withinWindow(g.failures, now, g.cfg.FailureWindow)

	if len(g.failures) >= g.cfg.MaxConsecutiveFailures {
		g.breaker = breakerOpen
		g.breakerUntil = now.Add(g.cfg.CircuitBreakerCooldown)
		g.failures = nil
		g.logger.Error("circuit breaker opened",
			"consecutive_failures", g.cfg.MaxConsecutiveFailures,
			"cooldown_until", g.breakerUntil,
		)
	}
}

// refreshBreakerLocked transitions open→half-open once the cooldown has
// elapsed. Caller holds g.mu.
func (g *Gate) refreshBreakerLocked(now time.Time) {
	if g.breaker == breakerOpen && !now.Before(g.breakerUntil) {
		g.breaker = breakerHalfOpen
		g.probeInFlight = false
		g.logger.Info("circuit breaker half-open, awaiting probe")
	}
}

// withinWindow drops timestamps older than window relative to now.
func withinWindow(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	if window <= 0 {
		return ts
	}
	kept := ts[:0:0]
	for _, t := range ts {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	return kept
}

// BreakerOpen reports whether the circuit breaker currently rejects all
// opportunities (fully open, cooldown not yet elapsed).
func (g *Gate) BreakerOpen(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refreshBreakerLocked(now)
	return g.breaker == breakerOpen
}

// TotalExposure returns the gate's current aggregate reserved exposure.
func (g *Gate) TotalExposure() types.Money {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalExposure
}
