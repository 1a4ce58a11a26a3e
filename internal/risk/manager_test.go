package risk

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbengine/pkg/types"
)

func dec(s string) types.Money {
	d, _ := decimal.NewFromString(s)
	return d
}

func testConfig() Config {
	return Config{
		MaxTotalExposure:       dec("500"),
		MaxPositionPerMarket:   dec("100"),
		MinProfit:              dec("0.50"),
		MaxSlippage:            0.05,
		MaxConsecutiveFailures: 3,
		FailureWindow:          time.Minute,
		CircuitBreakerCooldown: 30 * time.Second,
		MaxDailyLoss:           dec("50"),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGate() *Gate {
	return New(testConfig(), testLogger())
}

func opp(marketId string, totalCost, volume, expectedProfit string, legPrices ...string) types.Opportunity {
	legs := make([]types.Leg, len(legPrices))
	for i, p := range legPrices {
		legs[i] = types.Leg{TokenId: types.TokenId(marketId), Side: types.Buy, Price: dec(p), Size: dec(volume)}
	}
	return types.Opportunity{
		MarketId:        types.MarketId(marketId),
		Legs:            legs,
		TotalCost:       dec(totalCost),
		TradeableVolume: dec(volume),
		ExpectedProfit:  dec(expectedProfit),
	}
}

func TestCheckApprovesWithinAllLimits(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	v := g.Check(opp("m1", "0.95", "10", "1.00", "0.45", "0.46"), time.Now())
	if !v.Approved {
		t.Fatalf("expected approval, got reason %q", v.Reason)
	}
}

func TestCheckRejectsExposureLimitExceeded(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	g.ReserveExposure("other", dec("450"))

	v := g.Check(opp("m1", "0.95", "100", "60"), time.Now())
	if v.Approved || v.Reason != ReasonExposureLimitExceeded {
		t.Errorf("got %+v, want ExposureLimitExceeded", v)
	}
}

func TestCheckRejectsPositionLimitExceeded(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	g.ReserveExposure("m1", dec("80"))

	v := g.Check(opp("m1", "0.95", "30", "5"), time.Now())
	if v.Approved || v.Reason != ReasonPositionLimitExceeded {
		t.Errorf("got %+v, want PositionLimitExceeded", v)
	}
}

func TestCheckRejectsBelowProfitFloor(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	v := g.Check(opp("m1", "0.95", "1", "0.10"), time.Now())
	if v.Approved || v.Reason != ReasonBelowProfitFloor {
		t.Errorf("got %+v, want BelowProfitFloor", v)
	}
}

func TestCheckRejectsSlippageExceeded(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	v := g.Check(opp("m1", "0.95", "10", "1.00", "0.40", "0.60"), time.Now())
	if v.Approved || v.Reason != ReasonSlippageExceeded {
		t.Errorf("got %+v, want SlippageExceeded", v)
	}
}

func TestCheckRejectsDailyLossLimit(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	g.RecordRealizedPnL(dec("-60"))

	v := g.Check(opp("m1", "0.95", "10", "1.00", "0.45", "0.46"), time.Now())
	if v.Approved || v.Reason != ReasonDailyLossLimit {
		t.Errorf("got %+v, want DailyLossLimit", v)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	now := time.Now()

	g.RecordExecutionResult(false, now)
	g.RecordExecutionResult(false, now.Add(time.Second))
	if g.BreakerOpen(now.Add(2 * time.Second)) {
		t.Fatal("breaker should not open after only 2 failures (limit is 3)")
	}
	g.RecordExecutionResult(false, now.Add(2*time.Second))
	if !g.BreakerOpen(now.Add(3 * time.Second)) {
		t.Fatal("breaker should open after 3 consecutive failures")
	}

	v := g.Check(opp("m1", "0.95", "10", "1.00", "0.45", "0.46"), now.Add(3*time.Second))
	if v.Approved || v.Reason != ReasonCircuitBreakerOpen {
		t.Errorf("got %+v, want CircuitBreakerOpen", v)
	}
}

func TestCircuitBreakerHalfOpensAfterCooldownAndClosesOnSuccess(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	now := time.Now()

	g.RecordExecutionResult(false, now)
	g.RecordExecutionResult(false, now)
	g.RecordExecutionResult(false, now)
	if !g.BreakerOpen(now) {
		t.Fatal("breaker should be open")
	}

	afterCooldown := now.Add(31 * time.Second)
	v := g.Check(opp("m1", "0.95", "10", "1.00", "0.45", "0.46"), afterCooldown)
	if !v.Approved {
		t.Fatalf("expected the half-open probe to be approved, got reason %q", v.Reason)
	}

	g.RecordExecutionResult(true, afterCooldown)
	if g.BreakerOpen(afterCooldown) {
		t.Error("breaker should be closed after a successful probe")
	}
}

func TestCircuitBreakerReopensOnFailedProbe(t *testing.T) {
	t.Parallel()
	g := newTestGate()
	now := time.Now()

	g.RecordExecutionResult(false, now)
	g.RecordExecutionResult(false, now)
	g.RecordExecutionResult(false, now)

	afterCooldown := now.Add(31 * time.Second)
	g.Check(opp("m1", "0.95", "10", "1.00", "0.45", "0.46"), afterCooldown)
	g.RecordExecutionResult(false, afterCooldown)

	if !g.BreakerOpen(afterCooldown) {
		t.Error("breaker should reopen after a failed probe")
	}
}

func TestReserveAndReleaseExposureRoundTrips(t *testing.T) {
	t.Parallel()
	g := newTestGate()

	g.ReserveExposure("m1", dec("40"))
	if !g.TotalExposure().Equal(dec("40")) {
		t.Fatalf("total exposure = %s, want 40", g.TotalExposure())
	}
	g.ReleaseExposure("m1", dec("40"))
	if !g.TotalExposure().Equal(types.Zero) {
		t.Errorf("total exposure after release = %s, want 0", g.TotalExposure())
	}
}
