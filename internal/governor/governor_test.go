package governor

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		TargetP95:         100 * time.Millisecond,
		ExpandThreshold:   0.7,
		ContractThreshold: 1.2,
		Step:              5,
		CooldownSecs:      30,
		WindowSize:        64,
	}
}

func TestCheckRecommendsExpandWhenLatencyLow(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	for i := 0; i < 20; i++ {
		g.AddSample(10 * time.Millisecond)
	}

	rec, step := g.Check(time.Now())
	if rec != Expand {
		t.Fatalf("Check() = %v, want Expand", rec)
	}
	if step != 5 {
		t.Errorf("step = %d, want 5", step)
	}
}

func TestCheckRecommendsContractWhenLatencyHigh(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	for i := 0; i < 20; i++ {
		g.AddSample(200 * time.Millisecond)
	}

	rec, _ := g.Check(time.Now())
	if rec != Contract {
		t.Fatalf("Check() = %v, want Contract", rec)
	}
}

func TestCheckHoldsWithinBand(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	for i := 0; i < 20; i++ {
		g.AddSample(95 * time.Millisecond)
	}

	rec, _ := g.Check(time.Now())
	if rec != Hold {
		t.Fatalf("Check() = %v, want Hold", rec)
	}
}

func TestCheckEntersCooldownAfterNonHold(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	now := time.Now()
	for i := 0; i < 20; i++ {
		g.AddSample(10 * time.Millisecond)
	}

	if rec, _ := g.Check(now); rec != Expand {
		t.Fatalf("first Check() = %v, want Expand", rec)
	}
	if !g.InCooldown(now.Add(time.Second)) {
		t.Error("expected cooldown active right after a non-Hold recommendation")
	}

	// Still below threshold, but cooldown suppresses another Expand.
	rec, _ := g.Check(now.Add(time.Second))
	if rec != Hold {
		t.Errorf("Check() during cooldown = %v, want Hold", rec)
	}

	if g.InCooldown(now.Add(31 * time.Second)) {
		t.Error("expected cooldown to have expired after cooldown_secs")
	}
}

func TestCheckSuppressesContractDuringCooldown(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	now := time.Now()
	for i := 0; i < 20; i++ {
		g.AddSample(200 * time.Millisecond)
	}

	if rec, _ := g.Check(now); rec != Contract {
		t.Fatalf("first Check() = %v, want Contract", rec)
	}
	if !g.InCooldown(now.Add(time.Second)) {
		t.Error("expected cooldown active right after a non-Hold recommendation")
	}

	// Latency is still high, but cooldown suppresses another Contract.
	rec, _ := g.Check(now.Add(time.Second))
	if rec != Hold {
		t.Errorf("Check() during cooldown = %v, want Hold", rec)
	}

	if g.InCooldown(now.Add(31 * time.Second)) {
		t.Error("expected cooldown to have expired after cooldown_secs")
	}
	if rec, _ := g.Check(now.Add(31 * time.Second)); rec != Contract {
		t.Errorf("Check() after cooldown expiry = %v, want Contract", rec)
	}
}

func TestSnapshotPercentiles(t *testing.T) {
	t.Parallel()
	g := New(testConfig())
	for i := 1; i <= 100; i++ {
		g.AddSample(time.Duration(i) * time.Millisecond)
	}

	snap := g.Snapshot()
	if snap.P50 < 40*time.Millisecond || snap.P50 > 60*time.Millisecond {
		t.Errorf("P50 = %v, want roughly 50ms", snap.P50)
	}
	if snap.P99 < snap.P95 {
		t.Errorf("P99 (%v) should be >= P95 (%v)", snap.P99, snap.P95)
	}
}
