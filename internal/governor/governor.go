// Package governor adapts the subscription footprint to keep detection
// latency within a target band. It ingests per-event latency samples and,
// on a fixed check interval, recommends Expand, Contract, or Hold to the
// subscription manager.
package governor

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recommendation is the governor's advisory output. The subscription
// manager decides whether remaining budget actually permits the action.
type Recommendation int

const (
	Hold Recommendation = iota
	Expand
	Contract
)

func (r Recommendation) String() string {
	switch r {
	case Expand:
		return "expand"
	case Contract:
		return "contract"
	default:
		return "hold"
	}
}

// Config holds the governor's tunables.
type Config struct {
	TargetP95        time.Duration
	ExpandThreshold  float64 // e.g. 0.7: p95 < target*0.7 -> Expand
	ContractThreshold float64 // e.g. 1.2: p95 > target*1.2 -> Contract
	Step             int
	CooldownSecs     int
	WindowSize       int
}

var (
	p95Gauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arbengine_governor_p95_latency_seconds",
		Help: "Rolling p95 of message-arrival-to-strategy-completion latency.",
	})
	recommendationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arbengine_governor_recommendations_total",
		Help: "Count of governor recommendations by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(p95Gauge, recommendationCounter)
}

// Governor is safe for concurrent use: AddSample is called from many
// hot-path goroutines, Check is called from a single periodic ticker.
type Governor struct {
	cfg Config

	mu           sync.Mutex
	samples      []time.Duration
	cooldownUntil time.Time
}

// New creates a governor. A zero WindowSize defaults to 512 samples.
func New(cfg Config) *Governor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 512
	}
	return &Governor{cfg: cfg, samples: make([]time.Duration, 0, cfg.WindowSize)}
}

// AddSample records one (message_arrival -> strategy_completion) latency
// observation into the rolling window.
func (g *Governor) AddSample(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = append(g.samples, d)
	if len(g.samples) > g.cfg.WindowSize {
		g.samples = g.samples[len(g.samples)-g.cfg.WindowSize:]
	}
}

// Percentiles reports the rolling p50/p95/p99 over the current window.
type Percentiles struct {
	P50, P95, P99 time.Duration
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Snapshot computes the current percentiles without mutating state.
func (g *Governor) Snapshot() Percentiles {
	g.mu.Lock()
	sorted := make([]time.Duration, len(g.samples))
	copy(sorted, g.samples)
	g.mu.Unlock()

	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return Percentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

// Check runs the governor's per-interval decision and returns a
// recommendation along with the step size to apply (clamped to the
// configured step; callers clamp further to remaining subscription budget).
func (g *Governor) Check(now time.Time) (Recommendation, int) {
	g.mu.Lock()
	inCooldown := now.Before(g.cooldownUntil)
	g.mu.Unlock()

	snap := g.Snapshot()
	p95Gauge.Set(snap.P95.Seconds())

	target := g.cfg.TargetP95
	if target <= 0 {
		recommendationCounter.WithLabelValues(Hold.String()).Inc()
		return Hold, 0
	}

	switch {
	case float64(snap.P95) < float64(target)*g.cfg.ExpandThreshold && !inCooldown:
		g.enterCooldown(now)
		recommendationCounter.WithLabelValues(Expand.String()).Inc()
		return Expand, g.cfg.Step
	case float64(snap.P95) > float64(target)*g.cfg.ContractThreshold && !inCooldown:
		g.enterCooldown(now)
		recommendationCounter.WithLabelValues(Contract.String()).Inc()
		return Contract, g.cfg.Step
	default:
		recommendationCounter.WithLabelValues(Hold.String()).Inc()
		return Hold, 0
	}
}

func (g *Governor) enterCooldown(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldownUntil = now.Add(time.Duration(g.cfg.CooldownSecs) * time.Second)
}

// InCooldown reports whether the governor is currently withholding new
// non-Hold recommendations.
func (g *Governor) InCooldown(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return now.Before(g.cooldownUntil)
}
