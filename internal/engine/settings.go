package engine

import (
	"sync/atomic"

	"arbengine/pkg/types"
)

// Settings is the run-time mutable subset of the risk configuration an
// external operator (control surface) can adjust without restarting the
// engine: min profit, max position, max exposure, max slippage, and a
// paused flag. §9's design note requires these be exposed as atomic
// snapshots taken once per event-loop iteration — no component mutates
// them mid-evaluation.
type Settings struct {
	MinProfit            types.Money
	MaxPositionPerMarket types.Money
	MaxTotalExposure     types.Money
	MaxSlippage          float64
	Paused               bool
}

// SettingsStore holds the current Settings behind an atomic pointer so a
// reader taking a snapshot never observes a torn update.
type SettingsStore struct {
	v atomic.Pointer[Settings]
}

// NewSettingsStore seeds the store with an initial snapshot.
func NewSettingsStore(initial Settings) *SettingsStore {
	s := &SettingsStore{}
	s.Store(initial)
	return s
}

// Snapshot returns the currently active settings.
func (s *SettingsStore) Snapshot() Settings {
	return *s.v.Load()
}

// Store atomically replaces the current settings. The governor never calls
// this; it is the only writer of scaling state, not risk thresholds.
func (s *SettingsStore) Store(v Settings) {
	cp := v
	s.v.Store(&cp)
}
