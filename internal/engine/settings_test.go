package engine

import (
	"sync"
	"testing"

	"arbengine/pkg/types"
)

func TestSettingsStoreSnapshotRoundTrip(t *testing.T) {
	t.Parallel()
	s := NewSettingsStore(Settings{MinProfit: types.Zero, MaxSlippage: 0.01})

	got := s.Snapshot()
	if !got.MinProfit.Equal(types.Zero) || got.MaxSlippage != 0.01 || got.Paused {
		t.Fatalf("Snapshot() = %+v, want zero-valued non-paused defaults", got)
	}

	s.Store(Settings{MinProfit: types.One, MaxSlippage: 0.02, Paused: true})
	got = s.Snapshot()
	if !got.MinProfit.Equal(types.One) || got.MaxSlippage != 0.02 || !got.Paused {
		t.Fatalf("Snapshot() after Store = %+v, want updated values", got)
	}
}

func TestSettingsStoreConcurrentAccess(t *testing.T) {
	t.Parallel()
	s := NewSettingsStore(Settings{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			s.Store(Settings{MaxSlippage: float64(n)})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
}
