package connpool

import (
	"context"
	"log/slog"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"arbengine/internal/exchange"
	"arbengine/pkg/types"
)

func dec(s string) types.Money {
	d, _ := decimal.NewFromString(s)
	return d
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a Connection that emits a fixed sequence of events and never
// needs a real network.
type fakeConn struct {
	events chan exchange.RawEvent
}

func newFakeConn(string, *slog.Logger) Connection {
	return &fakeConn{events: make(chan exchange.RawEvent, 16)}
}

func (f *fakeConn) Run(ctx context.Context, tokens []types.TokenId) error {
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeConn) Subscribe(ids []types.TokenId) error   { return nil }
func (f *fakeConn) Unsubscribe(ids []types.TokenId) error { return nil }
func (f *fakeConn) Close() error                          { close(f.events); return nil }
func (f *fakeConn) Events() <-chan exchange.RawEvent      { return f.events }

func TestShardForIsDeterministic(t *testing.T) {
	t.Parallel()
	p := New(Config{NumShards: 4, ConnectionsPerShard: 1}, "ws://example", testLogger(), newFakeConn)

	a := p.ShardFor("token-a")
	b := p.ShardFor("token-a")
	if a != b {
		t.Errorf("ShardFor not deterministic: %d vs %d", a, b)
	}
	if a < 0 || a >= 4 {
		t.Errorf("ShardFor out of range: %d", a)
	}
}

func TestSubscribeRoutesToOwningShard(t *testing.T) {
	t.Parallel()
	p := New(Config{NumShards: 4, ConnectionsPerShard: 1}, "ws://example", testLogger(), newFakeConn)
	p.Subscribe([]types.TokenId{"token-a", "token-b"})

	idx := p.ShardFor("token-a")
	if !p.shards[idx].tokens["token-a"] {
		t.Error("token-a should be tracked by its owning shard")
	}
}

func TestPoolHandleBookUpdateDeduped(t *testing.T) {
	t.Parallel()
	p := New(Config{NumShards: 1, ConnectionsPerShard: 1, DedupTTL: time.Second}, "ws://example", testLogger(), newFakeConn)
	s := p.shards[0]

	evt := exchange.RawEvent{
		Kind:      exchange.EventBookUpdate,
		TokenId:   "tok",
		Asks:      []types.PriceLevel{{Price: dec("0.5"), Size: dec("10")}},
		Sequence:  "seq-1",
		Timestamp: time.Now(),
	}
	ctx := context.Background()
	s.handleBookUpdate(ctx, evt)
	s.handleBookUpdate(ctx, evt)

	select {
	case <-p.Updates():
	default:
		t.Fatal("expected one update to pass through")
	}
	select {
	case <-p.Updates():
		t.Fatal("expected second identical update to be deduped")
	default:
	}
}
