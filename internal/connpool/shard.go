package connpool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"arbengine/internal/exchange"
	"arbengine/pkg/types"
)

// connHandle tracks one live connection's lifecycle within a shard.
type connHandle struct {
	conn      Connection
	openedAt  time.Time
	lastMsgAt atomic.Int64 // UnixNano, written from consume(), read from healthLoop()
	cancel    context.CancelFunc
}

// shard owns ConnectionsPerShard redundant connections for a disjoint set
// of tokens, staggers their open times, and preemptively rotates each
// connection before its TTL expires so the shard never drops to zero
// healthy connections.
type shard struct {
	index  int
	cfg    Config
	url    string
	logger *slog.Logger
	dial   Dialer

	dedup    *dedupCache
	updates  chan<- types.OrderBook
	degraded chan<- ShardDegradedEvent

	mu     sync.Mutex
	tokens map[types.TokenId]bool
	conns  []*connHandle
}

func newShard(index int, cfg Config, url string, logger *slog.Logger, dial Dialer, dedup *dedupCache, updates chan<- types.OrderBook, degraded chan<- ShardDegradedEvent) *shard {
	return &shard{
		index:    index,
		cfg:      cfg,
		url:      url,
		logger:   logger.With("shard", index),
		dial:     dial,
		dedup:    dedup,
		updates:  updates,
		degraded: degraded,
		tokens:   make(map[types.TokenId]bool),
	}
}

func (s *shard) addTokens(toks []types.TokenId) {
	s.mu.Lock()
	for _, t := range toks {
		s.tokens[t] = true
	}
	conns := append([]*connHandle{}, s.conns...)
	s.mu.Unlock()

	for _, h := range conns {
		h.conn.Subscribe(toks)
	}
}

func (s *shard) removeTokens(toks []types.TokenId) {
	s.mu.Lock()
	for _, t := range toks {
		delete(s.tokens, t)
	}
	conns := append([]*connHandle{}, s.conns...)
	s.mu.Unlock()

	for _, h := range conns {
		h.conn.Unsubscribe(toks)
	}
}

func (s *shard) currentTokens() []types.TokenId {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TokenId, 0, len(s.tokens))
	for t := range s.tokens {
		out = append(out, t)
	}
	return out
}

// run opens ConnectionsPerShard connections staggered by StaggerOffset,
// then loops forever rotating each one preemptively before TTL expiry and
// watching for shard-wide silence.
func (s *shard) run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.ConnectionsPerShard; i++ {
		delay := time.Duration(i) * s.cfg.StaggerOffset
		wg.Add(1)
		go func(slot int, delay time.Duration) {
			defer wg.Done()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			s.runConnectionSlot(ctx, slot)
		}(i, delay)
	}

	go s.healthLoop(ctx)

	wg.Wait()
}

// runConnectionSlot keeps one logical slot of the shard populated,
// replacing its connection at TTL-preemptive_reconnect (or immediately on
// failure) for as long as ctx is live.
func (s *shard) runConnectionSlot(ctx context.Context, slot int) {
	// retiring is a rotated-out connection, kept open until its
	// replacement has been dialed and started on the next iteration.
	var retiring *connHandle
	closeRetiring := func() {
		if retiring != nil {
			retiring.cancel()
			retiring.conn.Close()
			s.removeHandle(retiring)
			retiring = nil
		}
	}
	defer closeRetiring()

	for {
		if ctx.Err() != nil {
			return
		}

		connCtx, cancel := context.WithCancel(ctx)
		conn := s.dial(s.url, s.logger)
		handle := &connHandle{conn: conn, openedAt: time.Now(), cancel: cancel}
		handle.lastMsgAt.Store(time.Now().UnixNano())

		s.mu.Lock()
		s.conns = append(s.conns, handle)
		s.mu.Unlock()

		go s.consume(connCtx, handle)

		rotateAfter := s.cfg.TTL - s.cfg.PreemptiveReconnect
		if rotateAfter <= 0 {
			rotateAfter = s.cfg.TTL
		}

		runErr := make(chan error, 1)
		go func() { runErr <- conn.Run(connCtx, s.currentTokens()) }()

		closeRetiring()

		select {
		case <-ctx.Done():
			cancel()
			conn.Close()
			return
		case <-time.After(rotateAfter):
			// preemptive rotation: this connection stays open while the
			// next loop iteration opens its replacement, and is closed only
			// after that, so the slot never drops to zero connections.
			retiring = handle
		case err := <-runErr:
			_ = err
			cancel()
			conn.Close()
			s.removeHandle(handle)
		}
	}
}

func (s *shard) removeHandle(target *connHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.conns {
		if h == target {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}

func (s *shard) consume(ctx context.Context, handle *connHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-handle.conn.Events():
			if !ok {
				return
			}
			handle.lastMsgAt.Store(time.Now().UnixNano())
			if evt.Kind != exchange.EventBookUpdate {
				continue
			}
			s.handleBookUpdate(ctx, evt)
		}
	}
}

// handleBookUpdate forwards a deduplicated book update to the pool's
// updates channel, blocking under backpressure (bounded only by ctx) so a
// full channel surfaces as processing latency the governor observes,
// rather than as a silently dropped update.
func (s *shard) handleBookUpdate(ctx context.Context, evt exchange.RawEvent) {
	digest := contentDigest(evt)
	if s.dedup.seen(evt.TokenId, digest) {
		return
	}

	book := types.OrderBook{
		TokenId:   evt.TokenId,
		Bids:      evt.Bids,
		Asks:      evt.Asks,
		UpdatedAt: evt.Timestamp,
	}
	select {
	case s.updates <- book:
	case <-ctx.Done():
	}
}

// healthLoop watches for shard-wide silence: if every connection has
// produced nothing for MaxSilent, surface a degraded event.
func (s *shard) healthLoop(ctx context.Context) {
	interval := s.cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conns := make([]*connHandle, len(s.conns))
			copy(conns, s.conns)
			s.mu.Unlock()

			allSilent := len(conns) > 0
			for _, h := range conns {
				lastMsgAt := time.Unix(0, h.lastMsgAt.Load())
				if time.Since(lastMsgAt) < s.cfg.MaxSilent {
					allSilent = false
					break
				}
			}

			if allSilent {
				select {
				case s.degraded <- ShardDegradedEvent{ShardIndex: s.index, Timestamp: time.Now()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
