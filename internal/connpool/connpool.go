// Package connpool maintains N shards of K redundant exchange connections
// each, hash-partitioning subscriptions across shards, staggering each
// connection's lifetime so a shard never loses coverage during rotation,
// and deduplicating messages from redundant connections before they reach
// the order-book cache.
package connpool

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"arbengine/internal/exchange"
	"arbengine/pkg/types"
)

// Config controls shard count, redundancy, and connection lifecycle.
type Config struct {
	NumShards           int
	ConnectionsPerShard int // K
	StaggerOffset       time.Duration
	TTL                 time.Duration
	PreemptiveReconnect time.Duration
	HealthInterval      time.Duration
	MaxSilent           time.Duration
	MaxCacheEntries     int
	DedupTTL            time.Duration
}

// Dialer abstracts connection creation so the pool is testable without a
// live exchange.
type Dialer func(url string, logger *slog.Logger) Connection

// Connection is the per-connection primitive a shard multiplies. exchange.Conn
// implements this.
type Connection interface {
	Run(ctx context.Context, tokens []types.TokenId) error
	Subscribe(ids []types.TokenId) error
	Unsubscribe(ids []types.TokenId) error
	Close() error
	Events() <-chan exchange.RawEvent
}

func defaultDialer(url string, logger *slog.Logger) Connection {
	return exchange.NewConn(url, logger)
}

// ShardDegradedEvent is surfaced to the orchestrator when every connection
// in a shard has gone silent longer than MaxSilent.
type ShardDegradedEvent struct {
	ShardIndex int
	Timestamp  time.Time
}

// Pool owns all shards and exposes a single deduplicated stream of book
// updates plus a stream of shard-health events.
type Pool struct {
	cfg    Config
	url    string
	logger *slog.Logger
	dial   Dialer

	shards []*shard

	dedup *dedupCache

	updates  chan types.OrderBook
	degraded chan ShardDegradedEvent
}

// New creates a pool. Call Run to start dialing connections for a given
// token-to-shard assignment.
func New(cfg Config, url string, logger *slog.Logger, dial Dialer) *Pool {
	if cfg.NumShards <= 0 {
		cfg.NumShards = 1
	}
	if cfg.ConnectionsPerShard <= 0 {
		cfg.ConnectionsPerShard = 2
	}
	if dial == nil {
		dial = defaultDialer
	}
	if cfg.MaxCacheEntries <= 0 {
		cfg.MaxCacheEntries = 10000
	}

	cache, _ := newDedupCache(cfg.MaxCacheEntries, cfg.DedupTTL)

	p := &Pool{
		cfg:      cfg,
		url:      url,
		logger:   logger.With("component", "connpool"),
		dial:     dial,
		dedup:    cache,
		updates:  make(chan types.OrderBook, 1024),
		degraded: make(chan ShardDegradedEvent, 16),
	}
	for i := 0; i < cfg.NumShards; i++ {
		p.shards = append(p.shards, newShard(i, cfg, url, p.logger, dial, p.dedup, p.updates, p.degraded))
	}
	return p
}

// ShardFor hash-partitions a token id across the configured shard count.
func (p *Pool) ShardFor(token types.TokenId) int {
	h := fnv.New32a()
	h.Write([]byte(token))
	return int(h.Sum32()) % len(p.shards)
}

// Subscribe assigns tokens to their shards and asks each shard to add them.
func (p *Pool) Subscribe(tokens []types.TokenId) {
	byShard := make(map[int][]types.TokenId)
	for _, t := range tokens {
		idx := p.ShardFor(t)
		byShard[idx] = append(byShard[idx], t)
	}
	for idx, toks := range byShard {
		p.shards[idx].addTokens(toks)
	}
}

// Unsubscribe removes tokens from their shards.
func (p *Pool) Unsubscribe(tokens []types.TokenId) {
	byShard := make(map[int][]types.TokenId)
	for _, t := range tokens {
		idx := p.ShardFor(t)
		byShard[idx] = append(byShard[idx], t)
	}
	for idx, toks := range byShard {
		p.shards[idx].removeTokens(toks)
	}
}

// Updates returns the pool's single deduplicated book-update stream.
func (p *Pool) Updates() <-chan types.OrderBook { return p.updates }

// Degraded returns shard-health events (all connections in a shard
// unhealthy for longer than MaxSilent).
func (p *Pool) Degraded() <-chan ShardDegradedEvent { return p.degraded }

// Run starts every shard's connection lifecycle and blocks until ctx is
// cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range p.shards {
		wg.Add(1)
		go func(s *shard) {
			defer wg.Done()
			s.run(ctx)
		}(s)
	}
	wg.Wait()
}
