package inference

import (
	"context"
	"log/slog"
	"time"

	"arbengine/pkg/types"
)

// Publisher accepts validated relations. Implemented by *clustercache.Cache;
// declared here, consumer-side, so this package never imports clustercache.
type Publisher interface {
	AddRelations(relations []types.Relation)
}

// Limiter throttles outbound inference calls. Implemented by
// *exchange.TokenBucket.
type Limiter interface {
	Wait(ctx context.Context) error
}

// MarketLookup resolves queued market ids to full Market records for
// batching. Implemented by *registry.Registry.
type MarketLookup interface {
	Market(id types.MarketId) (types.Market, bool)
}

// Coordinator drains a Queue on a timer, batches pending markets, rate
// limits and calls an Inferrer, validates the result against the known
// market universe and a minimum confidence, and publishes survivors.
type Coordinator struct {
	queue     *Queue
	lookup    MarketLookup
	infer     Inferrer
	limiter   Limiter
	publisher Publisher
	logger    *slog.Logger

	batchSize     int
	minConfidence float64
	pollInterval  time.Duration
}

// Config bundles the coordinator's tunables, sourced from
// config.InferenceConfig.
type Config struct {
	BatchSize     int
	MinConfidence float64
	PollInterval  time.Duration
}

func NewCoordinator(queue *Queue, lookup MarketLookup, infer Inferrer, limiter Limiter, publisher Publisher, logger *slog.Logger, cfg Config) *Coordinator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Coordinator{
		queue:         queue,
		lookup:        lookup,
		infer:         infer,
		limiter:       limiter,
		publisher:     publisher,
		logger:        logger.With("component", "inference_coordinator"),
		batchSize:     batchSize,
		minConfidence: cfg.MinConfidence,
		pollInterval:  pollInterval,
	}
}

// Run blocks, draining the queue on pollInterval ticks, until ctx is
// cancelled. Intended to run in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drainOnce(ctx)
		}
	}
}

// drainOnce processes at most one batch; exported via Run's loop but kept
// separate so tests can drive it deterministically without a ticker.
func (c *Coordinator) drainOnce(ctx context.Context) {
	events := c.queue.Drain(c.batchSize)
	if len(events) == 0 {
		return
	}

	batch := make([]types.Market, 0, len(events))
	known := make(map[types.MarketId]bool, len(events))
	for _, evt := range events {
		m, ok := c.lookup.Market(evt.MarketId)
		if !ok {
			continue
		}
		batch = append(batch, m)
		known[m.Id] = true
	}
	if len(batch) == 0 {
		return
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.logger.Warn("rate limiter wait failed", "error", err)
			return
		}
	}

	relations, err := c.infer.Infer(ctx, batch)
	if err != nil {
		c.logger.Warn("inference call failed", "error", err, "batch_size", len(batch))
		return
	}

	valid := c.validate(relations, known)
	if len(valid) == 0 {
		return
	}
	c.publisher.AddRelations(valid)
	c.logger.Info("published inferred relations", "count", len(valid), "batch_size", len(batch))
}

// validate drops any relation referencing a market id outside known, or
// whose confidence is below the configured floor.
func (c *Coordinator) validate(relations []types.Relation, known map[types.MarketId]bool) []types.Relation {
	out := make([]types.Relation, 0, len(relations))
	for _, r := range relations {
		if r.Confidence < c.minConfidence {
			continue
		}
		allKnown := true
		for _, id := range r.Members() {
			if !known[id] {
				allKnown = false
				break
			}
		}
		if !allKnown {
			continue
		}
		out = append(out, r)
	}
	return out
}
