// Package engine wires every component — registry, book cache, connection
// pool, strategies, risk gate, executor, governor, inference, notifier —
// into the running arbitrage detection and execution pipeline, and owns
// the startup and shutdown sequencing between them.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"arbengine/internal/bookcache"
	"arbengine/internal/clustercache"
	"arbengine/internal/config"
	"arbengine/internal/connpool"
	"arbengine/internal/exchange"
	"arbengine/internal/executor"
	"arbengine/internal/governor"
	"arbengine/internal/inference"
	"arbengine/internal/market"
	"arbengine/internal/notifier"
	"arbengine/internal/registry"
	"arbengine/internal/risk"
	"arbengine/internal/scoring"
	"arbengine/internal/strategy"
	"arbengine/internal/store"
	"arbengine/internal/submgr"
	"arbengine/pkg/types"
)

// Engine owns the full pipeline from WebSocket book updates to executed
// positions. Construction (New) performs the startup sequence up through
// the initial subscription budget; Start launches the long-running
// goroutines.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	auth    *exchange.Auth
	client  *exchange.Client
	fetcher *exchange.Fetcher

	store *store.Store

	registry *registry.Registry
	books    *bookcache.Cache
	subs     *submgr.Manager
	pool     *connpool.Pool

	strategies *strategy.Registry
	risk       *risk.Gate
	executor   *executor.Executor
	governor   *governor.Governor
	clusters   *clustercache.Cache

	hub      *notifier.Hub
	fileSink *notifier.FileSink
	metrics  *notifier.MetricsSink

	infQueue *inference.Queue
	infCoord *inference.Coordinator

	settings *SettingsStore

	lastPriceMu sync.Mutex
	lastPrice   map[types.TokenId]types.Money

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New runs the full startup sequence: auth, exchange client, market
// discovery and filtering, registry, scoring, subscription budget,
// strategies, risk gate, executor, governor, cluster cache, inference
// service, and notifier fan-out. It returns a ready-to-Start Engine.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	auth, err := exchange.NewAuth(cfg)
	if err != nil {
		return nil, fmt.Errorf("create auth: %w", err)
	}
	client := exchange.NewClient(cfg, auth, logger)

	if !auth.HasL2Credentials() && !cfg.DryRun {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, err := client.DeriveAPIKey(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("derive API key: %w", err)
		}
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	fetcher := exchange.NewFetcher(cfg)
	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 60*time.Second)
	fetched, err := fetcher.FetchMarkets(fetchCtx)
	fetchCancel()
	if err != nil {
		return nil, fmt.Errorf("fetch markets: %w", err)
	}

	filtered := market.Filter(fetched, cfg.MarketFilter)
	logger.Info("market universe filtered", "fetched", len(fetched), "candidates", len(filtered))

	reg := registry.New()
	domainMarkets := make([]types.Market, len(filtered))
	for i, fm := range filtered {
		domainMarkets[i] = fm.Market
	}
	if err := reg.Refresh(domainMarkets); err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	weights := scoring.NormalizeWeights(scoring.Weights{
		Liquidity:    cfg.ScoringWeights.Liquidity,
		Spread:       cfg.ScoringWeights.Spread,
		Opportunity:  cfg.ScoringWeights.Opportunity,
		OutcomeCount: cfg.ScoringWeights.OutcomeCount,
		Activity:     cfg.ScoringWeights.Activity,
	})
	candidates := buildCandidates(filtered, weights)

	// The active-subscription budget is derived from the size of the
	// already-filtered candidate universe rather than a separate config
	// knob: every candidate token is eligible to be active, and the floor
	// keeps a fifth of that budget reserved so a governor contraction never
	// starves the book cache entirely.
	activeCap := len(candidates)
	activeFloor := activeCap / 5
	if activeFloor < 1 && activeCap > 0 {
		activeFloor = 1
	}
	subs := submgr.NewManager(activeCap, activeFloor)
	subs.Enqueue(candidates)
	initial := subs.Expand(activeCap)

	pool := connpool.New(connpool.Config{
		NumShards:           cfg.ConnectionPool.NumShards,
		ConnectionsPerShard: cfg.ConnectionPool.ConnectionsPerShard,
		StaggerOffset:       cfg.ConnectionPool.StaggerOffset,
		TTL:                 cfg.ConnectionPool.TTL,
		PreemptiveReconnect: cfg.ConnectionPool.PreemptiveReconnect,
		HealthInterval:      cfg.ConnectionPool.HealthInterval,
		MaxSilent:           cfg.ConnectionPool.MaxSilent,
		MaxCacheEntries:     cfg.Dedup.MaxCacheEntries,
		DedupTTL:            cfg.Dedup.CacheTTL,
	}, cfg.API.WSURL, logger, nil)
	pool.Subscribe(initial)
	logger.Info("initial subscription set", "active", len(initial), "queued", subs.QueueLen())

	strategies := strategy.NewRegistry(buildStrategies(cfg)...)

	riskGate := risk.New(risk.Config{
		MaxTotalExposure:       parseMoney(cfg.Risk.MaxTotalExposure),
		MaxPositionPerMarket:   parseMoney(cfg.Risk.MaxPositionPerMarket),
		MinProfit:              parseMoney(cfg.Risk.MinProfitThreshold),
		MaxSlippage:            cfg.Risk.MaxSlippage,
		MaxConsecutiveFailures: cfg.Risk.MaxConsecutiveFailures,
		FailureWindow:          cfg.Risk.FailureWindow,
		CircuitBreakerCooldown: cfg.Risk.CircuitBreakerCooldown,
		MaxDailyLoss:           parseMoney(cfg.Risk.MaxDailyLoss),
	}, logger)

	books := bookcache.New()

	exec := executor.New(executor.Config{
		MaxSlippage:          cfg.Executor.MaxSlippage,
		MaxPositionPerMarket: parseMoney(cfg.Risk.MaxPositionPerMarket),
		MaxExecutionLatency:  cfg.Executor.MaxExecutionLatency,
		TickSize:             exchange.TickSize(cfg.Executor.TickSize),
	}, client, books, riskGate, logger)

	gov := governor.New(governor.Config{
		TargetP95:         time.Duration(cfg.Governor.TargetP95Ms) * time.Millisecond,
		ExpandThreshold:   cfg.Governor.ExpandThreshold,
		ContractThreshold: cfg.Governor.ContractThreshold,
		Step:              cfg.Governor.ExpandStep,
		CooldownSecs:      cfg.Governor.CooldownSecs,
		WindowSize:        cfg.Governor.WindowSize,
	})

	hub := notifier.NewHub(logger)

	clusters := clustercache.New(cfg.Inference.TTL, st)

	settings := NewSettingsStore(Settings{
		MinProfit:            parseMoney(cfg.Risk.MinProfitThreshold),
		MaxPositionPerMarket: parseMoney(cfg.Risk.MaxPositionPerMarket),
		MaxTotalExposure:     parseMoney(cfg.Risk.MaxTotalExposure),
		MaxSlippage:          cfg.Risk.MaxSlippage,
		Paused:               false,
	})

	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		auth:       auth,
		client:     client,
		fetcher:    fetcher,
		store:      st,
		registry:   reg,
		books:      books,
		subs:       subs,
		pool:       pool,
		strategies: strategies,
		risk:       riskGate,
		executor:   exec,
		governor:   gov,
		clusters:   clusters,
		hub:        hub,
		settings:   settings,
		lastPrice:  make(map[types.TokenId]types.Money),
	}

	if cfg.Inference.Enabled {
		e.infQueue = inference.NewQueue(4096)
		limiter := exchange.NewTokenBucket(float64(cfg.Inference.RateLimitPerMinute), float64(cfg.Inference.RateLimitPerMinute)/60)
		e.infCoord = inference.NewCoordinator(e.infQueue, reg, buildInferrer(cfg.Inference), limiter, clusters, logger, inference.Config{
			BatchSize:     cfg.Inference.BatchSize,
			MinConfidence: cfg.Inference.MinConfidence,
			PollInterval:  5 * time.Second,
		})
		for _, m := range reg.Markets() {
			e.infQueue.Push(inference.Event{Kind: inference.NewMarket, MarketId: m.Id})
		}
	}

	fileSink, err := notifier.NewFileSink(cfg.Store.DataDir + "/notifications.jsonl")
	if err != nil {
		return nil, fmt.Errorf("open notification file sink: %w", err)
	}
	e.fileSink = fileSink
	e.metrics = notifier.NewMetricsSink()

	return e, nil
}

// Start launches every long-running goroutine: the connection pool, the
// hot-path event loop, the governor's scaling loop, the notification
// sinks, and — if enabled — the inference coordinator and its periodic
// full-scan trigger.
func (e *Engine) Start() error {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pool.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runEventLoop(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runGovernorLoop(e.ctx)
	}()

	e.subscribeSink(e.fileSink.Write)
	e.subscribeSink(e.metrics.Write)

	if e.cfg.Inference.Enabled {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.infCoord.Run(e.ctx)
		}()
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runFullScanLoop(e.ctx)
		}()
	}

	e.logger.Info("engine started",
		"active_subscriptions", e.subs.ActiveCount(),
		"queued_candidates", e.subs.QueueLen(),
		"strategies", len(e.strategies.Strategies()),
		"dry_run", e.cfg.DryRun,
	)
	return nil
}

// subscribeSink wires a write function to its own Hub subscription,
// draining until the engine's context is cancelled.
func (e *Engine) subscribeSink(write func(types.NotificationEvent)) {
	ch, unsub := e.hub.Subscribe(256)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		notifier.Run(ch, write)
	}()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		<-e.ctx.Done()
		unsub()
	}()
}

// Stop cancels every goroutine, waits up to the configured shutdown
// deadline for them to exit, issues a best-effort cancel-all against the
// exchange, and closes persistent resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	e.hub.Close()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	deadline := e.cfg.Shutdown.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	select {
	case <-done:
	case <-time.After(deadline):
		e.logger.Warn("shutdown deadline exceeded, some goroutines may still be running")
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := e.client.CancelAll(cancelCtx); err != nil {
		e.logger.Error("failed to cancel outstanding orders on shutdown", "error", err)
	}
	cancel()

	if err := e.fileSink.Close(); err != nil {
		e.logger.Error("failed to close notification file sink", "error", err)
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// Subscribe exposes the lifecycle event stream to an external control
// surface (e.g. a CLI or RPC front end this module does not itself ship).
func (e *Engine) Subscribe(buffer int) (<-chan types.NotificationEvent, func()) {
	return e.hub.Subscribe(buffer)
}

// Settings returns the engine's mutable risk-parameter control surface.
func (e *Engine) Settings() *SettingsStore {
	return e.settings
}

// runEventLoop is the hot path: every deduplicated book update is folded
// into the book cache, checked against the inference price-change trigger,
// run through every applicable strategy, and any resulting opportunities
// are risk-checked and executed.
func (e *Engine) runEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-e.pool.Degraded():
			if !ok {
				continue
			}
			e.logger.Warn("connection shard degraded", "shard", evt.ShardIndex)
			e.hub.Publish(types.NotificationEvent{
				Type: types.EventError, Reason: "connection shard degraded", Timestamp: evt.Timestamp,
			})
		case book, ok := <-e.pool.Updates():
			if !ok {
				return
			}
			e.handleBookUpdate(book)
		}
	}
}

func (e *Engine) handleBookUpdate(book types.OrderBook) {
	arrival := time.Now()
	e.books.Update(book)

	mkt, ok := e.registry.MarketForToken(book.TokenId)
	if !ok {
		return
	}

	e.checkPriceChange(mkt, book)

	settings := e.settings.Snapshot()
	if settings.Paused {
		e.governor.AddSample(time.Since(arrival))
		return
	}

	_, hasCluster := e.clusters.GetCluster(mkt.Id)
	mctx := strategy.MarketContext{
		OutcomeCount: len(mkt.Outcomes),
		HasRelations: hasCluster,
	}
	dctx := strategy.DetectionContext{
		Market:   mkt,
		Books:    e.books,
		Registry: e.registry,
		Clusters: e.clusters,
		Now:      arrival,
	}
	opportunities := e.strategies.Detect(mctx, dctx)
	e.governor.AddSample(time.Since(arrival))

	for _, opp := range opportunities {
		e.evaluateOpportunity(opp, settings, arrival)
	}
}

// checkPriceChange tracks each token's last observed best ask and queues a
// re-inference trigger (and invalidates the market's cluster, which is now
// stale evidence) when the move exceeds the configured threshold.
func (e *Engine) checkPriceChange(mkt types.Market, book types.OrderBook) {
	if e.infQueue == nil {
		return
	}
	ask, ok := book.BestAsk()
	if !ok {
		return
	}

	e.lastPriceMu.Lock()
	prev, seen := e.lastPrice[book.TokenId]
	e.lastPrice[book.TokenId] = ask.Price
	e.lastPriceMu.Unlock()
	if !seen {
		return
	}

	delta, _ := ask.Price.Sub(prev).Abs().Float64()
	if delta < e.cfg.Inference.PriceChangeThreshold {
		return
	}
	e.clusters.Invalidate(mkt.Id)
	e.infQueue.Push(inference.Event{Kind: inference.SignificantPriceChange, MarketId: mkt.Id})
}

func (e *Engine) evaluateOpportunity(opp types.Opportunity, settings Settings, now time.Time) {
	cost := opp.TotalCost.Mul(opp.TradeableVolume)

	if opp.ExpectedProfit.LessThan(settings.MinProfit) {
		e.publishRejection(opp, risk.ReasonBelowProfitFloor, now)
		return
	}
	if settings.MaxTotalExposure.IsPositive() && e.risk.TotalExposure().Add(cost).GreaterThan(settings.MaxTotalExposure) {
		e.publishRejection(opp, risk.ReasonExposureLimitExceeded, now)
		return
	}

	verdict := e.risk.Check(opp, now)
	if !verdict.Approved {
		e.publishRejection(opp, verdict.Reason, now)
		return
	}

	e.hub.Publish(types.NotificationEvent{
		Type: types.EventOpportunityDetected, MarketId: opp.MarketId,
		Opportunity: &opp, Timestamp: now,
	})

	e.risk.ReserveExposure(opp.MarketId, cost)

	result, err := e.executor.Execute(e.ctx, opp, now)
	if err != nil {
		e.risk.ReleaseExposure(opp.MarketId, cost)
		e.hub.Publish(types.NotificationEvent{
			Type: types.EventError, MarketId: opp.MarketId,
			Opportunity: &opp, Reason: err.Error(), Timestamp: now,
		})
		return
	}

	switch result.Outcome {
	case executor.Failed:
		e.risk.ReleaseExposure(opp.MarketId, cost)
	case executor.PartialFill:
		if result.Position != nil {
			if release := cost.Sub(result.Position.EntryCost); release.IsPositive() {
				e.risk.ReleaseExposure(opp.MarketId, release)
			}
			e.persistPosition(opp.MarketId, *result.Position)
		}
	case executor.Success:
		if result.Position != nil {
			e.persistPosition(opp.MarketId, *result.Position)
		}
	}

	e.hub.Publish(result.Event)
}

func (e *Engine) persistPosition(marketId types.MarketId, pos types.Position) {
	if err := e.store.SavePosition(marketId, pos); err != nil {
		e.logger.Error("failed to persist position", "market", marketId, "error", err)
	}
}

func (e *Engine) publishRejection(opp types.Opportunity, reason risk.RejectionReason, now time.Time) {
	e.hub.Publish(types.NotificationEvent{
		Type: types.EventRejected, MarketId: opp.MarketId,
		Opportunity: &opp, Reason: string(reason), Timestamp: now,
	})
}

// runGovernorLoop periodically asks the governor for a scaling
// recommendation and applies it via the subscription manager and
// connection pool, using the config's asymmetric expand/contract step
// sizes rather than the governor's own single step value.
func (e *Engine) runGovernorLoop(ctx context.Context) {
	interval := time.Duration(e.cfg.Governor.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rec, _ := e.governor.Check(now)
			switch rec {
			case governor.Expand:
				step := e.cfg.Governor.ExpandStep
				if budget := e.subs.RemainingBudget(); step > budget {
					step = budget
				}
				if step <= 0 {
					continue
				}
				added := e.subs.Expand(step)
				if len(added) > 0 {
					e.pool.Subscribe(added)
					e.logger.Info("governor expanded subscriptions", "count", len(added))
				}
			case governor.Contract:
				removed := e.subs.Contract(e.cfg.Governor.ContractStep)
				if len(removed) > 0 {
					e.pool.Unsubscribe(removed)
					e.logger.Info("governor contracted subscriptions", "count", len(removed))
				}
			}
		}
	}
}

// runFullScanLoop periodically re-queues every known market for inference,
// catching relations the price-change and new-market triggers miss.
func (e *Engine) runFullScanLoop(ctx context.Context) {
	interval := e.cfg.Inference.TTL
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range e.registry.Markets() {
				e.infQueue.Push(inference.Event{Kind: inference.FullScan, MarketId: m.Id})
			}
		}
	}
}

// buildStrategies constructs the enabled detection strategies from config.
func buildStrategies(cfg config.Config) []strategy.Strategy {
	enabled := make(map[string]bool, len(cfg.Strategies.Enabled))
	for _, name := range cfg.Strategies.Enabled {
		enabled[name] = true
	}

	var out []strategy.Strategy
	if enabled["single_condition"] {
		out = append(out, &strategy.SingleCondition{
			MinEdge:   parseMoney(cfg.SingleCondition.MinEdge),
			MinProfit: parseMoney(cfg.SingleCondition.MinProfit),
		})
	}
	if enabled["market_rebalancing"] {
		out = append(out, &strategy.Rebalancing{
			MinEdge:     parseMoney(cfg.MarketRebalancing.MinEdge),
			MinProfit:   parseMoney(cfg.MarketRebalancing.MinProfit),
			MaxOutcomes: cfg.MarketRebalancing.MaxOutcomes,
		})
	}
	if enabled["combinatorial"] {
		out = append(out, &strategy.Combinatorial{
			MaxIterations: cfg.Combinatorial.MaxIterations,
			Tolerance:     cfg.Combinatorial.Tolerance,
			GapThreshold:  cfg.Combinatorial.GapThreshold,
			Epsilon:       1e-6,
		})
	}
	return out
}

// buildInferrer selects the configured relation-inference provider.
func buildInferrer(cfg config.InferenceConfig) inference.Inferrer {
	rule := inference.RuleInferrer{PrefixWords: 4, Confidence: 0.6, TTL: cfg.TTL}
	switch cfg.Provider {
	case "llm":
		return inference.NewLLMInferrer(cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.TTL)
	case "hybrid":
		return inference.HybridInferrer{Rule: rule, LLM: inference.NewLLMInferrer(cfg.LLMEndpoint, cfg.LLMAPIKey, cfg.LLMTimeout, cfg.TTL)}
	case "rule":
		return rule
	default:
		return inference.NullInferrer{}
	}
}

// buildCandidates scores every filtered market and expands it into one
// submgr.Candidate per outcome token, since subscriptions are per-token.
func buildCandidates(markets []exchange.FetchedMarket, w scoring.Weights) []submgr.Candidate {
	maxVolume := 0.0
	for _, m := range markets {
		if m.Volume24h > maxVolume {
			maxVolume = m.Volume24h
		}
	}

	var candidates []submgr.Candidate
	for _, m := range markets {
		normVolume := 0.0
		if maxVolume > 0 {
			normVolume = m.Volume24h / maxVolume
		}
		signals := scoring.Signals{
			NormalizedVolume24h: normVolume,
			NormalizedSpread:    m.Spread,
			OutcomeCount:        len(m.Market.Outcomes),
		}
		score := scoring.Score(m.Market, signals, w)
		for _, o := range m.Market.Outcomes {
			candidates = append(candidates, submgr.Candidate{TokenId: o.TokenId, Score: score.Score})
		}
	}
	return candidates
}

// parseMoney parses a decimal-string config field into Money, defaulting
// to zero on an empty or malformed value.
func parseMoney(s string) types.Money {
	if s == "" {
		return types.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return types.Zero
	}
	return v
}
