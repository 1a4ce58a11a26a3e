// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun bool `mapstructure:"dry_run"`

	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Store    StoreConfig    `mapstructure:"store"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	Strategies          StrategiesConfig          `mapstructure:"strategies"`
	SingleCondition     SingleConditionConfig     `mapstructure:"single_condition"`
	MarketRebalancing   MarketRebalancingConfig   `mapstructure:"market_rebalancing"`
	Combinatorial       CombinatorialConfig       `mapstructure:"combinatorial"`
	Risk                RiskConfig                `mapstructure:"risk"`
	Executor            ExecutorConfig            `mapstructure:"executor"`
	Governor            GovernorConfig            `mapstructure:"governor"`
	ConnectionPool      ConnectionPoolConfig      `mapstructure:"connection_pool"`
	Dedup               DedupConfig               `mapstructure:"dedup"`
	MarketFilter        MarketFilterConfig        `mapstructure:"market_filter"`
	ScoringWeights      ScoringWeightsConfig      `mapstructure:"scoring_weights"`
	Inference           InferenceConfig           `mapstructure:"inference"`
}

// WalletConfig holds the Ethereum wallet used for signing orders.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address that funds orders (may differ from signer if using a proxy).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds exchange REST/WS endpoints and optional pre-derived L2
// credentials. If ApiKey/Secret/Passphrase are empty, the bot derives them
// via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string        `mapstructure:"clob_base_url"`
	GammaBaseURL string        `mapstructure:"gamma_base_url"`
	WSURL        string        `mapstructure:"ws_url"`
	ApiKey       string        `mapstructure:"api_key"`
	Secret       string        `mapstructure:"secret"`
	Passphrase   string        `mapstructure:"passphrase"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig sets where positions, relations, and clusters are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ShutdownConfig bounds how long the orchestrator waits for in-flight
// executions to reach a terminal state during shutdown.
type ShutdownConfig struct {
	Deadline time.Duration `mapstructure:"deadline"`
}

// StrategiesConfig lists which detection strategies are active.
type StrategiesConfig struct {
	Enabled []string `mapstructure:"enabled"`
}

// SingleConditionConfig tunes the two-outcome arbitrage strategy.
// MinEdge/MinProfit are decimal strings (e.g. "0.02"), parsed at startup,
// never float64, since they feed a Money comparison.
type SingleConditionConfig struct {
	MinEdge   string `mapstructure:"min_edge"`
	MinProfit string `mapstructure:"min_profit"`
}

// MarketRebalancingConfig tunes the n-outcome arbitrage strategy.
type MarketRebalancingConfig struct {
	MinEdge     string `mapstructure:"min_edge"`
	MinProfit   string `mapstructure:"min_profit"`
	MaxOutcomes int    `mapstructure:"max_outcomes"`
}

// CombinatorialConfig tunes the Frank-Wolfe cross-market strategy.
type CombinatorialConfig struct {
	MaxIterations int     `mapstructure:"max_iterations"`
	Tolerance     float64 `mapstructure:"tolerance"`
	GapThreshold  float64 `mapstructure:"gap_threshold"`
}

// RiskConfig sets the gates the risk gate enforces before an opportunity
// reaches the executor. Monetary fields are decimal strings.
type RiskConfig struct {
	MaxPositionPerMarket   string        `mapstructure:"max_position_per_market"`
	MaxTotalExposure       string        `mapstructure:"max_total_exposure"`
	MinProfitThreshold     string        `mapstructure:"min_profit_threshold"`
	MaxSlippage            float64       `mapstructure:"max_slippage"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	FailureWindow          time.Duration `mapstructure:"failure_window"`
	CircuitBreakerCooldown time.Duration `mapstructure:"circuit_breaker_cooldown"`
	MaxDailyLoss           string        `mapstructure:"max_daily_loss"`
}

// ExecutorConfig tunes leg re-validation and submission pacing.
type ExecutorConfig struct {
	MaxSlippage         float64       `mapstructure:"max_slippage"`
	MaxExecutionLatency time.Duration `mapstructure:"max_execution_latency"`
	TickSize            string        `mapstructure:"tick_size"`
}

// GovernorConfig tunes the latency-driven subscription scaler.
type GovernorConfig struct {
	TargetP50Ms       int64   `mapstructure:"target_p50_ms"`
	TargetP95Ms       int64   `mapstructure:"target_p95_ms"`
	TargetP99Ms       int64   `mapstructure:"target_p99_ms"`
	MaxP99Ms          int64   `mapstructure:"max_p99_ms"`
	ExpandThreshold   float64 `mapstructure:"expand_threshold"`
	ContractThreshold float64 `mapstructure:"contract_threshold"`
	ExpandStep        int     `mapstructure:"expand_step"`
	ContractStep      int     `mapstructure:"contract_step"`
	CheckIntervalSecs int     `mapstructure:"check_interval_secs"`
	CooldownSecs      int     `mapstructure:"cooldown_secs"`
	WindowSize        int     `mapstructure:"window_size"`
}

// ConnectionPoolConfig tunes sharding and connection redundancy.
type ConnectionPoolConfig struct {
	NumShards           int           `mapstructure:"num_shards"`
	ConnectionsPerShard int           `mapstructure:"connections_per_shard"`
	StaggerOffset       time.Duration `mapstructure:"stagger_offset"`
	TTL                 time.Duration `mapstructure:"ttl"`
	PreemptiveReconnect time.Duration `mapstructure:"preemptive_reconnect"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	MaxSilent           time.Duration `mapstructure:"max_silent"`
}

// DedupConfig tunes the connection pool's message dedup layer.
type DedupConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Strategy        string        `mapstructure:"strategy"` // "sequence" | "content_hash"
	Fallback        string        `mapstructure:"fallback"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MaxCacheEntries int           `mapstructure:"max_cache_entries"`
}

// MarketFilterConfig bounds the candidate universe fetched from the exchange.
type MarketFilterConfig struct {
	MaxMarkets          int      `mapstructure:"max_markets"`
	MinVolume24h        float64  `mapstructure:"min_volume_24h"`
	MinLiquidity        float64  `mapstructure:"min_liquidity"`
	MaxSpreadPct        float64  `mapstructure:"max_spread_pct"`
	MaxOutcomes         int      `mapstructure:"max_outcomes"`
	MaxEndDateDays      int      `mapstructure:"max_end_date_days"`
	IncludeConditionIDs []string `mapstructure:"include_condition_ids"`
	IncludeSlugs        []string `mapstructure:"include_slugs"`
	IncludeKeywords     []string `mapstructure:"include_keywords"`
	ExcludeSlugs        []string `mapstructure:"exclude_slugs"`
	ExcludeKeywords     []string `mapstructure:"exclude_keywords"`
}

// ScoringWeightsConfig holds the per-factor weights fed to scoring.Weights.
// Must sum to 1 after NormalizeWeights; arbitrary ratios are accepted here
// and normalized at wiring time.
type ScoringWeightsConfig struct {
	Liquidity    float64 `mapstructure:"liquidity"`
	Spread       float64 `mapstructure:"spread"`
	Opportunity  float64 `mapstructure:"opportunity"`
	OutcomeCount float64 `mapstructure:"outcome_count"`
	Activity     float64 `mapstructure:"activity"`
}

// InferenceConfig tunes the off-hot-path relation inference service.
type InferenceConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Provider             string        `mapstructure:"provider"` // "llm" | "rule" | "hybrid" | "null"
	MinConfidence        float64       `mapstructure:"min_confidence"`
	TTL                  time.Duration `mapstructure:"ttl"`
	PriceChangeThreshold float64       `mapstructure:"price_change_threshold"`
	BatchSize            int           `mapstructure:"batch_size"`
	RateLimitPerMinute   int           `mapstructure:"rate_limit_per_minute"`
	LLMEndpoint          string        `mapstructure:"llm_endpoint"`
	LLMAPIKey            string        `mapstructure:"llm_api_key"`
	LLMTimeout           time.Duration `mapstructure:"llm_timeout"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_PRIVATE_KEY, ARB_API_KEY, ARB_API_SECRET, ARB_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges. Any failure here is a
// Config-kind error: fatal at startup.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" {
		return fmt.Errorf("wallet.private_key is required (set ARB_PRIVATE_KEY)")
	}
	if c.Wallet.ChainID == 0 {
		return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
	}
	switch c.Wallet.SignatureType {
	case 0, 1, 2:
	default:
		return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
	}
	if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
		return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if len(c.Strategies.Enabled) == 0 {
		return fmt.Errorf("strategies.enabled must list at least one strategy")
	}
	if c.Risk.MaxTotalExposure == "" {
		return fmt.Errorf("risk.max_total_exposure is required")
	}
	if c.Risk.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("risk.max_consecutive_failures must be > 0")
	}
	sum := c.ScoringWeights.Liquidity + c.ScoringWeights.Spread + c.ScoringWeights.Opportunity +
		c.ScoringWeights.OutcomeCount + c.ScoringWeights.Activity
	if sum <= 0 {
		return fmt.Errorf("scoring_weights must have a positive sum")
	}
	if c.Inference.Enabled {
		switch c.Inference.Provider {
		case "llm", "rule", "hybrid", "null":
		default:
			return fmt.Errorf("inference.provider must be one of: llm, rule, hybrid, null")
		}
		if c.Inference.Provider == "llm" && c.Inference.LLMEndpoint == "" {
			return fmt.Errorf("inference.llm_endpoint is required when provider is llm")
		}
	}
	return nil
}
