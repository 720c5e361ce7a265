// Package config defines the top-level configuration for the cross-venue
// arbitrage engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CROSSARB_* environment variables.
type Config struct {
	Wallet       WalletConfig       `toml:"wallet"`
	Kalshi       KalshiConfig       `toml:"kalshi"`
	Polymarket   PolymarketConfig   `toml:"polymarket"`
	Risk         RiskConfig         `toml:"risk"`
	Fees         FeeConfig          `toml:"fees"`
	Detector     DetectorConfig     `toml:"detector"`
	Execution    ExecutionConfig    `toml:"execution"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Matcher      MatcherConfig      `toml:"matcher"`
	Paper        PaperConfig        `toml:"paper"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// WalletConfig holds the Polymarket trading wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword     string `toml:"key_password"`
	FunderAddress   string `toml:"funder_address"`
}

// KalshiConfig holds Kalshi exchange API parameters. Kalshi is the
// venue-of-record: the risk manager syncs its bankroll from this account.
type KalshiConfig struct {
	ApiKey            string   `toml:"api_key"`
	RsaPrivateKeyPath string   `toml:"rsa_private_key_path"`
	BaseURL           string   `toml:"base_url"`
	WsURL             string   `toml:"ws_url"`
	Series            []string `toml:"series"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
	TagID         int    `toml:"tag_id"` // 15-minute crypto markets tag
	CatalogLimit  int    `toml:"catalog_limit"`
}

// RiskConfig holds the declarative risk limits, each a fraction of bankroll.
type RiskConfig struct {
	MaxRiskPerTrade    float64 `toml:"max_risk_per_trade"`
	MaxDailyLoss       float64 `toml:"max_daily_loss"`
	MaxNetExposure     float64 `toml:"max_net_exposure"`
	BalanceSyncPeriodS int     `toml:"balance_sync_period_s"`
	DriftAlertFraction float64 `toml:"drift_alert_fraction"`
}

// FeeConfig holds the per-venue fee models: Kalshi charges a proportional
// rate on notional, Polymarket a flat per-contract fee.
type FeeConfig struct {
	KalshiRate  float64 `toml:"kalshi_rate"`
	PolyPerUnit float64 `toml:"poly_per_unit"`
}

// DetectorConfig holds arbitrage detection parameters.
type DetectorConfig struct {
	MinProfit         float64 `toml:"min_profit"`
	PrefilterEpsilon  float64 `toml:"prefilter_epsilon"`
	MemoTTLMs         int     `toml:"memo_ttl_ms"`
}

// ExecutionConfig holds execution coordinator parameters.
type ExecutionConfig struct {
	OrderbookTTLMs        int     `toml:"orderbook_ttl_ms"`
	OpportunityMaxAgeMs   int     `toml:"opportunity_max_age_ms"`
	FillMonitorScheduleMs []int   `toml:"fill_monitor_schedule_ms"`
	FillMonitorBudgetMs   int     `toml:"fill_monitor_budget_ms"`
	VenueTimeoutS         int     `toml:"venue_timeout_s"`
	BalanceReuseWindowS   int     `toml:"balance_reuse_window_s"`
	MinNotionalPoly       float64 `toml:"min_notional_poly"`
}

// OrchestratorConfig holds the sticky-market and cooldown policy parameters.
type OrchestratorConfig struct {
	TradeCooldownS   int        `toml:"trade_cooldown_s"`
	DedupeWindowS    int        `toml:"dedupe_window_s"`
	PriceBand        [2]float64 `toml:"price_band"`
	TimeToCloseMinS  int        `toml:"time_to_close_min_s"`
	DiscoveryRetryS  int        `toml:"discovery_retry_s"`
	UpdateBufferSize int        `toml:"update_buffer_size"`
}

// MatcherConfig holds event matcher tolerances.
type MatcherConfig struct {
	TimeToleranceS int `toml:"time_tolerance_s"`
	// QuantizationOffsetS maps an asset tag to a calibrated one-shot
	// resolution-time offset (seconds, at most ±900) for venues whose
	// documented quantization differs.
	QuantizationOffsetS map[string]int `toml:"quantization_offset_s"`
}

// PaperConfig holds paper-mode simulation parameters.
type PaperConfig struct {
	Bankroll      float64 `toml:"bankroll"`
	AvgLatencyMs  int     `toml:"avg_latency_ms"`
	SlippageProb  float64 `toml:"slippage_prob"`
}

// PostgresConfig holds PostgreSQL connection parameters for the journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when
// addr is empty the catalog cache and cross-restart dedup are disabled.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for journal archival. Optional;
// archival is disabled when the bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	RetentionDays  int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Kalshi: KalshiConfig{
			BaseURL: "https://api.elections.kalshi.com/trade-api/v2",
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
			Series:  []string{"KXBTC15M", "KXETH15M", "KXSOL15M"},
		},
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com",
			ChainID:       137,
			SignatureType: 2,
			TagID:         102467,
			CatalogLimit:  20,
		},
		Risk: RiskConfig{
			MaxRiskPerTrade:    0.10,
			MaxDailyLoss:       0.20,
			MaxNetExposure:     0.50,
			BalanceSyncPeriodS: 30,
			DriftAlertFraction: 0.05,
		},
		Fees: FeeConfig{
			KalshiRate:  0.01,
			PolyPerUnit: 0.001,
		},
		Detector: DetectorConfig{
			MinProfit:        0.005,
			PrefilterEpsilon: 0.02,
			MemoTTLMs:        100,
		},
		Execution: ExecutionConfig{
			OrderbookTTLMs:        500,
			OpportunityMaxAgeMs:   500,
			FillMonitorScheduleMs: []int{100, 200, 300, 500, 1000, 1000, 2000, 2000, 3000, 3000},
			FillMonitorBudgetMs:   10_000,
			VenueTimeoutS:         5,
			BalanceReuseWindowS:   10,
			MinNotionalPoly:       1.0,
		},
		Orchestrator: OrchestratorConfig{
			TradeCooldownS:   60,
			DedupeWindowS:    15,
			PriceBand:        [2]float64{0.10, 0.90},
			TimeToCloseMinS:  60,
			DiscoveryRetryS:  300,
			UpdateBufferSize: 256,
		},
		Matcher: MatcherConfig{
			TimeToleranceS:      60,
			QuantizationOffsetS: map[string]int{},
		},
		Paper: PaperConfig{
			Bankroll:     100.0,
			AvgLatencyMs: 200,
			SlippageProb: 0.10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "crossarb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:        "us-east-1",
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "unwind", "kill_switch", "balance_drift"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"paper": true,
	"live":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: paper, live)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	fraction := func(section, name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s: %s must be in [0,1], got %v", section, name, v))
		}
	}
	fraction("risk", "max_risk_per_trade", c.Risk.MaxRiskPerTrade)
	fraction("risk", "max_daily_loss", c.Risk.MaxDailyLoss)
	fraction("risk", "max_net_exposure", c.Risk.MaxNetExposure)
	if c.Risk.BalanceSyncPeriodS < 1 {
		errs = append(errs, "risk: balance_sync_period_s must be >= 1")
	}

	if c.Fees.KalshiRate < 0 || c.Fees.PolyPerUnit < 0 {
		errs = append(errs, "fees: rates must be non-negative")
	}

	if c.Detector.MinProfit <= 0 {
		errs = append(errs, "detector: min_profit must be > 0")
	}
	if c.Detector.MemoTTLMs < 0 {
		errs = append(errs, "detector: memo_ttl_ms must be >= 0")
	}

	if c.Execution.OrderbookTTLMs <= 0 {
		errs = append(errs, "execution: orderbook_ttl_ms must be > 0")
	}
	if len(c.Execution.FillMonitorScheduleMs) == 0 {
		errs = append(errs, "execution: fill_monitor_schedule_ms must not be empty")
	}
	if c.Execution.VenueTimeoutS <= 0 {
		errs = append(errs, "execution: venue_timeout_s must be > 0")
	}

	if lo, hi := c.Orchestrator.PriceBand[0], c.Orchestrator.PriceBand[1]; lo < 0 || hi > 1 || lo >= hi {
		errs = append(errs, fmt.Sprintf("orchestrator: price_band must satisfy 0 <= lo < hi <= 1, got [%v, %v]", lo, hi))
	}

	if c.Matcher.TimeToleranceS <= 0 {
		errs = append(errs, "matcher: time_tolerance_s must be > 0")
	}
	for asset, off := range c.Matcher.QuantizationOffsetS {
		if off < -900 || off > 900 {
			errs = append(errs, fmt.Sprintf("matcher: quantization_offset_s[%s] must be within ±900, got %d", asset, off))
		}
	}

	// Live mode requires credentials for both venues.
	if strings.ToLower(c.Mode) == "live" {
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for live mode")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required for live mode")
		}
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Kalshi.BaseURL == "" {
		errs = append(errs, "kalshi: base_url must not be empty")
	}
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Bucket != "" && c.S3.RetentionDays < 1 {
		errs = append(errs, "s3: retention_days must be >= 1 when archival is enabled")
	}

	if c.Paper.Bankroll <= 0 {
		errs = append(errs, "paper: bankroll must be > 0")
	}
	if c.Paper.SlippageProb < 0 || c.Paper.SlippageProb > 1 {
		errs = append(errs, "paper: slippage_prob must be in [0,1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
