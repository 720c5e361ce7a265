package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CROSSARB_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CROSSARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "CROSSARB_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "CROSSARB_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "CROSSARB_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.FunderAddress, "CROSSARB_WALLET_FUNDER_ADDRESS")

	// ── Kalshi ──
	setStr(&cfg.Kalshi.ApiKey, "CROSSARB_KALSHI_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "CROSSARB_KALSHI_RSA_PRIVATE_KEY_PATH")
	setStr(&cfg.Kalshi.BaseURL, "CROSSARB_KALSHI_BASE_URL")
	setStr(&cfg.Kalshi.WsURL, "CROSSARB_KALSHI_WS_URL")
	setStringSlice(&cfg.Kalshi.Series, "CROSSARB_KALSHI_SERIES")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "CROSSARB_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "CROSSARB_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "CROSSARB_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "CROSSARB_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "CROSSARB_POLYMARKET_SIGNATURE_TYPE")
	setInt(&cfg.Polymarket.TagID, "CROSSARB_POLYMARKET_TAG_ID")
	setInt(&cfg.Polymarket.CatalogLimit, "CROSSARB_POLYMARKET_CATALOG_LIMIT")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxRiskPerTrade, "CROSSARB_RISK_MAX_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "CROSSARB_RISK_MAX_DAILY_LOSS")
	setFloat64(&cfg.Risk.MaxNetExposure, "CROSSARB_RISK_MAX_NET_EXPOSURE")
	setInt(&cfg.Risk.BalanceSyncPeriodS, "CROSSARB_RISK_BALANCE_SYNC_PERIOD_S")
	setFloat64(&cfg.Risk.DriftAlertFraction, "CROSSARB_RISK_DRIFT_ALERT_FRACTION")

	// ── Fees ──
	setFloat64(&cfg.Fees.KalshiRate, "CROSSARB_FEES_KALSHI_RATE")
	setFloat64(&cfg.Fees.PolyPerUnit, "CROSSARB_FEES_POLY_PER_UNIT")

	// ── Detector ──
	setFloat64(&cfg.Detector.MinProfit, "CROSSARB_DETECTOR_MIN_PROFIT")
	setFloat64(&cfg.Detector.PrefilterEpsilon, "CROSSARB_DETECTOR_PREFILTER_EPSILON")
	setInt(&cfg.Detector.MemoTTLMs, "CROSSARB_DETECTOR_MEMO_TTL_MS")

	// ── Execution ──
	setInt(&cfg.Execution.OrderbookTTLMs, "CROSSARB_EXECUTION_ORDERBOOK_TTL_MS")
	setInt(&cfg.Execution.OpportunityMaxAgeMs, "CROSSARB_EXECUTION_OPPORTUNITY_MAX_AGE_MS")
	setInt(&cfg.Execution.FillMonitorBudgetMs, "CROSSARB_EXECUTION_FILL_MONITOR_BUDGET_MS")
	setInt(&cfg.Execution.VenueTimeoutS, "CROSSARB_EXECUTION_VENUE_TIMEOUT_S")
	setInt(&cfg.Execution.BalanceReuseWindowS, "CROSSARB_EXECUTION_BALANCE_REUSE_WINDOW_S")
	setFloat64(&cfg.Execution.MinNotionalPoly, "CROSSARB_EXECUTION_MIN_NOTIONAL_POLY")

	// ── Orchestrator ──
	setInt(&cfg.Orchestrator.TradeCooldownS, "CROSSARB_ORCHESTRATOR_TRADE_COOLDOWN_S")
	setInt(&cfg.Orchestrator.DedupeWindowS, "CROSSARB_ORCHESTRATOR_DEDUPE_WINDOW_S")
	setInt(&cfg.Orchestrator.TimeToCloseMinS, "CROSSARB_ORCHESTRATOR_TIME_TO_CLOSE_MIN_S")
	setInt(&cfg.Orchestrator.DiscoveryRetryS, "CROSSARB_ORCHESTRATOR_DISCOVERY_RETRY_S")

	// ── Matcher ──
	setInt(&cfg.Matcher.TimeToleranceS, "CROSSARB_MATCHER_TIME_TOLERANCE_S")

	// ── Paper ──
	setFloat64(&cfg.Paper.Bankroll, "CROSSARB_PAPER_BANKROLL")
	setInt(&cfg.Paper.AvgLatencyMs, "CROSSARB_PAPER_AVG_LATENCY_MS")
	setFloat64(&cfg.Paper.SlippageProb, "CROSSARB_PAPER_SLIPPAGE_PROB")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CROSSARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CROSSARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CROSSARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CROSSARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CROSSARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CROSSARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CROSSARB_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CROSSARB_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CROSSARB_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CROSSARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CROSSARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CROSSARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CROSSARB_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CROSSARB_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CROSSARB_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CROSSARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CROSSARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CROSSARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "CROSSARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CROSSARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CROSSARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CROSSARB_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "CROSSARB_S3_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CROSSARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CROSSARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CROSSARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CROSSARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CROSSARB_MODE")
	setStr(&cfg.LogLevel, "CROSSARB_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
