package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alanyoungcy/crossarb/internal/arb"
	s3blob "github.com/alanyoungcy/crossarb/internal/blob/s3"
	"github.com/alanyoungcy/crossarb/internal/books"
	"github.com/alanyoungcy/crossarb/internal/cache/redis"
	"github.com/alanyoungcy/crossarb/internal/config"
	"github.com/alanyoungcy/crossarb/internal/crypto"
	"github.com/alanyoungcy/crossarb/internal/domain"
	"github.com/alanyoungcy/crossarb/internal/exec"
	"github.com/alanyoungcy/crossarb/internal/journal"
	"github.com/alanyoungcy/crossarb/internal/matcher"
	"github.com/alanyoungcy/crossarb/internal/notify"
	"github.com/alanyoungcy/crossarb/internal/orchestrator"
	"github.com/alanyoungcy/crossarb/internal/platform/kalshi"
	"github.com/alanyoungcy/crossarb/internal/platform/polymarket"
	"github.com/alanyoungcy/crossarb/internal/risk"
	"github.com/alanyoungcy/crossarb/internal/store/postgres"
)

// Dependencies bundles everything the run loops need. Built by Wire, torn
// down by Close in reverse construction order.
type Dependencies struct {
	Kalshi domain.VenueAdapter
	Poly   domain.VenueAdapter

	Books    *books.Cache
	Matcher  *matcher.Matcher
	Detector *arb.Detector
	Risk     *risk.Manager
	Executor *exec.Coordinator
	Orch     *orchestrator.Orchestrator
	Notifier *notify.Notifier

	// JournalImpl is nil when no database is configured; the engine then
	// runs on journal.Nop.
	JournalImpl *journal.Journal

	// Archiver is nil unless both Postgres and S3 are configured.
	Archiver *s3blob.Archiver

	closers []func()
}

// Close releases resources in reverse registration order. Safe to call more
// than once.
func (d *Dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

// Wire constructs the full dependency graph from configuration. Errors are
// wrapped with ErrConfig, ErrCredential, or ErrVenue so main can map them to
// exit codes.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}
	ok := false
	defer func() {
		if !ok {
			deps.Close()
		}
	}()

	paper := cfg.Mode == "paper"

	// --- Kalshi ---
	kalshiClient, err := buildKalshiClient(cfg)
	if err != nil {
		return nil, err
	}
	kalshiAdapter := kalshi.NewAdapter(kalshiClient, cfg.Kalshi.WsURL, logger)
	deps.closers = append(deps.closers, func() { _ = kalshiAdapter.Close() })

	// --- Polymarket ---
	polyAdapter, err := buildPolymarketAdapter(ctx, cfg, logger, paper)
	if err != nil {
		return nil, err
	}
	deps.closers = append(deps.closers, func() { _ = polyAdapter.Close() })

	deps.Kalshi = kalshiAdapter
	deps.Poly = polyAdapter

	// --- Redis (optional): catalog cache + cross-process dedup ---
	var deduper *redis.Deduper
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: redis: %w: %w", ErrVenue, err)
		}
		deps.closers = append(deps.closers, func() { _ = redisClient.Close() })

		catalogCache := redis.NewCatalogCache(redisClient)
		deps.Kalshi = redis.NewCachedCatalogAdapter(deps.Kalshi, catalogCache, logger)
		deps.Poly = redis.NewCachedCatalogAdapter(deps.Poly, catalogCache, logger)

		window := time.Duration(cfg.Orchestrator.DedupeWindowS) * time.Second
		deduper = redis.NewDeduper(redisClient, window)
	}

	// --- Paper mode wraps execution after the caching layer ---
	deps.Kalshi, deps.Poly = wrapForMode(cfg, deps.Kalshi, deps.Poly, logger)

	// --- Postgres journal (optional) ---
	journalPort, err := buildJournal(ctx, cfg, deps, logger)
	if err != nil {
		return nil, err
	}

	// --- Notifications ---
	deps.Notifier = buildNotifier(cfg, logger)

	// --- Engine ---
	deps.Books = books.New(time.Duration(cfg.Execution.OrderbookTTLMs) * time.Millisecond)

	offsets := make(map[string]time.Duration, len(cfg.Matcher.QuantizationOffsetS))
	for asset, secs := range cfg.Matcher.QuantizationOffsetS {
		offsets[asset] = time.Duration(secs) * time.Second
	}
	deps.Matcher = matcher.New(matcher.Options{
		TimeTolerance:      time.Duration(cfg.Matcher.TimeToleranceS) * time.Second,
		QuantizationOffset: offsets,
	}, logger)

	feeK := arb.FeeModel{Rate: cfg.Fees.KalshiRate}
	feeP := arb.FeeModel{PerUnit: cfg.Fees.PolyPerUnit}
	deps.Detector = arb.New(arb.Options{
		MinProfit:        cfg.Detector.MinProfit,
		PrefilterEpsilon: cfg.Detector.PrefilterEpsilon,
		MemoTTL:          time.Duration(cfg.Detector.MemoTTLMs) * time.Millisecond,
	}, feeK, feeP, logger)

	// Kalshi is the venue of record: the wrapped adapter so paper mode
	// syncs against the paper balance.
	deps.Risk = risk.New(risk.Limits{
		MaxRiskPerTrade: cfg.Risk.MaxRiskPerTrade,
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
		MaxNetExposure:  cfg.Risk.MaxNetExposure,
		DriftAlert:      cfg.Risk.DriftAlertFraction,
	}, deps.Kalshi, logger)
	deps.Risk.OnSnapshot(journalPort.RiskSnapshot)
	deps.Risk.OnDrift(func(tracked, authoritative float64) {
		_ = deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventBalanceDrift,
			"Balance drift",
			fmt.Sprintf("tracked %.2f vs venue %.2f", tracked, authoritative))
	})

	fillSchedule := make([]time.Duration, 0, len(cfg.Execution.FillMonitorScheduleMs))
	for _, ms := range cfg.Execution.FillMonitorScheduleMs {
		fillSchedule = append(fillSchedule, time.Duration(ms)*time.Millisecond)
	}
	deps.Executor = exec.NewCoordinator(
		deps.Kalshi, deps.Poly, deps.Books, deps.Risk, feeK, feeP, journalPort,
		exec.Options{
			OrderbookTTL:       time.Duration(cfg.Execution.OrderbookTTLMs) * time.Millisecond,
			OpportunityMaxAge:  time.Duration(cfg.Execution.OpportunityMaxAgeMs) * time.Millisecond,
			FillSchedule:       fillSchedule,
			FillBudget:         time.Duration(cfg.Execution.FillMonitorBudgetMs) * time.Millisecond,
			VenueTimeout:       time.Duration(cfg.Execution.VenueTimeoutS) * time.Second,
			BalanceReuseWindow: time.Duration(cfg.Execution.BalanceReuseWindowS) * time.Second,
			MaxRiskPerTrade:    cfg.Risk.MaxRiskPerTrade,
			MinNotionalPoly:    cfg.Execution.MinNotionalPoly,
		}, logger)

	deps.Orch = orchestrator.New(
		deps.Kalshi, deps.Poly, deps.Matcher, deps.Detector, deps.Executor,
		deps.Books, journalPort, deps.Notifier,
		orchestrator.Options{
			KalshiSeries:   cfg.Kalshi.Series,
			PolyTagID:      cfg.Polymarket.TagID,
			PolyLimit:      cfg.Polymarket.CatalogLimit,
			TradeCooldown:  time.Duration(cfg.Orchestrator.TradeCooldownS) * time.Second,
			DedupeWindow:   time.Duration(cfg.Orchestrator.DedupeWindowS) * time.Second,
			PriceBand:      cfg.Orchestrator.PriceBand,
			TimeToCloseMin: time.Duration(cfg.Orchestrator.TimeToCloseMinS) * time.Second,
			DiscoveryRetry: time.Duration(cfg.Orchestrator.DiscoveryRetryS) * time.Second,
			UpdateBuffer:   cfg.Orchestrator.UpdateBufferSize,
		}, logger)
	if deduper != nil {
		deps.Orch.SetDeduper(deduper)
	}

	ok = true
	return deps, nil
}

// buildKalshiClient authenticates the REST client from config. The RSA key
// is required in every mode: Kalshi signs all requests, market data included.
func buildKalshiClient(cfg *config.Config) (*kalshi.Client, error) {
	if cfg.Kalshi.ApiKey == "" || cfg.Kalshi.RsaPrivateKeyPath == "" {
		return nil, fmt.Errorf("wire: kalshi api_key and rsa_private_key_path are required: %w", ErrCredential)
	}
	pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("wire: read kalshi key: %w: %w", ErrCredential, err)
	}
	client := kalshi.NewClient(cfg.Kalshi.BaseURL, cfg.Kalshi.ApiKey)
	if err := client.SetRSAPrivateKey(pemBytes); err != nil {
		return nil, fmt.Errorf("wire: kalshi key: %w: %w", ErrCredential, err)
	}
	return client, nil
}

// buildPolymarketAdapter constructs the Gamma and CLOB clients. Live mode
// requires wallet credentials and a derived API key; paper mode degrades to
// unauthenticated market data when no wallet is configured.
func buildPolymarketAdapter(ctx context.Context, cfg *config.Config, logger *slog.Logger, paper bool) (*polymarket.Adapter, error) {
	gamma := polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	var signer *crypto.Signer
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	switch {
	case err == nil:
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			return nil, fmt.Errorf("wire: polymarket signer: %w: %w", ErrCredential, err)
		}
	case paper:
		logger.Warn("no polymarket wallet configured, paper mode runs unauthenticated", "error", err)
	default:
		return nil, fmt.Errorf("wire: polymarket wallet: %w: %w", ErrCredential, err)
	}

	clob := polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, cfg.Polymarket.SignatureType)
	if signer != nil {
		if err := clob.DeriveAPIKey(ctx); err != nil {
			if !paper {
				return nil, fmt.Errorf("wire: polymarket api key: %w: %w", ErrCredential, err)
			}
			logger.Warn("polymarket api key derivation failed, paper mode continues", "error", err)
		}
	}

	return polymarket.NewAdapter(gamma, clob, cfg.Polymarket.WsHost, logger), nil
}

// buildJournal connects Postgres when configured and returns the journal
// port used by every engine component. Without a database the engine runs
// on the no-op journal.
func buildJournal(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (Journal, error) {
	if cfg.Postgres.DSN == "" && cfg.Postgres.Host == "" {
		logger.Warn("no database configured, journalling disabled")
		return journal.Nop{}, nil
	}

	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: postgres: %w: %w", ErrVenue, err)
	}
	deps.closers = append(deps.closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("wire: postgres migrations: %w: %w", ErrVenue, err)
		}
	}

	pool := pgClient.Pool()
	oppStore := postgres.NewOpportunityStore(pool)
	tradeStore := postgres.NewTradeStore(pool)
	deps.JournalImpl = journal.New(journal.Stores{
		Pairs:         postgres.NewPairStore(pool),
		Opportunities: oppStore,
		Trades:        tradeStore,
		Unwinds:       postgres.NewUnwindStore(pool),
		Risk:          postgres.NewRiskStore(pool),
	}, logger)

	// Archival needs both the database and a bucket.
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: s3: %w: %w", ErrVenue, err)
		}
		retention := time.Duration(cfg.S3.RetentionDays) * 24 * time.Hour
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client),
			oppStore, tradeStore, retention, logger)
	}

	return deps.JournalImpl, nil
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}

// Journal is the union persistence port shared by the orchestrator, the
// executor, and the risk snapshot hook. Both journal.Journal and journal.Nop
// implement it.
type Journal interface {
	Pair(pair domain.MatchedPair)
	InvalidatePair(pairID, reason string)
	Opportunity(rec domain.OpportunityRecord)
	Trade(t domain.Trade)
	Unwind(rep domain.UnwindReport)
	RiskSnapshot(snap domain.RiskSnapshot)
}
