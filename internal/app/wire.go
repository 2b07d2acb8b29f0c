package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	s3blob "github.com/Lujiluz/koilive/internal/blob/s3"
	"github.com/Lujiluz/koilive/internal/cache/redis"
	"github.com/Lujiluz/koilive/internal/config"
	"github.com/Lujiluz/koilive/internal/domain"
	"github.com/Lujiluz/koilive/internal/live"
	"github.com/Lujiluz/koilive/internal/notify"
	"github.com/Lujiluz/koilive/internal/platform/plutokoi"
	"github.com/Lujiluz/koilive/internal/server/ws"
	"github.com/Lujiluz/koilive/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Optional members are nil when their backing service is disabled.
type Dependencies struct {
	// Live engine (nil in archive mode).
	Signals *live.Signals
	Engine  *live.Engine
	Ticker  *live.Ticker

	// Caches
	SnapshotCache domain.SnapshotCache
	AuctionCache  domain.AuctionCache
	RateLimiter   domain.RateLimiter
	Locks         domain.LockManager

	// Audit stores
	BidLog      domain.BidLogStore
	Settlements domain.SettlementStore

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications and fan-out
	Notifier *notify.Notifier
	Bridge   *notify.Bridge
	WSHub    *ws.Hub
}

// needsMarketplace returns true for modes that hold a live marketplace
// session. The archive sweep runs entirely against local storage.
func needsMarketplace(mode string) bool {
	return mode != "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis caches ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		ttl := cfg.Watch.SnapshotTTL.Duration
		deps.SnapshotCache = redis.NewSnapshotCache(redisClient, ttl)
		deps.AuctionCache = redis.NewAuctionCache(redisClient, ttl)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- PostgreSQL audit stores ---
	if cfg.Postgres.Enabled {
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.BidLog = postgres.NewBidLogStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		// The archiver drains settled history out of Postgres, so it needs
		// both ends of the pipe.
		if bidStore, ok := deps.BidLog.(*postgres.BidLogStore); ok {
			if setStore, ok := deps.Settlements.(*postgres.SettlementStore); ok {
				deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, bidStore, setStore, logger)
			}
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Live engine ---
	if needsMarketplace(cfg.Mode) {
		clock := clockwork.NewRealClock()
		apiClient := plutokoi.NewAPIClient(cfg.Marketplace.APIHost, cfg.Marketplace.SessionToken)
		wsClient := plutokoi.NewWSClient(cfg.Marketplace.WSHost, cfg.Marketplace.SessionToken, logger)

		var marketAPI live.MarketplaceAPI = apiClient
		if deps.AuctionCache != nil || deps.RateLimiter != nil {
			marketAPI = newCachedMarketplace(apiClient, deps.AuctionCache, deps.RateLimiter, logger)
		}

		sig := live.NewSignals()
		deps.Signals = sig
		closers = append(closers, sig.Close)

		engine := live.NewEngine(live.EngineConfig{
			UserID:      cfg.Marketplace.UserID,
			Auctions:    cfg.Watch.Auctions,
			BidTimeout:  cfg.Watch.BidTimeout.Duration,
			PullTimeout: cfg.Watch.PullTimeout.Duration,
		}, wsClient, marketAPI, sig, clock, logger)
		engine.WithPersistence(deps.SnapshotCache, deps.BidLog, deps.Settlements)
		deps.Engine = engine
		deps.Ticker = live.NewTicker(engine.Countdown(), sig, clock, cfg.Watch.CountdownInterval.Duration)

		deps.Bridge = notify.NewBridge(deps.Notifier, sig, logger)
		if cfg.Server.Enabled {
			deps.WSHub = ws.NewHub(sig, logger)
		}
	}

	return deps, cleanup, nil
}
