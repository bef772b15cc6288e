package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/openpredict/settlecore/internal/blob/s3"
	"github.com/openpredict/settlecore/internal/cache/redis"
	"github.com/openpredict/settlecore/internal/config"
	"github.com/openpredict/settlecore/internal/domain"
	"github.com/openpredict/settlecore/internal/engine"
	"github.com/openpredict/settlecore/internal/feed"
	"github.com/openpredict/settlecore/internal/ledger"
	"github.com/openpredict/settlecore/internal/oracle"
	"github.com/openpredict/settlecore/internal/scheduler"
	"github.com/openpredict/settlecore/internal/store/memory"
	"github.com/openpredict/settlecore/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore    domain.MarketStore
	SchedulerStore domain.SchedulerStore
	FeedStore      domain.FeedStore
	EventLog       domain.EventLog

	// Ledger and vault
	ShareLedger     domain.ShareLedger
	CollateralVault domain.CollateralVault

	// Feed view the oracle reads; may be the store directly or a cache
	// decorator over it.
	PriceFeed   domain.PriceFeed
	Invalidator feed.Invalidator

	// Optional cold storage for reclaimed settlement buckets.
	Archiver domain.SettlementArchiver

	// Core components
	Engine    *engine.Engine
	Oracle    *oracle.Oracle
	Scheduler *scheduler.Scheduler
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		ShareLedger:     ledger.NewMemoryLedger(),
		CollateralVault: ledger.NewMemoryVault(),
	}

	persistent := strings.ToLower(cfg.Mode) == "engine"

	// --- Stores ---
	if persistent {
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
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.SchedulerStore = postgres.NewSchedulerStore(pool)
		deps.FeedStore = postgres.NewFeedStore(pool)
		deps.EventLog = postgres.NewEventLog(pool)
	} else {
		deps.MarketStore = memory.NewMarketStore()
		deps.SchedulerStore = memory.NewSchedulerStore()
		deps.FeedStore = memory.NewFeedStore(nil)
		deps.EventLog = memory.NewEventLog()
	}

	// --- Redis round cache (optional decorator over the feed store) ---
	deps.PriceFeed = deps.FeedStore
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

		roundCache := redis.NewRoundCache(redisClient, deps.FeedStore, cfg.Redis.RoundTTL.Duration, logger)
		deps.PriceFeed = roundCache
		deps.Invalidator = roundCache
	}

	// --- S3 settlement archive (optional) ---
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
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client))
	}

	// --- Core components ---
	deps.Engine = engine.New(engine.Config{
		FactoryID:           cfg.Engine.FactoryID,
		SchedulerID:         cfg.Engine.SchedulerID,
		MaxFeeBps:           uint16(cfg.Engine.MaxFeeBps),
		MinInitialLiquidity: uint64(cfg.Engine.MinInitialLiquidity),
	}, deps.MarketStore, deps.ShareLedger, deps.CollateralVault, deps.EventLog, logger)

	deps.Oracle = oracle.New(deps.PriceFeed, oracle.Config{
		MaxStaleness:  cfg.Oracle.MaxStaleness.Duration,
		MaxScanRounds: cfg.Oracle.MaxScanRounds,
	}, logger)

	deps.Scheduler = scheduler.New(scheduler.Config{
		SchedulerID:     cfg.Engine.SchedulerID,
		FactoryID:       cfg.Engine.FactoryID,
		LookbackDays:    cfg.Scheduler.LookbackDays,
		Lookahead:       cfg.Scheduler.Lookahead.Duration,
		ResolveBatchCap: cfg.Scheduler.ResolveBatchCap,
		CleanupBatchCap: cfg.Scheduler.CleanupBatchCap,
		BucketMinAge:    cfg.Scheduler.BucketMinAge.Duration,
	}, deps.SchedulerStore, deps.MarketStore, deps.Engine, deps.Oracle, deps.Archiver, deps.EventLog, logger)

	return deps, cleanup, nil
}
