package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/betchain/settlementd/internal/blob/s3"
	"github.com/betchain/settlementd/internal/cache/redis"
	"github.com/betchain/settlementd/internal/config"
	"github.com/betchain/settlementd/internal/crypto"
	"github.com/betchain/settlementd/internal/domain"
	"github.com/betchain/settlementd/internal/ledger/evm"
	"github.com/betchain/settlementd/internal/orchestrator"
	"github.com/betchain/settlementd/internal/settlement"
	"github.com/betchain/settlementd/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the engine needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger
	Ledger domain.LedgerClient

	// Stores
	EventStore domain.EventStore
	BetStore   domain.BetStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	MirrorQueue domain.MirrorQueue

	// Settlement
	Calculator *settlement.Calculator

	// Snapshots; nil when S3 archiving is disabled.
	Snapshots domain.SnapshotWriter

	// Core engine
	Orchestrator *orchestrator.Orchestrator
	Reconciler   *orchestrator.Reconciler
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

	// --- PostgreSQL metadata mirror ---
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
	deps.EventStore = postgres.NewEventStore(pool)
	deps.BetStore = postgres.NewBetStore(pool)

	// --- Redis ---
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

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.MirrorQueue = redis.NewMirrorQueue(redisClient)

	// --- Ledger ---
	signer, err := evm.NewKeySigner(crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}

	ledgerClient, err := evm.New(ctx, evm.ClientConfig{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		ChainID:         cfg.Chain.ChainID,
		PollInterval:    cfg.Chain.PollInterval.Duration,
		GasLimitCap:     cfg.Chain.GasLimitCap,
	}, signer, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, ledgerClient.Close)
	deps.Ledger = ledgerClient

	// --- Settlement ---
	deps.Calculator = settlement.NewCalculator(cfg.Settlement.FeeRateBps)

	// --- S3 snapshot archive (optional) ---
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
		deps.Snapshots = s3blob.NewWriter(s3Client)
	}

	// --- Orchestrator ---
	deps.Orchestrator = orchestrator.New(
		deps.Ledger,
		deps.EventStore,
		deps.BetStore,
		deps.LockManager,
		deps.MirrorQueue,
		deps.SignalBus,
		deps.Calculator,
		deps.Snapshots,
		orchestrator.Config{
			LockTTL:        cfg.Settlement.LockTTL.Duration,
			ConfirmTimeout: cfg.Chain.ConfirmTimeout.Duration,
		},
		logger,
	)

	// --- Reconciler (optional) ---
	if cfg.Reconcile.Enabled {
		deps.Reconciler = orchestrator.NewReconciler(
			deps.Ledger,
			deps.EventStore,
			deps.BetStore,
			deps.MirrorQueue,
			cfg.Reconcile.Interval.Duration,
			logger,
		)
	}

	return deps, cleanup, nil
}
