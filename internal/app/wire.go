package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/busgate/internal/blob/s3"
	"github.com/alanyoungcy/busgate/internal/busconn"
	"github.com/alanyoungcy/busgate/internal/cache/redis"
	"github.com/alanyoungcy/busgate/internal/config"
	"github.com/alanyoungcy/busgate/internal/decode"
	"github.com/alanyoungcy/busgate/internal/domain"
	"github.com/alanyoungcy/busgate/internal/manager"
	"github.com/alanyoungcy/busgate/internal/ownerlock"
	"github.com/alanyoungcy/busgate/internal/store/postgres"
)

// Dependencies bundles every dependency the gateway process needs to
// operate. Constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Manager *manager.Manager

	AuditStore domain.AuditStore
	AuditBus   domain.AuditBus
	Archiver   domain.Archiver

	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	OwnerLock   *ownerlock.Lock

	// HealthCheckers is consulted by the HTTP health endpoint, keyed by a
	// short dependency name ("postgres", "s3").
	HealthCheckers map[string]domain.HealthChecker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Bus connection (the hot path: raw TCP, not Redis) ---
	conn, err := busconn.Dial(ctx, cfg.Bus.Addr, cfg.Bus.Namespace, cfg.Bus.TagCacheSize)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: bus dial: %w", err)
	}
	closers = append(closers, func() { _ = conn.Close() })

	tags, err := decode.NewTagCache(cfg.Bus.TagCacheSize)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: tag cache: %w", err)
	}

	deps.Manager = manager.New(conn, tags, logger)

	// --- PostgreSQL (audit log read-side) ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Supabase.DSN,
		Host:     cfg.Supabase.Host,
		Port:     cfg.Supabase.Port,
		Database: cfg.Supabase.Database,
		User:     cfg.Supabase.User,
		Password: cfg.Supabase.Password,
		SSLMode:  cfg.Supabase.SSLMode,
		MaxConns: cfg.Supabase.PoolMaxConns,
		MinConns: cfg.Supabase.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Supabase.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	deps.HealthCheckers = map[string]domain.HealthChecker{"postgres": pgClient}

	// --- Redis (owner lock, admin rate limiter, audit stream) ---
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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.AuditBus = redis.NewAuditBus(redisClient)
	deps.Manager.WithAuditBus(deps.AuditBus)

	lock, err := ownerlock.Acquire(ctx, deps.LockManager, cfg.Bus.Namespace, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: owner lock: %w", err)
	}
	deps.OwnerLock = lock
	closers = append(closers, lock.Release)

	// --- S3 blob storage (periodic admin-snapshot archive) ---
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

	writer := s3blob.NewWriter(s3Client)
	deps.Archiver = s3blob.NewArchiver(writer, deps.Manager, deps.AuditStore)
	deps.HealthCheckers["s3"] = s3Client

	return deps, cleanup, nil
}
