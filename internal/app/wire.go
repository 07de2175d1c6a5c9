package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	s3blob "github.com/alanyoungcy/livebid/internal/blob/s3"
	"github.com/alanyoungcy/livebid/internal/cache/redis"
	"github.com/alanyoungcy/livebid/internal/config"
	"github.com/alanyoungcy/livebid/internal/domain"
	"github.com/alanyoungcy/livebid/internal/fanout"
	"github.com/alanyoungcy/livebid/internal/notify"
	"github.com/alanyoungcy/livebid/internal/server/handler"
	"github.com/alanyoungcy/livebid/internal/service"
	"github.com/alanyoungcy/livebid/internal/store/memory"
	"github.com/alanyoungcy/livebid/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. It is built by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	NodeID string

	// Shared store
	Auctions  domain.AuctionStore
	Sanctions domain.SanctionStore

	// Redis-backed coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Presence    domain.PresenceTracker
	Directory   domain.ClientDirectory
	Rooms       domain.RoomRegistry

	// Cross-node payload codec; nil sends frames as plain JSON.
	Codec fanout.PayloadCodec

	// Collaborator sinks fed by the emitter.
	Sinks []service.EventSink

	// Health checks reported by GET /api/health.
	Checks map[string]handler.Checker
}

// Wire constructs the concrete implementations selected by cfg and returns
// them together with a cleanup function releasing them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		NodeID: cfg.Fanout.NodeID,
		Checks: make(map[string]handler.Checker),
	}
	if deps.NodeID == "" {
		deps.NodeID = "node-" + uuid.NewString()[:8]
	}

	// --- Shared store ---
	switch cfg.Store.Driver {
	case "memory":
		store := memory.NewStore()
		deps.Auctions = store
		deps.Sanctions = store
		logger.WarnContext(ctx, "wire: using in-memory store, state is local to this node")
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.ConnLifetime.Duration,
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
		deps.Auctions = postgres.NewAuctionStore(pool)
		deps.Sanctions = postgres.NewSanctionStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

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

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.Presence = redis.NewPresenceTracker(redisClient)
	deps.Directory = redis.NewClientDirectory(redisClient)
	deps.Rooms = redis.NewRoomRegistry(redisClient)
	deps.Checks["redis"] = redisClient.Ping

	if cfg.Fanout.CodecKey != "" {
		codec, err := fanout.NewSecretBoxCodec(cfg.Fanout.CodecKey)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: fanout codec: %w", err)
		}
		deps.Codec = codec
	}

	// --- S3 settlement archive ---
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
		deps.Sinks = append(deps.Sinks, s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Auctions,
			logger,
		))
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	for _, url := range cfg.Notify.WebhookURLs {
		senders = append(senders, notify.NewWebhookSender(url, cfg.Notify.WebhookToken))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Sinks = append(deps.Sinks, notify.NewNotifier(senders, cfg.Notify.Events, logger))
	}

	// --- NATS JetStream feed ---
	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("livebid-"+deps.NodeID))
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: nats connect: %w", err)
		}
		closers = append(closers, func() { _ = nc.Drain() })

		js, err := notify.NewJetStreamSender(ctx, nc, cfg.NATS.StreamMaxAge.Duration)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		deps.Sinks = append(deps.Sinks, js)
		deps.Checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats: status %s", nc.Status())
			}
			return nil
		}
	}

	sinkNames := make([]string, 0, len(deps.Sinks))
	for _, s := range deps.Sinks {
		sinkNames = append(sinkNames, s.Name())
	}
	logger.InfoContext(ctx, "wire: dependencies ready",
		slog.String("node_id", deps.NodeID),
		slog.String("store", cfg.Store.Driver),
		slog.Any("sinks", sinkNames),
	)

	return deps, cleanup, nil
}
