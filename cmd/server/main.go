package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/wsbroadcast/internal/feed"
	"github.com/pscheid92/wsbroadcast/internal/httpserver"
	"github.com/pscheid92/wsbroadcast/internal/hub"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	"github.com/pscheid92/wsbroadcast/internal/platform/config"
	"github.com/pscheid92/wsbroadcast/internal/platform/logging"
	"github.com/pscheid92/wsbroadcast/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const redisConnectTimeout = 10 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func hubOptions(cfg *config.Config) hub.Options {
	return hub.Options{
		Routing:          cfg.Routing(),
		CloseTimeout:     cfg.CloseTimeout,
		SendPollInterval: cfg.SendPollInterval,
		WriteTimeout:     cfg.WriteTimeout,
		PingInterval:     cfg.PingInterval,
		PongWait:         cfg.PongWait,
		MaxMessageSize:   cfg.MaxMessageSize,
		MaxQueueLength:   cfg.MaxQueueLength,
	}
}

func setupRedis(cfg *config.Config, m *metrics.Redis) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	client, err := feed.NewRedisClient(ctx, cfg.RedisURL, m)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	clock := clockwork.NewRealClock()
	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	instanceID := uuid.NewString()
	info := version.Get(instanceID)
	slog.Info("Application starting", "env", cfg.AppEnv, "addr", cfg.Addr(), "version", info.Version, "instance_id", instanceID)

	reg := metrics.NewRegistry()
	metrics.RegisterBuildInfo(reg, info)
	hubMetrics := metrics.NewHub(reg)
	feedMetrics := metrics.NewFeed(reg)

	h := hub.New(hubOptions(cfg), clock, hubMetrics)

	var (
		redisClient  *goredis.Client
		healthChecks []httpserver.HealthCheck
	)
	if cfg.RedisURL != "" {
		redisClient = setupRedis(cfg, metrics.NewRedis(reg))
		defer func() { _ = redisClient.Close() }()
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	srv, err := httpserver.NewServer(cfg, h, reg, hubMetrics, clock, instanceID, healthChecks)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	if cfg.TimeBroadcastInterval > 0 {
		ticker := feed.NewTimeBroadcaster(h, clock, cfg.TimeBroadcastInterval, feedMetrics)
		g.Go(func() error {
			ticker.Run(gctx)
			return nil
		})
	}

	if redisClient != nil {
		redisFeed := feed.NewRedisFeed(redisClient, cfg.RedisChannel, h, clock, feedMetrics)
		g.Go(func() error { return redisFeed.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			slog.Info("Shutdown signal received, closing connections...")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Server stopped")
	return nil
}
