package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/promise-app-team/promise-api-sub000/auth"
	"github.com/promise-app-team/promise-api-sub000/broker"
	"github.com/promise-app-team/promise-api-sub000/cache"
	"github.com/promise-app-team/promise-api-sub000/config"
	"github.com/promise-app-team/promise-api-sub000/connection"
	"github.com/promise-app-team/promise-api-sub000/event"
	"github.com/promise-app-team/promise-api-sub000/gateway"
	"github.com/promise-app-team/promise-api-sub000/metrics"
	"github.com/promise-app-team/promise-api-sub000/promise"
	"github.com/promise-app-team/promise-api-sub000/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		slog.Error("failed to initialize config", "error", err)
		os.Exit(1)
	}
	cfg := config.Get()

	// Unique id of this instance, attached to every log line.
	serverID := uuid.New().String()
	log := newLogger(cfg.Log).With("server_id", serverID)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("realtime service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient *redis.Client
	if needsRedis(cfg) {
		client, err := services.NewRedisClient(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		redisClient = client
		defer services.CloseRedisClient(redisClient)
	}

	var store cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		store = cache.NewRedis(redisClient, cache.RedisOptions{KeyTTL: cfg.Cache.KeyTTL, MaxRetries: cfg.Cache.MaxRetries}, log)
	default:
		log.Warn("using process-local cache, connections are not shared between instances")
		store = cache.NewMemory()
	}

	messageBroker, err := newBroker(cfg, redisClient, log)
	if err != nil {
		return err
	}
	defer messageBroker.Close()

	var identity gateway.IdentityResolver = auth.Passthrough{}
	if cfg.Auth.Enabled {
		identity = auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.RevocationListKey, redisClient, log)
		log.Info("JWT authentication is enabled")
	} else {
		log.Info("JWT authentication is disabled")
	}

	registry := connection.NewRegistry(store, cfg.Realtime.Stage,
		connection.WithDefaultTTL(cfg.Realtime.ConnectionTTL),
		connection.WithLogger(log),
	)
	sweeper := connection.NewSweeper(registry, connection.WallScheduler, cfg.Realtime.SweepDelay, cfg.Realtime.SweepCapacity, log)

	deps := event.Deps{
		Registry: registry,
		Emitter:  gateway.NewBrokerEmitter(messageBroker, cfg.Gateway.OutboundChannel),
		Logger:   log,
	}
	events, err := event.NewManager(sweeper, log,
		event.NewPing(deps),
		event.NewShareLocation(deps, promise.NewCacheDirectory(store)),
	)
	if err != nil {
		return err
	}
	log.Info("events registered", "events", events.Names(), "stage", registry.Stage())

	dispatcher := gateway.NewDispatcher(messageBroker, events, identity, gateway.Channels{
		Inbound:  cfg.Gateway.InboundChannel,
		Outbound: cfg.Gateway.OutboundChannel,
	}, cfg.Server.InvocationTimeout, log)

	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(ctx)
	}()

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- dispatcher.Listen(ctx)
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path, log)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("shutdown signal received", "signal", sig.String())
		cancel()
		runErr = <-listenErr
	case runErr = <-listenErr:
		if runErr != nil {
			log.Error("gateway listener failed", "error", runErr)
		}
	}

	// Stop intake, let in-flight invocations finish, then flush disconnects
	// they queued after the sweeper stopped.
	cancel()
	dispatcher.Wait()
	<-sweeperDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if n := sweeper.Flush(shutdownCtx); n > 0 {
		log.Info("flushed pending disconnects", "channels", n)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown error", "error", err)
		}
	}

	log.Info("realtime service stopped gracefully")
	return runErr
}

func needsRedis(cfg *config.AppConfig) bool {
	return cfg.Cache.Type == "redis" || cfg.Broker.Type == "redis" || cfg.Auth.Enabled
}

func newBroker(cfg *config.AppConfig, redisClient *redis.Client, log *slog.Logger) (broker.MessageBroker, error) {
	log.Info("initializing message broker", "type", cfg.Broker.Type)
	switch cfg.Broker.Type {
	case "redis":
		return broker.NewRedisBroker(redisClient, log), nil
	case "kafka":
		b, err := broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka broker: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("invalid broker type: %s", cfg.Broker.Type)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
