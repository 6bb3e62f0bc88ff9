package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"listing_feed/internal/api"
	"listing_feed/internal/broadcast"
	"listing_feed/internal/config"
	"listing_feed/internal/eventlog"
	"listing_feed/internal/publisher"
	"listing_feed/internal/service"
	"listing_feed/internal/storage/mongo"
	"listing_feed/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event log
	redisLog := eventlog.NewRedisLog(eventlog.RedisConfig{
		Addr:        cfg.Redis.Addr,
		Username:    cfg.Redis.Username,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		PoolTimeout: cfg.Redis.PoolTimeout,
		Stream:      cfg.Stream.Name,
	}, logger)
	defer redisLog.Close()

	if err := redisLog.Ping(ctx); err != nil {
		// sessions retry on their own, so an unreachable log is not fatal
		logger.Warn("failed to ping redis", "addr", cfg.Redis.Addr, "error", err)
	} else {
		logger.Info("connected to redis", "stream", cfg.Stream.Name)
	}

	// Pipeline status database
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	// Listing database
	mongoClient, err := mongo.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		logger.Error("failed to connect to mongo", "error", err)
		os.Exit(1)
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		_ = mongoClient.Disconnect(dctx)
	}()
	logger.Info("connected to mongo", "database", cfg.Mongo.Database, "collection", cfg.Mongo.Collection)

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	} else {
		logger.Info("rabbitmq not configured, status changes will not be published")
	}

	// Stores
	listingStore := mongo.NewListingStore(mongoClient.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
	pipelineStore := postgres.NewPipelineStore(db)
	txManager := postgres.NewTransactionManager(db)

	snapshotService := service.NewSnapshotService(listingStore, pipelineStore, logger, cfg.Snapshot)
	statusService := service.NewStatusService(pipelineStore, txManager, pub, logger)

	broadcaster := broadcast.NewBroadcaster(redisLog, eventlog.TailerConfig{
		Count:          cfg.Stream.Count,
		Block:          cfg.Stream.Block,
		InitialBackoff: cfg.Stream.InitialBackoff,
		MaxBackoff:     cfg.Stream.MaxBackoff,
	}, logger.With("component", "broadcast"))

	apiServer := api.NewServer(api.Options{
		Stream:    broadcaster,
		Snapshots: snapshotService,
		Statuses:  statusService,
		HealthChecks: map[string]api.HealthCheck{
			"redis":    redisLog.Ping,
			"postgres": db.PingContext,
			"mongo": func(ctx context.Context) error {
				return mongoClient.Ping(ctx, nil)
			},
		},
		DefaultOrganization: cfg.DefaultOrganization,
	}, logger)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// stream sessions end when ctx is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting listing feed server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("server stopped", "active_sessions", broadcast.ActiveSessions())
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
