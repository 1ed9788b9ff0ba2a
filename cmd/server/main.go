package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/inseam/inseam/internal/agent"
	"github.com/inseam/inseam/internal/api"
	"github.com/inseam/inseam/internal/auth"
	"github.com/inseam/inseam/internal/config"
	"github.com/inseam/inseam/internal/connector"
	"github.com/inseam/inseam/internal/notify"
	"github.com/inseam/inseam/internal/pipeline"
	"github.com/inseam/inseam/internal/pkg/distlock"
	"github.com/inseam/inseam/internal/pkg/logger"
	"github.com/inseam/inseam/internal/repository/postgres"
	"github.com/inseam/inseam/internal/service/tracker"
	"github.com/inseam/inseam/internal/service/updates"
	"github.com/inseam/inseam/internal/storage"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("database unreachable: %v", err)
	}
	pingCancel()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}
	logger.Info("database ready")

	// Redis (optional; approval locks fall back to pg advisory locks)
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, approval locks fall back to postgres", "error", err.Error())
			redisClient = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
	}

	// Checkpoint and archive storage
	var store storage.Store
	if cfg.Storage.DynamoDBTable != "" {
		ttl := time.Duration(cfg.Storage.CheckpointTTLDays) * 24 * time.Hour
		awsStore, err := storage.NewAWSStorage(ctx,
			cfg.Storage.DynamoDBTable,
			cfg.Storage.S3ArchiveBucket,
			cfg.Storage.AWSRegion,
			cfg.Storage.GetAWSProfile(),
			ttl,
		)
		if err != nil {
			log.Fatalf("failed to initialize AWS storage: %v", err)
		}
		store = awsStore
		logger.Info("AWS storage ready", "table", cfg.Storage.DynamoDBTable)
	} else {
		store = storage.NewMemoryStore(time.Duration(cfg.Storage.CheckpointTTLDays) * 24 * time.Hour)
		logger.Warn("no DynamoDB table configured, checkpoints are in-memory only")
	}

	// Repositories and services
	trackerRepo := postgres.NewTrackerRepo(db)
	updateRepo := postgres.NewUpdateRepo(db)
	connectionRepo := postgres.NewConnectionRepo(db)

	lockFactory := distlock.Factory(redisClient, db, 30*time.Second)
	trackerSvc := tracker.NewService(trackerRepo)
	updatesSvc := updates.NewService(updateRepo, trackerRepo, lockFactory)

	// Matcher backend: Bedrock when enabled, otherwise OpenAI
	var matcher agent.Matcher
	if cfg.Bedrock.Enabled {
		matcher, err = agent.NewBedrockMatcher(ctx, cfg.Bedrock)
		if err != nil {
			log.Fatalf("failed to initialize Bedrock matcher: %v", err)
		}
		logger.Info("matcher backend: bedrock", "model", cfg.Bedrock.ModelID)
	} else {
		matcher = agent.NewOpenAIMatcher(cfg.OpenAI)
		logger.Info("matcher backend: openai", "model", cfg.OpenAI.Model)
	}

	// Pipeline
	connectorClient := connector.NewClient(cfg.Connector)
	fetcher := pipeline.NewFetcher(connectorClient, connectionRepo, store)
	orchestrator := pipeline.NewOrchestrator(fetcher, matcher, trackerRepo, updatesSvc, store,
		cfg.Pipeline.BatchSize, cfg.Pipeline.MaxConcurrency)

	// Digest notifications
	notifier := notify.NewNotifier(cfg.Notify)
	if notifier.Enabled() {
		logger.Info("proposal digest notifications enabled", "from", cfg.Notify.FromEmail)
	}

	// Background refresh
	if cfg.Pipeline.AutoRefresh {
		refresher := pipeline.NewRefresher(orchestrator, connectionRepo, cfg.Pipeline.RefreshInterval())
		refresher.WithLocks(func(key string) pipeline.Lock { return lockFactory(key) })
		if notifier.Enabled() {
			refresher.WithDigest(notifier, updatesSvc)
		}
		if err := refresher.Start(); err != nil {
			log.Fatalf("failed to start refresher: %v", err)
		}
		defer refresher.Stop()
	}

	// Auth and HTTP
	authManager := auth.NewManager(cfg.Auth, cfg.Server.BaseURL)
	authManager.StartSessionCleanup(ctx)

	handlers := api.NewHandlers(orchestrator, updatesSvc, trackerSvc, connectorClient, connectionRepo, cfg.Server.BaseURL)
	server := api.NewServer(cfg.Server, handlers, authManager)

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err.Error())
	}
}
