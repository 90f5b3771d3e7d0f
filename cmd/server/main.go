package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aastha0305/DigiPurse/internal/cache"
	"github.com/Aastha0305/DigiPurse/internal/config"
	"github.com/Aastha0305/DigiPurse/internal/events/kafka"
	"github.com/Aastha0305/DigiPurse/internal/handlers"
	"github.com/Aastha0305/DigiPurse/internal/logging"
	"github.com/Aastha0305/DigiPurse/internal/middleware"
	"github.com/Aastha0305/DigiPurse/internal/repository"
	"github.com/Aastha0305/DigiPurse/internal/repository/dynamo"
	"github.com/Aastha0305/DigiPurse/internal/service"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ledgerStore is what the wallet and history services need from a backend.
type ledgerStore interface {
	repository.Store
	repository.UserDirectory
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	gin.SetMode(gin.ReleaseMode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "backend", cfg.StoreBackend, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	opts := []service.Option{
		service.WithMaxRetries(cfg.LedgerMaxRetries),
		service.WithScopeTimeout(cfg.LedgerScopeTimeout),
		service.WithPublishTimeout(cfg.KafkaPublishTimeout),
	}
	var writeMiddleware []gin.HandlerFunc

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts, service.WithCache(cache.NewWalletCache(rdb, cfg.WalletCacheTTL)))
		writeMiddleware = append(writeMiddleware, middleware.Idempotency(rdb, cfg.IdempotencyTTL, logger))
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close kafka publisher", "err", err)
			}
		}()
		opts = append(opts, service.WithPublisher(publisher))
	}

	svc := service.NewWalletService(store, logger, opts...)
	history := service.NewHistoryService(store, store, logger)
	handler := handlers.NewWalletHTTPHandler(svc, history, logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(logger))
	handler.RegisterRoutes(r, middleware.Auth([]byte(cfg.JWTSecret), logger), writeMiddleware...)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("Server forced to shutdown", "err", err)
	}
	logger.Info("Server exiting")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ledgerStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoDBEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			}
		})
		store := dynamo.New(client, cfg.DynamoDBWalletsTable, cfg.DynamoDBTransactionsTable, cfg.DynamoDBUsersTable, logger)
		return store, func() {}, nil

	case config.BackendMemory:
		logger.Warn("Using in-memory store, data will not survive a restart")
		return repository.NewMemoryStore(), func() {}, nil

	default:
		poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
		if err != nil {
			return nil, nil, err
		}
		poolConfig.MaxConns = int32(cfg.DBMaxConns)
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewWalletPGRepository(pool, logger), pool.Close, nil
	}
}
