package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"poster/internal/api"
	"poster/internal/auth"
	"poster/internal/config"
	"poster/internal/database"
	"poster/internal/leonardo"
	"poster/internal/storage"
	"poster/internal/xai"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready")

	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	if err := database.SeedCatalog(db); err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	log.Println("database migrated and catalog seeded")

	authService, err := auth.NewAuthService(
		[]byte(cfg.Auth.PrivateKeyPEM),
		[]byte(cfg.Auth.PublicKeyPEM),
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	xaiClient := xai.NewClient(cfg.XAI)
	leonardoClient := leonardo.NewClient(cfg.Leonardo)

	router := api.NewRouter(logger)
	api.RegisterRoutes(
		router,
		db,
		asynqClient,
		authService,
		redisClient,
		logger,
		storageClient,
		xaiClient,
		leonardoClient,
		cfg.Clamd.Addr,
		cfg.API.WSOrigins,
		cfg.Limits.GenerationsPerDay,
	)

	address := fmt.Sprintf(":%d", cfg.API.Port)
	log.Printf("api listening on %s", address)

	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
