package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"poster/internal/config"
	"poster/internal/metrics"
	"poster/internal/storage"
	"poster/internal/tasks"
	"poster/internal/worker"
)

const workerMetricsAddr = ":9091"

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: 10,
	})

	cleanupHandler := worker.NewBlobCleanupHandler(storageClient, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeBlobCleanup, cleanupHandler)

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(workerMetricsAddr, nil); err != nil {
			logger.Error("metrics endpoint stopped", slog.Any("error", err))
		}
	}()

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
