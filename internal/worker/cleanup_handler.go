// Package worker 承载 Asynq 消费端的任务处理器。
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"poster/internal/tasks"
)

// objectDeleter 是清理任务对存储层的最小依赖。
type objectDeleter interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// BlobCleanupHandler 负责消费存储对象回收任务。
// 记录删除后参考图等对象的清理走异步队列，避免阻塞请求路径。
type BlobCleanupHandler struct {
	storage objectDeleter
	logger  *slog.Logger
}

// NewBlobCleanupHandler 创建任务处理器。
func NewBlobCleanupHandler(storage objectDeleter, logger *slog.Logger) *BlobCleanupHandler {
	return &BlobCleanupHandler{
		storage: storage,
		logger:  logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// 对象已不存在视为成功；部分失败返回错误交给 Asynq 重试。
func (h *BlobCleanupHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	log := h.logger

	var payload tasks.BlobCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("object_count", len(payload.ObjectKeys)),
	)
	log.Info("Starting blob cleanup task...")

	var failed int
	for _, key := range payload.ObjectKeys {
		if err := h.storage.DeleteObject(ctx, key); err != nil {
			failed++
			log.Error("delete object failed",
				slog.String("object_key", key),
				slog.Any("error", err),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("blob cleanup: %d of %d objects failed", failed, len(payload.ObjectKeys))
	}

	log.Info("Blob cleanup task completed successfully.")
	return nil
}
