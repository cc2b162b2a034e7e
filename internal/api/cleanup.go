package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"poster/internal/api/middleware"
	"poster/internal/tasks"
)

// enqueueBlobCleanup 把待回收的存储对象交给后台队列。
// 入队失败只记日志，不影响请求结果；对象最多残留到下一次人工清理。
func enqueueBlobCleanup(c *gin.Context, enqueuer taskEnqueuer, objectKeys []string) {
	if enqueuer == nil || len(objectKeys) == 0 {
		return
	}
	task, err := tasks.NewBlobCleanupTask(objectKeys, middleware.GetCorrelationID(c))
	if err != nil {
		return
	}
	if _, err := enqueuer.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		middleware.LoggerFromContext(c).Error("enqueue blob cleanup failed", slog.Any("error", err))
	}
}
