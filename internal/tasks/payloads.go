package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeBlobCleanup = "blob:cleanup"
)

// BlobCleanupPayload 描述删除记录后需要回收的存储对象。
type BlobCleanupPayload struct {
	ObjectKeys    []string `json:"object_keys"`
	CorrelationID string   `json:"correlation_id"`
}

// NewBlobCleanupTask 构造一个存储对象回收任务。
func NewBlobCleanupTask(objectKeys []string, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(BlobCleanupPayload{
		ObjectKeys:    objectKeys,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBlobCleanup, payload), nil
}
