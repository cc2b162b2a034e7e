package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}

// allowDailyGeneration 检查并消耗一次当日生成额度，文生图与角色生成共用同一计数。
// 额度未配置时放行；Redis 故障时同样放行，额度只是兜底而不是硬依赖。
func allowDailyGeneration(ctx context.Context, client redis.UniversalClient, userID uint, limit int) bool {
	if client == nil || limit <= 0 {
		return true
	}
	key := fmt.Sprintf("quota:generation:%d:%s", userID, time.Now().UTC().Format("20060102"))
	count, err := incrWithTTL(ctx, client, key, 24*time.Hour)
	if err != nil {
		return true
	}
	return count <= int64(limit)
}
