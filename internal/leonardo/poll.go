package leonardo

import (
	"context"
	"errors"
	"time"
)

// 生成任务的终态。其余状态值（PENDING 等）继续轮询。
const (
	StatusComplete = "COMPLETE"
	StatusFailed   = "FAILED"
)

var (
	// ErrGenerationFailed 表示远端任务进入 FAILED 终态。
	ErrGenerationFailed = errors.New("image generation failed")
	// ErrGenerationTimeout 表示轮询次数耗尽时任务仍未到达终态。
	ErrGenerationTimeout = errors.New("image generation timeout - please try again")
)

// pollUntilTerminal 反复调用 fetch 直到任务到达终态或次数耗尽。
// FAILED 立即返回错误，不再等待；耗尽 maxAttempts 次仍未终态返回
// ErrGenerationTimeout。等待发生在每次非终态查询之后，
// 已经 COMPLETE 的任务不会多睡一个间隔。
func pollUntilTerminal(ctx context.Context, interval time.Duration, maxAttempts int, fetch func(context.Context) (*Generation, error)) (*Generation, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		generation, err := fetch(ctx)
		if err != nil {
			return nil, err
		}

		switch generation.Status {
		case StatusComplete:
			return generation, nil
		case StatusFailed:
			return nil, ErrGenerationFailed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, ErrGenerationTimeout
}
