package leonardo

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollUntilTerminal_CompletesAfterPending(t *testing.T) {
	statuses := []string{"PENDING", "PENDING", "PENDING", StatusComplete}
	calls := 0

	generation, err := pollUntilTerminal(context.Background(), time.Millisecond, 40, func(context.Context) (*Generation, error) {
		status := statuses[calls]
		calls++
		return &Generation{Status: status}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generation.Status != StatusComplete {
		t.Fatalf("expected COMPLETE got %q", generation.Status)
	}
	if calls != len(statuses) {
		t.Fatalf("expected %d fetches got %d", len(statuses), calls)
	}
}

func TestPollUntilTerminal_FailedAbortsImmediately(t *testing.T) {
	calls := 0

	_, err := pollUntilTerminal(context.Background(), time.Hour, 40, func(context.Context) (*Generation, error) {
		calls++
		return &Generation{Status: StatusFailed}, nil
	})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed got %v", err)
	}
	// interval 为一小时：若 FAILED 后还会等待，测试会卡死在这里。
	if calls != 1 {
		t.Fatalf("expected 1 fetch got %d", calls)
	}
}

func TestPollUntilTerminal_TimesOutAfterMaxAttempts(t *testing.T) {
	const maxAttempts = 40
	calls := 0

	_, err := pollUntilTerminal(context.Background(), time.Microsecond, maxAttempts, func(context.Context) (*Generation, error) {
		calls++
		return &Generation{Status: "PENDING"}, nil
	})
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout got %v", err)
	}
	if calls != maxAttempts {
		t.Fatalf("expected %d fetches got %d", maxAttempts, calls)
	}
}

func TestPollUntilTerminal_FetchErrorStopsPolling(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0

	_, err := pollUntilTerminal(context.Background(), time.Microsecond, 40, func(context.Context) (*Generation, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 fetch got %d", calls)
	}
}

func TestPollUntilTerminal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	_, err := pollUntilTerminal(ctx, time.Hour, 40, func(context.Context) (*Generation, error) {
		cancel()
		return &Generation{Status: "PENDING"}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}
