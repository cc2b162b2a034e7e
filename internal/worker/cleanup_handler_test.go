package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"poster/internal/tasks"
)

type fakeDeleter struct {
	deleted []string
	failOn  map[string]error
}

func (f *fakeDeleter) DeleteObject(_ context.Context, objectKey string) error {
	if err, ok := f.failOn[objectKey]; ok {
		return err
	}
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBlobCleanup_DeletesAllObjects(t *testing.T) {
	deleter := &fakeDeleter{}
	h := NewBlobCleanupHandler(deleter, discardLogger())

	task, err := tasks.NewBlobCleanupTask([]string{"a.png", "b.png"}, "corr-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleter.deleted) != 2 {
		t.Fatalf("expected 2 deletions got %v", deleter.deleted)
	}
}

func TestBlobCleanup_PartialFailureReturnsError(t *testing.T) {
	deleter := &fakeDeleter{failOn: map[string]error{"b.png": errors.New("boom")}}
	h := NewBlobCleanupHandler(deleter, discardLogger())

	task, err := tasks.NewBlobCleanupTask([]string{"a.png", "b.png", "c.png"}, "corr-1")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	err = h.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for asynq retry")
	}
	if !strings.Contains(err.Error(), "1 of 3") {
		t.Fatalf("error should report failure count, got %v", err)
	}
	if len(deleter.deleted) != 2 {
		t.Fatalf("remaining objects should still be deleted, got %v", deleter.deleted)
	}
}

func TestBlobCleanup_BadPayload(t *testing.T) {
	h := NewBlobCleanupHandler(&fakeDeleter{}, discardLogger())

	task := asynq.NewTask(tasks.TypeBlobCleanup, []byte("not json"))
	if err := h.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
