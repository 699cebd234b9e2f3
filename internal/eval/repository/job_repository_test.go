package repository_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"evalhub/internal/common/cache"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	appErr "evalhub/pkg/errors"
)

func newJobRepo(t *testing.T) repository.JobRepository {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("init redis cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })
	return repository.NewJobRepository(redisCache)
}

func TestJobSaveAndGet(t *testing.T) {
	t.Parallel()
	repo := newJobRepo(t)
	ctx := context.Background()

	job := &model.EvaluationJob{
		SubmissionID: "sub-1",
		BackendKind:  model.BackendAsyncPoll,
		BackendToken: "task-9",
		State:        model.JobStateAwaitingResult,
		Attempt:      2,
		ReceivedAt:   1700000000,
	}
	if err := repo.Save(ctx, job); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.Get(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.State != model.JobStateAwaitingResult {
		t.Fatalf("expected awaiting_result, got %s", loaded.State)
	}
	if loaded.BackendToken != "task-9" {
		t.Fatalf("expected backend token preserved, got %q", loaded.BackendToken)
	}
	if loaded.Attempt != 2 {
		t.Fatalf("expected attempt 2, got %d", loaded.Attempt)
	}
	if loaded.UpdatedAt == 0 {
		t.Fatal("expected UpdatedAt to be stamped on save")
	}
}

func TestJobGetMissing(t *testing.T) {
	t.Parallel()
	repo := newJobRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcquireSubmissionIsSingleUse(t *testing.T) {
	t.Parallel()
	repo := newJobRepo(t)
	ctx := context.Background()

	acquired, err := repo.AcquireSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected first acquire to succeed")
	}

	acquired, err = repo.AcquireSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if acquired {
		t.Fatal("expected second acquire to fail")
	}

	if err := repo.ReleaseSubmission(ctx, "sub-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	acquired, err = repo.AcquireSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquire to succeed after release")
	}
}
