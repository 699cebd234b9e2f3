package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"evalhub/internal/common/cache"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	"evalhub/internal/eval/service"
	appErr "evalhub/pkg/errors"
)

type intakeEnv struct {
	svc         *service.IntakeService
	jobs        repository.JobRepository
	submissions *fakeSubmissionRepo
	verdicts    *fakeVerdictRepo
	storage     *fakeStorage
	producer    *fakeProducer
}

func newIntakeEnv(t *testing.T, rateLimit int) *intakeEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("init redis cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })

	env := &intakeEnv{
		jobs:        repository.NewJobRepository(redisCache),
		submissions: newFakeSubmissionRepo(),
		verdicts:    newFakeVerdictRepo(),
		storage:     newFakeStorage(),
		producer:    &fakeProducer{},
	}
	env.svc, err = service.NewIntakeService(service.IntakeConfig{
		Submissions:        env.submissions,
		Jobs:               env.jobs,
		Verdicts:           env.verdicts,
		Storage:            env.storage,
		Producer:           env.producer,
		Cache:              redisCache,
		Bucket:             "test-bucket",
		RateLimitPerMinute: rateLimit,
	})
	if err != nil {
		t.Fatalf("init intake service: %v", err)
	}
	return env
}

func validSubmit(id string) service.SubmitRequest {
	return service.SubmitRequest{
		SubmissionID: id,
		PrincipalID:  "principal-1",
		TargetID:     "target-1",
		Language:     "cpp",
		SourceCode:   "int main(){return 0;}",
	}
}

func TestSubmitHappyPath(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)

	status, err := env.svc.Submit(context.Background(), validSubmit("sub-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.State != model.JobStateAccepted {
		t.Fatalf("expected accepted, got %s", status.State)
	}
	if status.SubmissionID != "sub-1" {
		t.Fatalf("expected submission ID preserved, got %s", status.SubmissionID)
	}

	if len(env.producer.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(env.producer.published))
	}
	published := env.producer.published[0]
	if published.topic != model.EvaluationTopic {
		t.Fatalf("unexpected topic %s", published.topic)
	}
	msg, err := model.DecodeEvaluationMessage(published.msg.Body)
	if err != nil {
		t.Fatalf("decode published message: %v", err)
	}
	if msg.SubmissionID != "sub-1" || msg.Language != "cpp" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.SourceHash == "" || msg.SourceKey == "" {
		t.Fatal("message must carry source key and hash")
	}

	// The source itself must be in object storage, not the message.
	reader, err := env.storage.GetObject(context.Background(), "test-bucket", msg.SourceKey)
	if err != nil {
		t.Fatalf("stored source missing: %v", err)
	}
	_ = reader.Close()
}

func TestSubmitAssignsIDWhenMissing(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)

	req := validSubmit("")
	status, err := env.svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.SubmissionID == "" {
		t.Fatal("expected a generated submission ID")
	}
}

func TestSubmitDuplicateIDConflicts(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)

	if _, err := env.svc.Submit(context.Background(), validSubmit("sub-1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := env.svc.Submit(context.Background(), validSubmit("sub-1"))
	if !appErr.Is(err, appErr.SubmissionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(env.producer.published) != 1 {
		t.Fatalf("conflicting submit must not publish, got %d messages", len(env.producer.published))
	}
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	tests := []struct {
		name   string
		mutate func(*service.SubmitRequest)
		code   appErr.ErrorCode
	}{
		{name: "missing principal", mutate: func(r *service.SubmitRequest) { r.PrincipalID = "" }, code: appErr.ValidationFailed},
		{name: "missing target", mutate: func(r *service.SubmitRequest) { r.TargetID = "" }, code: appErr.ValidationFailed},
		{name: "missing language", mutate: func(r *service.SubmitRequest) { r.Language = "  " }, code: appErr.ValidationFailed},
		{name: "unsupported language", mutate: func(r *service.SubmitRequest) { r.Language = "cobol" }, code: appErr.LanguageNotSupported},
		{name: "empty source", mutate: func(r *service.SubmitRequest) { r.SourceCode = "\n\t" }, code: appErr.ValidationFailed},
		{name: "oversized source", mutate: func(r *service.SubmitRequest) {
			r.SourceCode = strings.Repeat("a", model.SourceCodeMaxBytes+1)
		}, code: appErr.SourceTooLarge},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := validSubmit("")
			tt.mutate(&req)
			_, err := env.svc.Submit(context.Background(), req)
			if !appErr.Is(err, tt.code) {
				t.Fatalf("expected code %d, got %v", tt.code, err)
			}
		})
	}
}

func TestSubmitRateLimit(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := env.svc.Submit(context.Background(), validSubmit("")); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	_, err := env.svc.Submit(context.Background(), validSubmit(""))
	if !appErr.Is(err, appErr.SubmitTooFrequently) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestSubmitPublishFailureMarksJobFailed(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	env.producer.publishErr = context.DeadlineExceeded

	_, err := env.svc.Submit(context.Background(), validSubmit("sub-1"))
	if err == nil {
		t.Fatal("expected an error")
	}
	job, jobErr := env.jobs.Get(context.Background(), "sub-1")
	if jobErr != nil {
		t.Fatalf("load job: %v", jobErr)
	}
	if job.State != model.JobStateFailed {
		t.Fatalf("expected failed job, got %s", job.State)
	}
}

func TestSubmitStorageFailureReleasesClaim(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	env.storage.putErr = context.DeadlineExceeded

	_, err := env.svc.Submit(context.Background(), validSubmit("sub-1"))
	if !appErr.Is(err, appErr.StorageError) {
		t.Fatalf("expected storage error, got %v", err)
	}

	// The claim must not leak; a retry of the same ID should work.
	env.storage.putErr = nil
	if _, err := env.svc.Submit(context.Background(), validSubmit("sub-1")); err != nil {
		t.Fatalf("resubmit after storage failure: %v", err)
	}
}

func TestGetStatusOwnership(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	if _, err := env.svc.Submit(context.Background(), validSubmit("sub-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := env.svc.GetStatus(context.Background(), "sub-1", "principal-1")
	if err != nil {
		t.Fatalf("owner status: %v", err)
	}
	if status.State != model.JobStateAccepted {
		t.Fatalf("expected accepted, got %s", status.State)
	}

	// Someone else's submission reads as not found.
	_, err = env.svc.GetStatus(context.Background(), "sub-1", "principal-2")
	if !appErr.Is(err, appErr.SubmissionNotFound) {
		t.Fatalf("expected not found for foreign principal, got %v", err)
	}
}

func TestGetStatusIncludesVerdictWhenCompleted(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	if _, err := env.svc.Submit(context.Background(), validSubmit("sub-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := env.verdicts.Save(context.Background(), "sub-1", &model.Verdict{
		Outcome: model.OutcomeAccepted, Score: 100, BackendKind: model.BackendSync,
	}); err != nil {
		t.Fatalf("seed verdict: %v", err)
	}
	if err := env.jobs.Save(context.Background(), &model.EvaluationJob{
		SubmissionID: "sub-1",
		State:        model.JobStateCompleted,
		FinishedAt:   time.Now().Unix(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	status, err := env.svc.GetStatus(context.Background(), "sub-1", "principal-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Verdict == nil || status.Verdict.Outcome != model.OutcomeAccepted {
		t.Fatalf("expected inline verdict, got %+v", status.Verdict)
	}
}

func TestGetVerdictNotReady(t *testing.T) {
	t.Parallel()
	env := newIntakeEnv(t, 30)
	if _, err := env.svc.Submit(context.Background(), validSubmit("sub-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, err := env.svc.GetVerdict(context.Background(), "sub-1", "principal-1")
	if !appErr.Is(err, appErr.VerdictNotReady) {
		t.Fatalf("expected verdict-not-ready, got %v", err)
	}
}
