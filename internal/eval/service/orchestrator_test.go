package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"evalhub/internal/common/cache"
	"evalhub/internal/common/mq"
	"evalhub/internal/eval/backend"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	"evalhub/internal/eval/service"
)

type orchestratorEnv struct {
	orch     *service.Orchestrator
	jobs     repository.JobRepository
	verdicts *fakeVerdictRepo
	storage  *fakeStorage
	sync     *fakeAdapter
	async    *fakeAdapter
}

func newOrchestratorEnv(t *testing.T) *orchestratorEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("init redis cache: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })

	env := &orchestratorEnv{
		jobs:     repository.NewJobRepository(redisCache),
		verdicts: newFakeVerdictRepo(),
		storage:  newFakeStorage(),
		sync:     &fakeAdapter{kind: model.BackendSync},
		async:    &fakeAdapter{kind: model.BackendAsyncPoll},
	}
	env.orch, err = service.NewOrchestrator(service.OrchestratorConfig{
		Adapters: map[model.BackendKind]backend.Evaluator{
			model.BackendSync:      env.sync,
			model.BackendAsyncPoll: env.async,
		},
		Jobs:               env.jobs,
		Verdicts:           env.verdicts,
		Storage:            env.storage,
		Bucket:             "test-bucket",
		MaxConcurrent:      2,
		EvaluationDeadline: 5 * time.Second,
		MaxAttempts:        3,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      4 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("init orchestrator: %v", err)
	}
	return env
}

// enqueue stores the source, claims the submission ID, seeds the accepted
// job, and returns the queue message, mirroring what intake produces.
func (env *orchestratorEnv) enqueue(t *testing.T, submissionID, language, source string) *mq.Message {
	t.Helper()
	ctx := context.Background()
	key := "source/" + submissionID
	if err := env.storage.PutObject(ctx, "test-bucket", key, newStringReader(source), int64(len(source)), "text/plain"); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	if _, err := env.jobs.AcquireSubmission(ctx, submissionID); err != nil {
		t.Fatalf("claim submission: %v", err)
	}
	if err := env.jobs.Save(ctx, &model.EvaluationJob{
		SubmissionID: submissionID,
		State:        model.JobStateAccepted,
		ReceivedAt:   time.Now().Unix(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	msg := &model.EvaluationMessage{
		SubmissionID: submissionID,
		PrincipalID:  "principal-1",
		TargetID:     "target-1",
		Language:     language,
		SourceKey:    key,
		SourceHash:   sha256Hex(source),
		EnqueuedAt:   time.Now().Unix(),
	}
	body, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return mq.NewMessage(body)
}

func (env *orchestratorEnv) jobState(t *testing.T, submissionID string) *model.EvaluationJob {
	t.Helper()
	job, err := env.jobs.Get(context.Background(), submissionID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	return job
}

func TestHandleMessageCompletesSyncSubmission(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{{verdict: model.Verdict{
		Outcome:     model.OutcomeAccepted,
		Score:       100,
		BackendKind: model.BackendSync,
		AvgTimeMs:   120,
	}}}

	msg := env.enqueue(t, "sub-1", "python", "print('hi')")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := env.jobState(t, "sub-1")
	if job.State != model.JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
	if job.Attempt != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempt)
	}
	verdict, err := env.verdicts.Get(context.Background(), "sub-1")
	if err != nil {
		t.Fatalf("expected archived verdict: %v", err)
	}
	if verdict.Outcome != model.OutcomeAccepted || verdict.Score != 100 {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
	if env.async.calls != 0 {
		t.Fatalf("async adapter should not be called for python")
	}
}

func TestHandleMessageRoutesHardwareToAsyncAdapter(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.async.results = []fakeResult{{verdict: model.Verdict{
		Outcome:     model.OutcomeCompileError,
		BackendKind: model.BackendAsyncPoll,
	}}}

	msg := env.enqueue(t, "sub-2", "verilog", "module m; endmodule")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.sync.calls != 0 || env.async.calls != 1 {
		t.Fatalf("expected only the async adapter to run, sync=%d async=%d", env.sync.calls, env.async.calls)
	}
	if job := env.jobState(t, "sub-2"); job.State != model.JobStateCompleted {
		t.Fatalf("expected completed, got %s", job.State)
	}
}

func TestHandleMessageRejectsUnsupportedLanguage(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)

	msg := env.enqueue(t, "sub-3", "cobol", "DISPLAY 'HI'.")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := env.jobState(t, "sub-3")
	if job.State != model.JobStateRejected {
		t.Fatalf("expected rejected, got %s", job.State)
	}
	if env.sync.calls != 0 || env.async.calls != 0 {
		t.Fatal("no adapter should run for an unsupported language")
	}
	// A rejected ID is free for reuse.
	acquired, err := env.jobs.AcquireSubmission(context.Background(), "sub-3")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected the submission claim to be released after rejection")
	}
}

func TestHandleMessageRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{
		{err: backend.Transientf("connection refused")},
		{err: backend.Transientf("connection refused")},
		{verdict: model.Verdict{Outcome: model.OutcomeAccepted, Score: 100, BackendKind: model.BackendSync}},
	}

	msg := env.enqueue(t, "sub-4", "c", "int main(){}")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := env.jobState(t, "sub-4")
	if job.State != model.JobStateCompleted {
		t.Fatalf("expected completed after retries, got %s", job.State)
	}
	if job.Attempt != 3 {
		t.Fatalf("expected 3 attempts, got %d", job.Attempt)
	}
}

func TestHandleMessageFailsAfterRetryBudget(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{
		{err: backend.Transientf("down")},
		{err: backend.Transientf("down")},
		{err: backend.Transientf("down")},
	}

	msg := env.enqueue(t, "sub-5", "java", "class A {}")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job := env.jobState(t, "sub-5")
	if job.State != model.JobStateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
	if env.sync.calls != 3 {
		t.Fatalf("expected 3 adapter calls, got %d", env.sync.calls)
	}
	if _, err := env.verdicts.Get(context.Background(), "sub-5"); err == nil {
		t.Fatal("no verdict should be archived for a failed job")
	}
	// Completed and failed IDs stay claimed.
	acquired, err := env.jobs.AcquireSubmission(context.Background(), "sub-5")
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if acquired {
		t.Fatal("expected the submission claim to survive a failed job")
	}
}

func TestHandleMessagePermanentFailureDoesNotRetry(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{
		{err: context.Canceled},
	}

	msg := env.enqueue(t, "sub-6", "c", "int main(){}")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.sync.calls != 1 {
		t.Fatalf("expected a single adapter call, got %d", env.sync.calls)
	}
	if job := env.jobState(t, "sub-6"); job.State != model.JobStateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
}

func TestHandleMessageSkipsFinishedJob(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{{verdict: model.Verdict{
		Outcome: model.OutcomeAccepted, Score: 100, BackendKind: model.BackendSync,
	}}}

	msg := env.enqueue(t, "sub-7", "python", "print(1)")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	if env.sync.calls != 1 {
		t.Fatalf("redelivery must not re-evaluate, got %d calls", env.sync.calls)
	}
}

func TestHandleMessageFailsOnSourceHashMismatch(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)

	msg := env.enqueue(t, "sub-8", "python", "print(1)")
	// Corrupt the stored object after the hash was computed.
	if err := env.storage.PutObject(context.Background(), "test-bucket", "source/sub-8",
		newStringReader("tampered"), 8, "text/plain"); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := env.jobState(t, "sub-8")
	if job.State != model.JobStateFailed {
		t.Fatalf("expected failed, got %s", job.State)
	}
	if env.sync.calls != 0 {
		t.Fatal("a corrupted source must never reach a backend")
	}
}

func TestHandleMessageAppliesEfficiencyScore(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)
	env.sync.results = []fakeResult{{verdict: model.Verdict{
		Outcome:     model.OutcomeWrongAnswer,
		Score:       50,
		BackendKind: model.BackendSync,
	}}}

	msg := env.enqueue(t, "sub-9", "python", "print(1)")
	if err := env.orch.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	verdict, err := env.verdicts.Get(context.Background(), "sub-9")
	if err != nil {
		t.Fatalf("load verdict: %v", err)
	}
	if verdict.Score != 30 {
		t.Fatalf("expected weighted score 30, got %d", verdict.Score)
	}
}

func TestHandleMessageDropsUndecodableMessage(t *testing.T) {
	t.Parallel()
	env := newOrchestratorEnv(t)

	if err := env.orch.HandleMessage(context.Background(), mq.NewMessage([]byte("not json"))); err != nil {
		t.Fatalf("poison message must be dropped, got %v", err)
	}
	if env.sync.calls != 0 || env.async.calls != 0 {
		t.Fatal("no adapter should run for a poison message")
	}
}
