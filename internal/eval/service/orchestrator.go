package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"evalhub/internal/common/mq"
	"evalhub/internal/common/storage"
	"evalhub/internal/eval/backend"
	"evalhub/internal/eval/language"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	appErr "evalhub/pkg/errors"
	"evalhub/pkg/utils/contextkey"
	"evalhub/pkg/utils/logger"
)

// OrchestratorConfig wires the orchestrator dependencies.
type OrchestratorConfig struct {
	Adapters map[model.BackendKind]backend.Evaluator
	Jobs     repository.JobRepository
	Verdicts repository.VerdictRepository
	Storage  storage.ObjectStorage

	Bucket             string
	MaxConcurrent      int
	SlotWaitTimeout    time.Duration
	EvaluationDeadline time.Duration
	MaxAttempts        int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
}

// Orchestrator drains the evaluation topic, routes each submission to its
// backend adapter, and drives the job to a terminal state. Concurrency is
// bounded by a slot pool; a full pool pushes back on the queue instead of
// piling up goroutines.
type Orchestrator struct {
	adapters map[model.BackendKind]backend.Evaluator
	jobs     repository.JobRepository
	verdicts repository.VerdictRepository
	storage  storage.ObjectStorage

	bucket   string
	sem      chan struct{}
	slotWait time.Duration
	deadline time.Duration

	maxAttempts    int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

// NewOrchestrator validates the config and builds the orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("at least one backend adapter is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job repository is required")
	}
	if cfg.Verdicts == nil {
		return nil, fmt.Errorf("verdict repository is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.SlotWaitTimeout <= 0 {
		cfg.SlotWaitTimeout = 2 * time.Second
	}
	if cfg.EvaluationDeadline <= 0 {
		cfg.EvaluationDeadline = 120 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = 8 * time.Second
	}
	return &Orchestrator{
		adapters:       cfg.Adapters,
		jobs:           cfg.Jobs,
		verdicts:       cfg.Verdicts,
		storage:        cfg.Storage,
		bucket:         cfg.Bucket,
		sem:            make(chan struct{}, cfg.MaxConcurrent),
		slotWait:       cfg.SlotWaitTimeout,
		deadline:       cfg.EvaluationDeadline,
		maxAttempts:    cfg.MaxAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
	}, nil
}

// HandleMessage processes one evaluation message. Returning an error asks
// the queue to redeliver; terminal outcomes, including failures that have
// been recorded on the job, return nil so the message is not replayed.
func (o *Orchestrator) HandleMessage(ctx context.Context, message *mq.Message) error {
	msg, err := model.DecodeEvaluationMessage(message.Body)
	if err != nil {
		logger.Error(ctx, "dropping undecodable evaluation message",
			zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}

	ctx = context.WithValue(ctx, contextkey.SubmissionID, msg.SubmissionID)
	ctx = context.WithValue(ctx, contextkey.PrincipalID, msg.PrincipalID)

	job, err := o.jobs.Get(ctx, msg.SubmissionID)
	if err != nil {
		if !appErr.Is(err, appErr.SubmissionNotFound) {
			return err
		}
		// Job state was lost; rebuild it from the message.
		job = &model.EvaluationJob{
			SubmissionID: msg.SubmissionID,
			State:        model.JobStateAccepted,
			ReceivedAt:   msg.EnqueuedAt,
		}
	}
	if job.State.Terminal() {
		logger.Info(ctx, "skipping redelivered message for finished job",
			zap.String("state", string(job.State)))
		return nil
	}

	if err := o.acquireSlot(ctx); err != nil {
		return err
	}
	defer o.releaseSlot()

	return o.evaluate(ctx, msg, job)
}

func (o *Orchestrator) evaluate(ctx context.Context, msg *model.EvaluationMessage, job *model.EvaluationJob) error {
	kind, ok := language.Resolve(msg.Language)
	if !ok {
		logger.Warn(ctx, "rejecting submission with unsupported language",
			zap.String("language", msg.Language))
		return o.reject(ctx, job, fmt.Sprintf("language %q is not supported", msg.Language))
	}
	adapter, ok := o.adapters[kind]
	if !ok {
		return o.fail(ctx, job, fmt.Sprintf("no adapter configured for backend %s", kind))
	}
	job.BackendKind = kind

	source, err := o.fetchSource(ctx, msg)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error(ctx, "failed to fetch submission source", zap.Error(err))
		return o.fail(ctx, job, "source code could not be retrieved")
	}
	if got := sha256Hex(source); got != msg.SourceHash {
		logger.Error(ctx, "source integrity check failed",
			zap.String("expected", msg.SourceHash), zap.String("actual", got))
		return o.fail(ctx, job, "source code failed the integrity check")
	}

	evalCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	req := backend.Request{
		SubmissionID: msg.SubmissionID,
		TargetID:     msg.TargetID,
		Language:     language.Normalize(msg.Language),
		SourceCode:   source,
		Accepted: func(token string) {
			job.BackendToken = token
			job.State = model.JobStateAwaitingResult
			if err := o.jobs.Save(ctx, job); err != nil {
				logger.Warn(ctx, "failed to record awaiting_result state", zap.Error(err))
			}
		},
	}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		job.State = model.JobStateDispatched
		job.Attempt = attempt
		if err := o.jobs.Save(ctx, job); err != nil {
			return err
		}

		verdict, err := adapter.Evaluate(evalCtx, req)
		if err == nil {
			return o.complete(ctx, job, &verdict)
		}

		if !backend.IsTransient(err) {
			logger.Error(ctx, "backend call failed permanently",
				zap.Int("attempt", attempt), zap.Error(err))
			return o.fail(ctx, job, "backend returned an unrecoverable error")
		}
		if attempt == o.maxAttempts {
			logger.Error(ctx, "retry budget exhausted",
				zap.Int("attempts", attempt), zap.Error(err))
			return o.fail(ctx, job, "backend stayed unavailable across all retries")
		}

		delay := ComputeRetryBackoff(attempt, o.retryBaseDelay, o.retryMaxDelay)
		logger.Warn(ctx, "backend call failed, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-evalCtx.Done():
			verdict := model.Verdict{
				Outcome:     model.OutcomeTimeout,
				Detail:      "evaluation deadline exceeded",
				BackendKind: kind,
				EvaluatedAt: time.Now().Unix(),
			}
			return o.complete(ctx, job, &verdict)
		case <-time.After(delay):
		}
	}
	return nil
}

// complete archives the verdict and marks the job completed. The submission
// claim stays in place so the ID cannot be reused.
func (o *Orchestrator) complete(ctx context.Context, job *model.EvaluationJob, verdict *model.Verdict) error {
	ApplyEfficiencyScore(verdict)
	if err := o.verdicts.Save(ctx, job.SubmissionID, verdict); err != nil {
		return err
	}

	job.State = model.JobStateCompleted
	job.Reason = ""
	job.FinishedAt = time.Now().Unix()
	if err := o.jobs.Save(ctx, job); err != nil {
		return err
	}

	logger.Info(ctx, "evaluation completed",
		zap.String("outcome", string(verdict.Outcome)),
		zap.Int("score", verdict.Score),
		zap.Int("attempt", job.Attempt))
	return nil
}

// reject ends the job without contacting any backend and releases the
// submission claim so the caller may resubmit under the same ID.
func (o *Orchestrator) reject(ctx context.Context, job *model.EvaluationJob, reason string) error {
	job.State = model.JobStateRejected
	job.Reason = reason
	job.FinishedAt = time.Now().Unix()
	if err := o.jobs.Save(ctx, job); err != nil {
		return err
	}
	if err := o.jobs.ReleaseSubmission(ctx, job.SubmissionID); err != nil {
		logger.Warn(ctx, "failed to release claim of rejected submission", zap.Error(err))
	}
	return nil
}

// fail ends the job with an infrastructure-level failure. The claim is kept.
func (o *Orchestrator) fail(ctx context.Context, job *model.EvaluationJob, reason string) error {
	job.State = model.JobStateFailed
	job.Reason = reason
	job.FinishedAt = time.Now().Unix()
	return o.jobs.Save(ctx, job)
}

func (o *Orchestrator) fetchSource(ctx context.Context, msg *model.EvaluationMessage) (string, error) {
	reader, err := o.storage.GetObject(ctx, o.bucket, msg.SourceKey)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, model.SourceCodeMaxBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > model.SourceCodeMaxBytes {
		return "", fmt.Errorf("stored source exceeds %d bytes", model.SourceCodeMaxBytes)
	}
	return string(data), nil
}

// acquireSlot waits briefly for a free evaluation slot. Timing out reports
// queue-full so the message is redelivered later.
func (o *Orchestrator) acquireSlot(ctx context.Context) error {
	select {
	case o.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.slotWait):
		return appErr.New(appErr.EvaluationQueueFull)
	}
}

func (o *Orchestrator) releaseSlot() {
	<-o.sem
}
