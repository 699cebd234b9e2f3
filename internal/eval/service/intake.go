// Package service implements the submission intake and the evaluation
// orchestrator.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"evalhub/internal/common/cache"
	"evalhub/internal/common/mq"
	"evalhub/internal/common/storage"
	"evalhub/internal/eval/language"
	"evalhub/internal/eval/model"
	"evalhub/internal/eval/repository"
	appErr "evalhub/pkg/errors"
	"evalhub/pkg/utils/logger"
)

// IntakeConfig wires the intake service dependencies.
type IntakeConfig struct {
	Submissions repository.SubmissionRepository
	Jobs        repository.JobRepository
	Verdicts    repository.VerdictRepository
	Storage     storage.ObjectStorage
	Producer    mq.Producer
	Cache       cache.Cache

	Bucket             string
	RateLimitPerMinute int
	OperationTimeout   time.Duration
}

// IntakeService accepts submissions, persists them, and hands them to the
// evaluation pipeline through the queue. It also serves the read side:
// status, verdict, and history.
type IntakeService struct {
	submissions repository.SubmissionRepository
	jobs        repository.JobRepository
	verdicts    repository.VerdictRepository
	storage     storage.ObjectStorage
	producer    mq.Producer
	cache       cache.Cache

	bucket       string
	rateLimit    int
	opTimeout    time.Duration
}

// NewIntakeService validates the config and builds the service.
func NewIntakeService(cfg IntakeConfig) (*IntakeService, error) {
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("submission repository is required")
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
	if cfg.Producer == nil {
		return nil, fmt.Errorf("message producer is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 5 * time.Second
	}
	return &IntakeService{
		submissions: cfg.Submissions,
		jobs:        cfg.Jobs,
		verdicts:    cfg.Verdicts,
		storage:     cfg.Storage,
		producer:    cfg.Producer,
		cache:       cfg.Cache,
		bucket:      cfg.Bucket,
		rateLimit:   cfg.RateLimitPerMinute,
		opTimeout:   cfg.OperationTimeout,
	}, nil
}

// SubmitRequest is the validated intake payload. SubmissionID is optional;
// when empty a fresh ID is assigned.
type SubmitRequest struct {
	SubmissionID string
	PrincipalID  string
	TargetID     string
	Language     string
	SourceCode   string
}

// Submit runs the intake path: validate, claim the submission ID, store the
// source, record the submission, and enqueue the evaluation.
func (s *IntakeService) Submit(ctx context.Context, req SubmitRequest) (*model.EvaluationStatus, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}

	if err := s.checkRateLimit(ctx, req.PrincipalID); err != nil {
		return nil, err
	}

	if req.SubmissionID == "" {
		req.SubmissionID = uuid.NewString()
	}

	// A submission ID is single-use. The claim survives until the job ends
	// rejected, so a completed or failed ID can never be reused.
	acquired, err := s.jobs.AcquireSubmission(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, appErr.New(appErr.SubmissionConflict).
			WithDetail("submission_id", req.SubmissionID)
	}

	sourceHash := sha256Hex(req.SourceCode)
	sourceKey := "source/" + req.SubmissionID

	if err := s.uploadSource(ctx, sourceKey, req.SourceCode); err != nil {
		s.rollbackClaim(ctx, req.SubmissionID)
		return nil, err
	}

	now := time.Now()
	sub := &model.Submission{
		ID:          req.SubmissionID,
		PrincipalID: req.PrincipalID,
		TargetID:    req.TargetID,
		Language:    req.Language,
		SourceKey:   sourceKey,
		SourceHash:  sourceHash,
		SourceSize:  int64(len(req.SourceCode)),
		CreatedAt:   now,
	}
	if err := s.submissions.Create(ctx, sub); err != nil {
		s.rollbackClaim(ctx, req.SubmissionID)
		return nil, err
	}

	job := &model.EvaluationJob{
		SubmissionID: req.SubmissionID,
		State:        model.JobStateAccepted,
		ReceivedAt:   now.Unix(),
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return nil, err
	}

	if err := s.publish(ctx, sub); err != nil {
		// The submission is recorded but will never be picked up; surface
		// the failure as terminal instead of leaving the caller polling.
		job.State = model.JobStateFailed
		job.Reason = "failed to enqueue evaluation"
		job.FinishedAt = time.Now().Unix()
		if saveErr := s.jobs.Save(ctx, job); saveErr != nil {
			logger.Error(ctx, "failed to record enqueue failure",
				zap.String("submission_id", req.SubmissionID), zap.Error(saveErr))
		}
		return nil, err
	}

	logger.Info(ctx, "submission accepted",
		zap.String("submission_id", req.SubmissionID),
		zap.String("principal_id", req.PrincipalID),
		zap.String("language", req.Language))

	return &model.EvaluationStatus{
		SubmissionID: req.SubmissionID,
		State:        model.JobStateAccepted,
		ReceivedAt:   job.ReceivedAt,
	}, nil
}

// GetStatus returns the job status for a submission owned by principalID.
// Completed jobs carry the verdict inline.
func (s *IntakeService) GetStatus(ctx context.Context, submissionID, principalID string) (*model.EvaluationStatus, error) {
	if _, err := s.ownedSubmission(ctx, submissionID, principalID); err != nil {
		return nil, err
	}

	job, err := s.jobs.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	status := &model.EvaluationStatus{
		SubmissionID: job.SubmissionID,
		State:        job.State,
		Reason:       job.Reason,
		Attempt:      job.Attempt,
		ReceivedAt:   job.ReceivedAt,
		FinishedAt:   job.FinishedAt,
	}
	if job.State == model.JobStateCompleted {
		verdict, err := s.verdicts.Get(ctx, submissionID)
		if err != nil {
			return nil, err
		}
		status.Verdict = verdict
	}
	return status, nil
}

// GetVerdict returns the archived verdict for a completed submission.
func (s *IntakeService) GetVerdict(ctx context.Context, submissionID, principalID string) (*model.Verdict, error) {
	if _, err := s.ownedSubmission(ctx, submissionID, principalID); err != nil {
		return nil, err
	}
	return s.verdicts.Get(ctx, submissionID)
}

// ListSubmissions returns the principal's submission history, newest first.
func (s *IntakeService) ListSubmissions(ctx context.Context, principalID string, limit, offset int) ([]*model.Submission, error) {
	if principalID == "" {
		return nil, appErr.ValidationError("principal_id", "must not be empty")
	}
	return s.submissions.ListByPrincipal(ctx, principalID, limit, offset)
}

// ownedSubmission loads the submission and checks ownership. A submission
// owned by someone else reads as not found so IDs cannot be probed.
func (s *IntakeService) ownedSubmission(ctx context.Context, submissionID, principalID string) (*model.Submission, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "must not be empty")
	}
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if sub.PrincipalID != principalID {
		return nil, appErr.New(appErr.SubmissionNotFound).
			WithDetail("submission_id", submissionID)
	}
	return sub, nil
}

func (s *IntakeService) validate(req *SubmitRequest) error {
	if req.PrincipalID == "" {
		return appErr.ValidationError("principal_id", "must not be empty")
	}
	if req.TargetID == "" {
		return appErr.ValidationError("target_id", "must not be empty")
	}
	req.Language = language.Normalize(req.Language)
	if req.Language == "" {
		return appErr.ValidationError("language", "must not be empty")
	}
	if _, ok := language.Resolve(req.Language); !ok {
		return appErr.New(appErr.LanguageNotSupported).
			WithDetail("supported", language.Supported())
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return appErr.ValidationError("source_code", "must not be empty")
	}
	if len(req.SourceCode) > model.SourceCodeMaxBytes {
		return appErr.New(appErr.SourceTooLarge).
			WithDetail("max_bytes", model.SourceCodeMaxBytes)
	}
	return nil
}

// checkRateLimit allows rateLimit submissions per principal per minute.
func (s *IntakeService) checkRateLimit(ctx context.Context, principalID string) error {
	key := "eval:rate:" + principalID
	count, err := s.cache.Incr(ctx, key)
	if err != nil {
		// Degrade open: a cache hiccup should not block submissions.
		logger.Warn(ctx, "rate limit check failed", zap.Error(err))
		return nil
	}
	if count == 1 {
		if err := s.cache.Expire(ctx, key, time.Minute); err != nil {
			logger.Warn(ctx, "failed to set rate limit window", zap.Error(err))
		}
	}
	if count > int64(s.rateLimit) {
		return appErr.New(appErr.SubmitTooFrequently).
			WithDetail("limit_per_minute", s.rateLimit)
	}
	return nil
}

func (s *IntakeService) uploadSource(ctx context.Context, key, source string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	reader := strings.NewReader(source)
	if err := s.storage.PutObject(opCtx, s.bucket, key, reader, int64(len(source)), "text/plain"); err != nil {
		return appErr.Wrap(err, appErr.StorageError).
			WithMessage("failed to store source code")
	}
	return nil
}

func (s *IntakeService) publish(ctx context.Context, sub *model.Submission) error {
	msg := &model.EvaluationMessage{
		SubmissionID: sub.ID,
		PrincipalID:  sub.PrincipalID,
		TargetID:     sub.TargetID,
		Language:     sub.Language,
		SourceKey:    sub.SourceKey,
		SourceHash:   sub.SourceHash,
		EnqueuedAt:   time.Now().Unix(),
	}
	body, err := msg.Encode()
	if err != nil {
		return appErr.Wrap(err, appErr.InternalServerError).
			WithMessage("failed to encode evaluation message")
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.producer.Publish(opCtx, model.EvaluationTopic, mq.NewMessage(body)); err != nil {
		return appErr.Wrap(err, appErr.SubmissionCreateFailed).
			WithMessage("failed to enqueue evaluation")
	}
	return nil
}

// rollbackClaim frees a claimed submission ID after an intake step failed.
func (s *IntakeService) rollbackClaim(ctx context.Context, submissionID string) {
	if err := s.jobs.ReleaseSubmission(ctx, submissionID); err != nil {
		logger.Warn(ctx, "failed to roll back submission claim",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
