package repository

import (
	"context"
	"encoding/json"
	"time"

	"evalhub/internal/common/cache"
	"evalhub/internal/eval/model"
	appErr "evalhub/pkg/errors"
)

const (
	jobKeyPrefix  = "eval:job:"
	lockKeyPrefix = "eval:lock:"

	// jobRecordTTL keeps job state around long enough for status polling
	// well past any terminal transition.
	jobRecordTTL = 7 * 24 * time.Hour
)

// JobRepository tracks evaluation job state and owns the per-submission
// conflict lock. A submission ID is single-use: the lock is acquired once
// at intake and released only when the job ends rejected, so a rejected
// submission may be retried under the same ID while completed and failed
// ones may not.
type JobRepository interface {
	Save(ctx context.Context, job *model.EvaluationJob) error
	Get(ctx context.Context, submissionID string) (*model.EvaluationJob, error)

	// AcquireSubmission claims a submission ID. Returns false when the ID
	// is already claimed.
	AcquireSubmission(ctx context.Context, submissionID string) (bool, error)

	// ReleaseSubmission frees a claimed submission ID.
	ReleaseSubmission(ctx context.Context, submissionID string) error
}

type redisJobRepository struct {
	cache cache.Cache
}

// NewJobRepository builds a Redis-backed job repository.
func NewJobRepository(c cache.Cache) JobRepository {
	return &redisJobRepository{cache: c}
}

func (r *redisJobRepository) Save(ctx context.Context, job *model.EvaluationJob) error {
	job.UpdatedAt = time.Now().Unix()
	data, err := json.Marshal(job)
	if err != nil {
		return appErr.Wrap(err, appErr.InternalServerError).
			WithMessage("failed to encode job state")
	}
	if err := r.cache.Set(ctx, jobKeyPrefix+job.SubmissionID, data, jobRecordTTL); err != nil {
		return appErr.Wrap(err, appErr.CacheError).
			WithMessage("failed to save job state")
	}
	return nil
}

func (r *redisJobRepository) Get(ctx context.Context, submissionID string) (*model.EvaluationJob, error) {
	raw, err := r.cache.Get(ctx, jobKeyPrefix+submissionID)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CacheError).
			WithMessage("failed to load job state")
	}
	if raw == "" {
		return nil, appErr.New(appErr.SubmissionNotFound).
			WithDetail("submission_id", submissionID)
	}
	var job model.EvaluationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, appErr.Wrap(err, appErr.InternalServerError).
			WithMessage("failed to decode job state")
	}
	return &job, nil
}

func (r *redisJobRepository) AcquireSubmission(ctx context.Context, submissionID string) (bool, error) {
	ok, err := r.cache.SetNX(ctx, lockKeyPrefix+submissionID, "1", jobRecordTTL)
	if err != nil {
		return false, appErr.Wrap(err, appErr.LockFailed).
			WithMessage("failed to acquire submission lock")
	}
	return ok, nil
}

func (r *redisJobRepository) ReleaseSubmission(ctx context.Context, submissionID string) error {
	if err := r.cache.Del(ctx, lockKeyPrefix+submissionID); err != nil {
		return appErr.Wrap(err, appErr.LockFailed).
			WithMessage("failed to release submission lock")
	}
	return nil
}
