package repository

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"evalhub/internal/common/cache"
	"evalhub/internal/common/db"
	"evalhub/internal/eval/model"
	appErr "evalhub/pkg/errors"
	"evalhub/pkg/utils/logger"
)

const (
	verdictKeyPrefix = "eval:verdict:"
	verdictCacheTTL  = 24 * time.Hour
)

// VerdictRepository archives verdicts in MySQL with a Redis read-through
// cache. Exactly one verdict exists per submission; Save is idempotent so a
// redelivered queue message cannot overwrite an archived result.
type VerdictRepository interface {
	Save(ctx context.Context, submissionID string, verdict *model.Verdict) error
	Get(ctx context.Context, submissionID string) (*model.Verdict, error)
}

type mysqlVerdictRepository struct {
	db    db.Database
	cache cache.Cache
}

// NewVerdictRepository builds the MySQL+Redis verdict repository.
func NewVerdictRepository(database db.Database, c cache.Cache) VerdictRepository {
	return &mysqlVerdictRepository{db: database, cache: c}
}

func (r *mysqlVerdictRepository) Save(ctx context.Context, submissionID string, verdict *model.Verdict) error {
	const query = `
		INSERT INTO verdicts
			(submission_id, outcome, score, detail, backend_kind, avg_time_ms, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(ctx, query,
		submissionID, string(verdict.Outcome), verdict.Score, verdict.Detail,
		string(verdict.BackendKind), verdict.AvgTimeMs, verdict.EvaluatedAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			// First write wins.
			logger.Warn(ctx, "verdict already archived, keeping first write",
				zap.String("submission_id", submissionID))
			return nil
		}
		return appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to archive verdict")
	}

	r.cacheVerdict(ctx, submissionID, verdict)
	return nil
}

func (r *mysqlVerdictRepository) Get(ctx context.Context, submissionID string) (*model.Verdict, error) {
	if v := r.cachedVerdict(ctx, submissionID); v != nil {
		return v, nil
	}

	const query = `
		SELECT outcome, score, detail, backend_kind, avg_time_ms, evaluated_at
		FROM verdicts WHERE submission_id = ?`

	var (
		v       model.Verdict
		outcome string
		kind    string
	)
	err := r.db.QueryRow(ctx, query, submissionID).Scan(
		&outcome, &v.Score, &v.Detail, &kind, &v.AvgTimeMs, &v.EvaluatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.VerdictNotReady).
				WithDetail("submission_id", submissionID)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to load verdict")
	}
	v.Outcome = model.Outcome(outcome)
	v.BackendKind = model.BackendKind(kind)

	r.cacheVerdict(ctx, submissionID, &v)
	return &v, nil
}

// cacheVerdict is best effort; a cache write failure never fails the caller.
func (r *mysqlVerdictRepository) cacheVerdict(ctx context.Context, submissionID string, verdict *model.Verdict) {
	data, err := json.Marshal(verdict)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, verdictKeyPrefix+submissionID, data, verdictCacheTTL); err != nil {
		logger.Warn(ctx, "failed to cache verdict",
			zap.String("submission_id", submissionID), zap.Error(err))
	}
}

func (r *mysqlVerdictRepository) cachedVerdict(ctx context.Context, submissionID string) *model.Verdict {
	raw, err := r.cache.Get(ctx, verdictKeyPrefix+submissionID)
	if err != nil || raw == "" {
		return nil
	}
	var v model.Verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return &v
}
