// Package repository persists submissions, evaluation jobs and verdicts.
// Durable records live in MySQL, hot state and locks in Redis.
package repository

import (
	"context"

	"evalhub/internal/common/db"
	"evalhub/internal/eval/model"
	appErr "evalhub/pkg/errors"
)

// SubmissionRepository stores the durable submission records.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*model.Submission, error)
}

type mysqlSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository builds a MySQL-backed submission repository.
func NewSubmissionRepository(database db.Database) SubmissionRepository {
	return &mysqlSubmissionRepository{db: database}
}

func (r *mysqlSubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	const query = `
		INSERT INTO submissions
			(id, principal_id, target_id, language, source_key, source_hash, source_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.Exec(ctx, query,
		sub.ID, sub.PrincipalID, sub.TargetID, sub.Language,
		sub.SourceKey, sub.SourceHash, sub.SourceSize, sub.CreatedAt)
	if err != nil {
		if _, ok := db.UniqueViolation(err); ok {
			return appErr.New(appErr.SubmissionConflict).
				WithDetail("submission_id", sub.ID)
		}
		return appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to create submission")
	}
	return nil
}

func (r *mysqlSubmissionRepository) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	const query = `
		SELECT id, principal_id, target_id, language, source_key, source_hash, source_size, created_at
		FROM submissions WHERE id = ?`

	var sub model.Submission
	err := r.db.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.PrincipalID, &sub.TargetID, &sub.Language,
		&sub.SourceKey, &sub.SourceHash, &sub.SourceSize, &sub.CreatedAt)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, appErr.New(appErr.SubmissionNotFound).
				WithDetail("submission_id", id)
		}
		return nil, appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to load submission")
	}
	return &sub, nil
}

func (r *mysqlSubmissionRepository) ListByPrincipal(ctx context.Context, principalID string, limit, offset int) ([]*model.Submission, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const query = `
		SELECT id, principal_id, target_id, language, source_key, source_hash, source_size, created_at
		FROM submissions WHERE principal_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := r.db.Query(ctx, query, principalID, limit, offset)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to list submissions")
	}
	defer rows.Close()

	var subs []*model.Submission
	for rows.Next() {
		var sub model.Submission
		if err := rows.Scan(
			&sub.ID, &sub.PrincipalID, &sub.TargetID, &sub.Language,
			&sub.SourceKey, &sub.SourceHash, &sub.SourceSize, &sub.CreatedAt); err != nil {
			return nil, appErr.Wrap(err, appErr.DatabaseError).
				WithMessage("failed to scan submission row")
		}
		subs = append(subs, &sub)
	}
	if err := rows.Err(); err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError).
			WithMessage("failed to iterate submission rows")
	}
	return subs, nil
}
