// Package backend holds the evaluation backend adapters. Each adapter
// speaks one backend's native protocol and returns verdicts in the
// normalized shape; callers never see backend-native payloads or errors.
package backend

import (
	"context"
	"errors"
	"fmt"

	"evalhub/internal/eval/model"
)

// Request carries everything an adapter needs for one evaluation.
type Request struct {
	SubmissionID string
	TargetID     string
	Language     string
	SourceCode   string

	// Accepted, when set, is invoked once the backend has acknowledged the
	// job. Async backends pass their task token; synchronous backends never
	// call it.
	Accepted func(token string)
}

// Evaluator runs one evaluation against a concrete backend.
//
// A returned verdict is authoritative, including failure outcomes such as
// timeout or internal_error. A returned error means no verdict was
// produced; wrap it in Transient when a retry could plausibly succeed.
type Evaluator interface {
	Kind() model.BackendKind
	Evaluate(ctx context.Context, req Request) (model.Verdict, error)
}

// TransientError marks a failure the orchestrator may retry, such as a
// connection refusal or a 5xx from the backend.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient backend failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Transientf wraps a formatted message as retryable.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
