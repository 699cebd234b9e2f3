package model

import "time"

// JobState is the lifecycle state of an evaluation job.
//
//	accepted -> dispatched -> awaiting_result -> completed
//	accepted -> rejected
//	dispatched/awaiting_result -> failed
type JobState string

const (
	JobStateAccepted       JobState = "accepted"
	JobStateDispatched     JobState = "dispatched"
	JobStateAwaitingResult JobState = "awaiting_result"
	JobStateCompleted      JobState = "completed"
	JobStateRejected       JobState = "rejected"
	JobStateFailed         JobState = "failed"
)

// Terminal reports whether a job in this state will never change again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateRejected, JobStateFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step.
// Terminal states accept no further transitions.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateAccepted:
		return next == JobStateDispatched || next == JobStateRejected
	case JobStateDispatched:
		return next == JobStateAwaitingResult || next == JobStateCompleted || next == JobStateFailed
	case JobStateAwaitingResult:
		return next == JobStateCompleted || next == JobStateFailed
	}
	return false
}

// SourceCodeMaxBytes bounds submitted source size at intake.
const SourceCodeMaxBytes = 128 * 1024

// Submission is the caller-facing record of one evaluation request.
type Submission struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	TargetID    string    `json:"target_id"`
	Language    string    `json:"language"`
	SourceKey   string    `json:"source_key,omitempty"` // object storage key
	SourceHash  string    `json:"source_hash"`          // sha256 hex of the source
	SourceSize  int64     `json:"source_size"`
	CreatedAt   time.Time `json:"created_at"`
}

// EvaluationJob tracks the orchestrator-side progress of one submission.
// Exactly one job exists per submission ID.
type EvaluationJob struct {
	SubmissionID string      `json:"submission_id"`
	BackendKind  BackendKind `json:"backend_kind,omitempty"`
	BackendToken string      `json:"backend_token,omitempty"`
	State        JobState    `json:"state"`
	Attempt      int         `json:"attempt"`
	Reason       string      `json:"reason,omitempty"` // set for rejected/failed
	ReceivedAt   int64       `json:"received_at"`      // unix seconds
	UpdatedAt    int64       `json:"updated_at"`
	FinishedAt   int64       `json:"finished_at,omitempty"`
}

// EvaluationStatus is the status view returned to callers. The verdict is
// present only once the job completed.
type EvaluationStatus struct {
	SubmissionID string   `json:"submission_id"`
	State        JobState `json:"state"`
	Reason       string   `json:"reason,omitempty"`
	Attempt      int      `json:"attempt,omitempty"`
	ReceivedAt   int64    `json:"received_at"`
	FinishedAt   int64    `json:"finished_at,omitempty"`
	Verdict      *Verdict `json:"verdict,omitempty"`
}
