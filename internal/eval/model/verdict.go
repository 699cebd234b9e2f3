package model

import "strings"

// Outcome is the normalized result of one evaluation. Judged failures
// (wrong answer, compile error, runtime error) are successful evaluations;
// only internal_error marks a backend-side fault.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeWrongAnswer   Outcome = "wrong_answer"
	OutcomeCompileError  Outcome = "compile_error"
	OutcomeRuntimeError  Outcome = "runtime_error"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeInternalError Outcome = "internal_error"
)

// ParseOutcome maps a backend-reported status string onto the normalized
// outcome set. Returns false for anything outside the known set so adapters
// can degrade to internal_error instead of leaking backend-native values.
func ParseOutcome(raw string) (Outcome, bool) {
	switch Outcome(strings.ToLower(strings.TrimSpace(raw))) {
	case OutcomeAccepted:
		return OutcomeAccepted, true
	case OutcomeWrongAnswer:
		return OutcomeWrongAnswer, true
	case OutcomeCompileError:
		return OutcomeCompileError, true
	case OutcomeRuntimeError:
		return OutcomeRuntimeError, true
	case OutcomeTimeout:
		return OutcomeTimeout, true
	case OutcomeInternalError:
		return OutcomeInternalError, true
	}
	return "", false
}

// BackendKind tags which adapter produced a verdict.
type BackendKind string

const (
	BackendSync      BackendKind = "sync"
	BackendAsyncPoll BackendKind = "async_poll"
)

// MaxDetailBytes bounds the diagnostic text stored with a verdict.
const MaxDetailBytes = 4096

// Verdict is the normalized evaluation result. Every backend response,
// regardless of native shape, is mapped into this structure before it leaves
// the adapter boundary.
type Verdict struct {
	Outcome     Outcome     `json:"outcome"`
	Score       int         `json:"score"` // 0-100
	Detail      string      `json:"detail,omitempty"`
	BackendKind BackendKind `json:"backend_kind"`
	EvaluatedAt int64       `json:"evaluated_at"` // unix seconds

	// AvgTimeMs is backend-reported mean execution time, when available.
	// Feeds efficiency-weighted scoring; zero means not reported.
	AvgTimeMs int64 `json:"avg_time_ms,omitempty"`
}

// ClampDetail truncates diagnostic text to MaxDetailBytes.
func ClampDetail(detail string) string {
	if len(detail) <= MaxDetailBytes {
		return detail
	}
	return detail[:MaxDetailBytes]
}

// ClampScore forces a score into the 0-100 range.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
