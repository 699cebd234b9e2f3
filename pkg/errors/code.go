package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13499: Submission & Evaluation errors
// 13500-13999: Backend evaluator errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError  ErrorCode = 10100
	RecordNotFound ErrorCode = 10101

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10201

	// Storage errors (10300-10399)
	StorageError ErrorCode = 10300

	// Validation errors (10400-10499)
	ValidationFailed ErrorCode = 10400

	// ========== Submission & Evaluation Errors (13000-13499) ==========

	// Submission intake (13000-13099)
	SubmissionNotFound     ErrorCode = 13000
	SubmissionCreateFailed ErrorCode = 13001
	SubmissionConflict     ErrorCode = 13002
	SourceTooLarge         ErrorCode = 13003
	LanguageNotSupported   ErrorCode = 13004
	SubmitTooFrequently    ErrorCode = 13005

	// Evaluation lifecycle (13100-13199)
	EvaluationRejected  ErrorCode = 13100
	EvaluationFailed    ErrorCode = 13101
	EvaluationTimeout   ErrorCode = 13102
	EvaluationQueueFull ErrorCode = 13103
	VerdictNotReady     ErrorCode = 13104

	// ========== Backend Evaluator Errors (13500-13999) ==========

	BackendUnavailable    ErrorCode = 13500
	BackendBadResponse    ErrorCode = 13501
	BackendSubmitRejected ErrorCode = 13502
	BackendJobLost        ErrorCode = 13503
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:  "Database operation failed",
	RecordNotFound: "Record not found in database",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Storage
	StorageError: "Object storage operation failed",

	// Validation
	ValidationFailed: "Validation failed",

	// Submission intake
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SubmissionConflict:     "Submission is already being evaluated",
	SourceTooLarge:         "Source code is too large",
	LanguageNotSupported:   "Programming language not supported",
	SubmitTooFrequently:    "Submitting too frequently, please wait",

	// Evaluation lifecycle
	EvaluationRejected:  "Submission was rejected",
	EvaluationFailed:    "Evaluation failed",
	EvaluationTimeout:   "Evaluation timed out",
	EvaluationQueueFull: "Evaluation queue is full, please try again later",
	VerdictNotReady:     "Verdict is not available yet",

	// Backend evaluators
	BackendUnavailable:    "Evaluation backend is unavailable",
	BackendBadResponse:    "Evaluation backend returned a malformed response",
	BackendSubmitRejected: "Evaluation backend rejected the job",
	BackendJobLost:        "Evaluation backend lost the job",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized:
		return 401
	case c == Forbidden:
		return 403
	case c == NotFound, c == SubmissionNotFound, c == RecordNotFound:
		return 404
	case c == SubmissionConflict:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable, c == EvaluationQueueFull:
		return 503
	case c == InvalidParams, c == ValidationFailed, c == SourceTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
