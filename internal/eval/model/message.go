package model

import "encoding/json"

// EvaluationTopic is the queue topic intake publishes to and the
// orchestrator consumes from.
const EvaluationTopic = "evalhub.evaluation"

// EvaluationMessage is the queue payload handed from intake to the
// orchestrator. The source body itself travels through object storage;
// the message carries only its key and integrity hash.
type EvaluationMessage struct {
	SubmissionID string `json:"submission_id"`
	PrincipalID  string `json:"principal_id"`
	TargetID     string `json:"target_id"`
	Language     string `json:"language"`
	SourceKey    string `json:"source_key"`
	SourceHash   string `json:"source_hash"`
	EnqueuedAt   int64  `json:"enqueued_at"` // unix seconds
}

// Encode serializes the message for the queue.
func (m *EvaluationMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeEvaluationMessage parses a queue payload.
func DecodeEvaluationMessage(body []byte) (*EvaluationMessage, error) {
	var m EvaluationMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
