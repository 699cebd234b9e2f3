package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"evalhub/internal/eval/model"
	"evalhub/pkg/utils/logger"
)

const apiKeyHeader = "X-API-Key"

// SyncConfig configures the synchronous evaluation adapter.
type SyncConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	APIKey         string        `yaml:"apiKey"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

// DefaultSyncConfig returns the sync adapter defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BaseURL:        "http://localhost:8100",
		RequestTimeout: 90 * time.Second,
	}
}

// SyncAdapter evaluates software-track submissions with a single blocking
// call. The backend holds the connection open and answers with the full
// result; there is no token and no polling.
type SyncAdapter struct {
	cfg    SyncConfig
	client *http.Client
}

// NewSyncAdapter builds a sync adapter from config.
func NewSyncAdapter(cfg SyncConfig) *SyncAdapter {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultSyncConfig().RequestTimeout
	}
	return &SyncAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// NewSyncAdapterWithClient injects a custom HTTP client, used by tests.
func NewSyncAdapterWithClient(cfg SyncConfig, client *http.Client) *SyncAdapter {
	a := NewSyncAdapter(cfg)
	a.client = client
	return a
}

func (a *SyncAdapter) Kind() model.BackendKind { return model.BackendSync }

type syncRequest struct {
	SubmissionID string `json:"submission_id"`
	TargetID     string `json:"target_id"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

type syncResponse struct {
	Status    string `json:"status"`
	Score     int    `json:"score"`
	Detail    string `json:"detail"`
	AvgTimeMs int64  `json:"avg_time_ms"`
}

// Evaluate performs one POST /evaluate call. Network failures and backend
// 5xx responses come back as transient errors; a response that cannot be
// decoded into the known shape degrades to an internal_error verdict so the
// raw payload never leaks upward.
func (a *SyncAdapter) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	body, err := json.Marshal(syncRequest{
		SubmissionID: req.SubmissionID,
		TargetID:     req.TargetID,
		Language:     req.Language,
		Code:         req.SourceCode,
	})
	if err != nil {
		return model.Verdict{}, fmt.Errorf("encode evaluate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return model.Verdict{}, fmt.Errorf("build evaluate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set(apiKeyHeader, a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return a.timeoutVerdict(), nil
		}
		return model.Verdict{}, Transientf("evaluate call: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return model.Verdict{}, Transientf("backend returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		logger.Warn(ctx, "sync backend rejected evaluate call",
			zap.String("submission_id", req.SubmissionID),
			zap.Int("status", resp.StatusCode))
		return a.internalErrorVerdict(fmt.Sprintf("backend rejected request with status %d", resp.StatusCode)), nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Verdict{}, Transientf("read evaluate response: %v", err)
	}

	var payload syncResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Warn(ctx, "sync backend returned undecodable payload",
			zap.String("submission_id", req.SubmissionID))
		return a.internalErrorVerdict("backend response could not be decoded"), nil
	}

	outcome, ok := model.ParseOutcome(payload.Status)
	if !ok {
		logger.Warn(ctx, "sync backend returned unknown status",
			zap.String("submission_id", req.SubmissionID),
			zap.String("status", payload.Status))
		return a.internalErrorVerdict("backend reported an unknown status"), nil
	}

	return model.Verdict{
		Outcome:     outcome,
		Score:       model.ClampScore(payload.Score),
		Detail:      model.ClampDetail(payload.Detail),
		BackendKind: model.BackendSync,
		EvaluatedAt: time.Now().Unix(),
		AvgTimeMs:   payload.AvgTimeMs,
	}, nil
}

func (a *SyncAdapter) timeoutVerdict() model.Verdict {
	return model.Verdict{
		Outcome:     model.OutcomeTimeout,
		Detail:      "evaluation deadline exceeded",
		BackendKind: model.BackendSync,
		EvaluatedAt: time.Now().Unix(),
	}
}

func (a *SyncAdapter) internalErrorVerdict(detail string) model.Verdict {
	return model.Verdict{
		Outcome:     model.OutcomeInternalError,
		Detail:      detail,
		BackendKind: model.BackendSync,
		EvaluatedAt: time.Now().Unix(),
	}
}
