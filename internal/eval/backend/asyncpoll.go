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

// AsyncPollConfig configures the submit-then-poll adapter.
type AsyncPollConfig struct {
	BaseURL      string        `yaml:"baseUrl"`
	APIKey       string        `yaml:"apiKey"`
	PollInterval time.Duration `yaml:"pollInterval"`
	PollCeiling  time.Duration `yaml:"pollCeiling"`
	HTTPTimeout  time.Duration `yaml:"httpTimeout"`
}

// DefaultAsyncPollConfig returns the async-poll adapter defaults.
func DefaultAsyncPollConfig() AsyncPollConfig {
	return AsyncPollConfig{
		BaseURL:      "http://localhost:8200",
		PollInterval: 1 * time.Second,
		PollCeiling:  8 * time.Second,
		HTTPTimeout:  15 * time.Second,
	}
}

// AsyncPollAdapter evaluates hardware-track submissions against a backend
// that acknowledges with a task token and exposes the result through a
// status endpoint. The adapter owns the whole submit-poll-collect loop and
// presents it to callers as a single blocking Evaluate call.
type AsyncPollAdapter struct {
	cfg    AsyncPollConfig
	client *http.Client
}

// NewAsyncPollAdapter builds an async-poll adapter from config.
func NewAsyncPollAdapter(cfg AsyncPollConfig) *AsyncPollAdapter {
	def := DefaultAsyncPollConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollCeiling < cfg.PollInterval {
		cfg.PollCeiling = def.PollCeiling
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = def.HTTPTimeout
	}
	return &AsyncPollAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// NewAsyncPollAdapterWithClient injects a custom HTTP client, used by tests.
func NewAsyncPollAdapterWithClient(cfg AsyncPollConfig, client *http.Client) *AsyncPollAdapter {
	a := NewAsyncPollAdapter(cfg)
	a.client = client
	return a
}

func (a *AsyncPollAdapter) Kind() model.BackendKind { return model.BackendAsyncPoll }

type asyncSubmitRequest struct {
	SubmissionID string `json:"submission_id"`
	TargetID     string `json:"target_id"`
	Language     string `json:"language"`
	Code         string `json:"code"`
}

type asyncSubmitResponse struct {
	TaskID string `json:"task_id"`
}

type asyncStatusResponse struct {
	Status string        `json:"status"` // pending | done | error
	Error  string        `json:"error"`
	Result *syncResponse `json:"result"`
}

// Evaluate submits the job, then polls until the backend reports done or
// error, or the context deadline expires. No status call is ever issued
// before a task token has been obtained. The poll interval grows
// geometrically up to the configured ceiling, so the number of status
// calls stays bounded by the deadline.
func (a *AsyncPollAdapter) Evaluate(ctx context.Context, req Request) (model.Verdict, error) {
	taskID, err := a.submit(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return a.timeoutVerdict(), nil
		}
		return model.Verdict{}, err
	}

	logger.Debug(ctx, "async backend accepted job",
		zap.String("submission_id", req.SubmissionID),
		zap.String("task_id", taskID))
	if req.Accepted != nil {
		req.Accepted(taskID)
	}

	interval := a.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return a.timeoutVerdict(), nil
		case <-time.After(interval):
		}

		status, err := a.poll(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return a.timeoutVerdict(), nil
			}
			// The job is already running backend-side; resubmitting would
			// duplicate it. Keep polling, the deadline bounds the loop.
			logger.Warn(ctx, "status poll failed, will retry",
				zap.String("submission_id", req.SubmissionID),
				zap.String("task_id", taskID),
				zap.Error(err))
		} else {
			switch status.Status {
			case "pending":
			case "done":
				return a.mapResult(ctx, req, status.Result), nil
			case "error":
				logger.Warn(ctx, "async backend reported job error",
					zap.String("submission_id", req.SubmissionID),
					zap.String("task_id", taskID),
					zap.String("backend_error", status.Error))
				return a.internalErrorVerdict("backend reported a job-level error"), nil
			default:
				logger.Warn(ctx, "async backend reported unknown status",
					zap.String("submission_id", req.SubmissionID),
					zap.String("status", status.Status))
				return a.internalErrorVerdict("backend reported an unknown status"), nil
			}
		}

		if interval *= 2; interval > a.cfg.PollCeiling {
			interval = a.cfg.PollCeiling
		}
	}
}

func (a *AsyncPollAdapter) submit(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(asyncSubmitRequest{
		SubmissionID: req.SubmissionID,
		TargetID:     req.TargetID,
		Language:     req.Language,
		Code:         req.SourceCode,
	})
	if err != nil {
		return "", fmt.Errorf("encode judge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/judge", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build judge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		httpReq.Header.Set(apiKeyHeader, a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", Transientf("judge call: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", Transientf("backend rejected job submit with status %d", resp.StatusCode)
	}

	var payload asyncSubmitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&payload); err != nil {
		return "", Transientf("decode judge response: %v", err)
	}
	if payload.TaskID == "" {
		return "", Transientf("backend acknowledged without a task token")
	}
	return payload.TaskID, nil
}

func (a *AsyncPollAdapter) poll(ctx context.Context, taskID string) (*asyncStatusResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.BaseURL+"/status/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	if a.cfg.APIKey != "" {
		httpReq.Header.Set(apiKeyHeader, a.cfg.APIKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status call returned %d", resp.StatusCode)
	}

	var payload asyncStatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &payload, nil
}

func (a *AsyncPollAdapter) mapResult(ctx context.Context, req Request, result *syncResponse) model.Verdict {
	if result == nil {
		logger.Warn(ctx, "async backend reported done without a result",
			zap.String("submission_id", req.SubmissionID))
		return a.internalErrorVerdict("backend reported done without a result")
	}
	outcome, ok := model.ParseOutcome(result.Status)
	if !ok {
		logger.Warn(ctx, "async backend returned unknown result status",
			zap.String("submission_id", req.SubmissionID),
			zap.String("status", result.Status))
		return a.internalErrorVerdict("backend reported an unknown status")
	}
	return model.Verdict{
		Outcome:     outcome,
		Score:       model.ClampScore(result.Score),
		Detail:      model.ClampDetail(result.Detail),
		BackendKind: model.BackendAsyncPoll,
		EvaluatedAt: time.Now().Unix(),
		AvgTimeMs:   result.AvgTimeMs,
	}
}

func (a *AsyncPollAdapter) timeoutVerdict() model.Verdict {
	return model.Verdict{
		Outcome:     model.OutcomeTimeout,
		Detail:      "evaluation deadline exceeded",
		BackendKind: model.BackendAsyncPoll,
		EvaluatedAt: time.Now().Unix(),
	}
}

func (a *AsyncPollAdapter) internalErrorVerdict(detail string) model.Verdict {
	return model.Verdict{
		Outcome:     model.OutcomeInternalError,
		Detail:      detail,
		BackendKind: model.BackendAsyncPoll,
		EvaluatedAt: time.Now().Unix(),
	}
}
