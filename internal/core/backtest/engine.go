package backtest

import (
	"context"
	"encoding/json"
	"fmt"

	"signalboard/internal/core/job"
	"signalboard/internal/platform/engineapi"
)

// defaultFailure is used when the backend marks a run FAILED without saying
// why, which is what it does for any exception in its worker.
const defaultFailure = "backtest failed on the backend"

// API is the part of the backend client the engine adapter needs.
type API interface {
	RunBacktest(ctx context.Context, req engineapi.BacktestCreateRequest) (engineapi.BacktestRunResponse, error)
	GetBacktest(ctx context.Context, runID string) (engineapi.BacktestRunResponse, error)
}

// Engine adapts the backtest endpoints to job.Backend.
type Engine struct {
	api API
}

func NewEngine(api API) *Engine { return &Engine{api: api} }

var _ job.Backend = (*Engine)(nil)

// Submit accepts an engineapi.BacktestCreateRequest or a Params.
func (e *Engine) Submit(ctx context.Context, params any) (job.ID, error) {
	var req engineapi.BacktestCreateRequest
	switch p := params.(type) {
	case engineapi.BacktestCreateRequest:
		req = p
	case *engineapi.BacktestCreateRequest:
		req = *p
	case Params:
		r, err := p.Request()
		if err != nil {
			return "", err
		}
		req = r
	default:
		return "", fmt.Errorf("unsupported backtest params %T", params)
	}

	resp, err := e.api.RunBacktest(ctx, req)
	if err != nil {
		return "", err
	}
	return job.ID(resp.RunId), nil
}

func (e *Engine) Fetch(ctx context.Context, id job.ID) (job.Snapshot, error) {
	resp, err := e.api.GetBacktest(ctx, string(id))
	if err != nil {
		return job.Snapshot{}, err
	}
	return toSnapshot(resp)
}

func toSnapshot(resp engineapi.BacktestRunResponse) (job.Snapshot, error) {
	status, err := job.ParseStatus(string(resp.Status))
	if err != nil {
		return job.Snapshot{}, err
	}
	snap := job.Snapshot{JobID: job.ID(resp.RunId), Status: status}

	switch status {
	case job.StatusCompleted:
		raw, err := json.Marshal(rawResult{
			Metrics:     orNull(resp.Metrics),
			Trades:      orEmptyList(resp.Trades),
			EquityCurve: orEmptyList(resp.EquityCurve),
		})
		if err != nil {
			return job.Snapshot{}, fmt.Errorf("encode result of %s: %w", resp.RunId, err)
		}
		snap.Result = raw
	case job.StatusFailed:
		snap.Failure = defaultFailure
		if resp.Detail != nil && *resp.Detail != "" {
			snap.Failure = *resp.Detail
		} else if resp.Error != nil && *resp.Error != "" {
			snap.Failure = *resp.Error
		}
	}
	return snap, nil
}

func orNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func orEmptyList(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage("[]")
	}
	return raw
}
