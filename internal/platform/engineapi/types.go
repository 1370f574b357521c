// Package engineapi holds the wire types of the analytics backend and of the
// JSON bodies this service returns. Field names follow the backend's
// snake_case contract.
package engineapi

import (
	"encoding/json"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// BacktestStatus is the backend's run status string.
type BacktestStatus string

const (
	BacktestStatusPending   BacktestStatus = "PENDING"
	BacktestStatusRunning   BacktestStatus = "RUNNING"
	BacktestStatusCompleted BacktestStatus = "COMPLETED"
	BacktestStatusFailed    BacktestStatus = "FAILED"
)

type BacktestCreateRequest struct {
	StartDate      openapi_types.Date `json:"start_date"`
	EndDate        openapi_types.Date `json:"end_date"`
	InitialCapital float64            `json:"initial_capital"`
	FeeBps         *float64           `json:"fee_bps,omitempty"`
	SlippageBps    *float64           `json:"slippage_bps,omitempty"`
}

// BacktestRunResponse is returned by both POST /backtest/run and
// GET /backtest/{run_id}. Metrics, trades and equity curve are kept raw so
// they can be stored verbatim.
type BacktestRunResponse struct {
	RunId       string          `json:"run_id"`
	Status      BacktestStatus  `json:"status"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
	Trades      json.RawMessage `json:"trades,omitempty"`
	EquityCurve json.RawMessage `json:"equity_curve,omitempty"`
	Detail      *string         `json:"detail,omitempty"`
	Error       *string         `json:"error,omitempty"`
}

type BacktestTrade struct {
	Date   openapi_types.Date `json:"date"`
	Symbol string             `json:"symbol"`
	Action string             `json:"action"`
	Qty    float64            `json:"qty"`
	Price  float64            `json:"price"`
	Reason string             `json:"reason"`
}

type BacktestEquityPoint struct {
	Date            openapi_types.Date `json:"date"`
	Equity          float64            `json:"equity"`
	BenchmarkEquity *float64           `json:"benchmark_equity"`
}

type Top10Item struct {
	Rank       int     `json:"rank"`
	Symbol     string  `json:"symbol"`
	FinalScore float64 `json:"final_score"`
}

type SignalResponse struct {
	Date   openapi_types.Date `json:"date"`
	Regime string             `json:"regime"`
	Top10  []Top10Item        `json:"top10"`
}

type ScoreDetail struct {
	Symbol         string                 `json:"symbol"`
	Date           openapi_types.Date     `json:"date"`
	PotentialScore float64                `json:"potential_score"`
	RiskScore      float64                `json:"risk_score"`
	FinalScore     float64                `json:"final_score"`
	ExplainJson    map[string]interface{} `json:"explain_json,omitempty"`
}

type Message struct {
	Message string `json:"message"`
}

// HTTPValidationError mirrors the backend's 422/4xx body. Detail is either a
// string or a list of field errors, so it stays raw.
type HTTPValidationError struct {
	Detail json.RawMessage `json:"detail"`
}

// Error is the error body this service returns.
type Error struct {
	Success *bool   `json:"success,omitempty"`
	Error   *string `json:"error,omitempty"`
}

// NewError builds a failed Error body.
func NewError(msg string) Error {
	f := false
	return Error{Success: &f, Error: &msg}
}

type BacktestCreateResponse struct {
	Success bool   `json:"success"`
	JobId   string `json:"job_id"`
	Status  string `json:"status"`
}

type BacktestStatusResponse struct {
	Success     bool            `json:"success"`
	JobId       string          `json:"job_id"`
	Status      string          `json:"status"`
	FetchedAt   *string         `json:"fetched_at,omitempty"`
	Stalled     bool            `json:"stalled,omitempty"`
	FailedPolls int             `json:"failed_polls,omitempty"`
	Failure     *string         `json:"failure,omitempty"`
	Polling     bool            `json:"polling"`
	Result      json.RawMessage `json:"result,omitempty"`
	ArchiveUrl  *string         `json:"archive_url,omitempty"`
}

type TaskEnqueuedResponse struct {
	Success bool   `json:"success"`
	TaskId  string `json:"task_id"`
	Type    string `json:"type"`
}
