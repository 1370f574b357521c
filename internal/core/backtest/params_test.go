package backtest

import (
	"encoding/json"
	"testing"

	"signalboard/internal/core/job"
	"signalboard/internal/platform/engineapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestParamsRequestDefaults(t *testing.T) {
	req, err := Params{StartDate: "2023-01-01", EndDate: "2023-06-30"}.Request()
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialCapital, req.InitialCapital)
	assert.Equal(t, DefaultFeeBps, *req.FeeBps)
	assert.Equal(t, DefaultSlippageBps, *req.SlippageBps)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start_date":"2023-01-01","end_date":"2023-06-30","initial_capital":100000,"fee_bps":10,"slippage_bps":8}`, string(b))
}

func TestParamsRequestKeepsExplicitZeroFees(t *testing.T) {
	req, err := Params{StartDate: "2023-01-01", EndDate: "2023-06-30", FeeBps: ptr(0), SlippageBps: ptr(2.5)}.Request()
	require.NoError(t, err)
	assert.Equal(t, 0.0, *req.FeeBps)
	assert.Equal(t, 2.5, *req.SlippageBps)
}

func TestParamsValidate(t *testing.T) {
	bad := []Params{
		{EndDate: "2023-06-30"},
		{StartDate: "2023-01-01"},
		{StartDate: "01/01/2023", EndDate: "2023-06-30"},
		{StartDate: "2023-06-30", EndDate: "2023-06-30"},
		{StartDate: "2023-07-01", EndDate: "2023-06-30"},
		{StartDate: "2023-01-01", EndDate: "2023-06-30", InitialCapital: -1},
		{StartDate: "2023-01-01", EndDate: "2023-06-30", FeeBps: ptr(-1)},
		{StartDate: "2023-01-01", EndDate: "2023-06-30", SlippageBps: ptr(-0.5)},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrInvalidParams, "%+v", p)
	}
	assert.NoError(t, Params{StartDate: "2023-01-01", EndDate: "2023-01-02", InitialCapital: 1}.Validate())
}

func TestToSnapshot(t *testing.T) {
	snap, err := toSnapshot(engineapi.BacktestRunResponse{RunId: "r", Status: "RUNNING", Trades: json.RawMessage(`[]`)})
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, snap.Status)
	assert.Empty(t, snap.Result)
	require.NoError(t, snap.Validate())

	snap, err = toSnapshot(engineapi.BacktestRunResponse{RunId: "r", Status: "COMPLETED", Metrics: json.RawMessage(`{"cagr":1}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"metrics":{"cagr":1},"trades":[],"equity_curve":[]}`, string(snap.Result))

	snap, err = toSnapshot(engineapi.BacktestRunResponse{RunId: "r", Status: "FAILED"})
	require.NoError(t, err)
	assert.Equal(t, defaultFailure, snap.Failure)
	require.NoError(t, snap.Validate())

	msg := "worker crashed"
	snap, err = toSnapshot(engineapi.BacktestRunResponse{RunId: "r", Status: "FAILED", Error: &msg})
	require.NoError(t, err)
	assert.Equal(t, msg, snap.Failure)

	_, err = toSnapshot(engineapi.BacktestRunResponse{RunId: "r", Status: "PAUSED"})
	assert.Error(t, err)
}

func TestEngineSubmitRejectsUnknownParams(t *testing.T) {
	e := NewEngine(newFakeAPI("x"))
	_, err := e.Submit(ctx, map[string]any{"start_date": "2023-01-01"})
	assert.Error(t, err)

	id, err := e.Submit(ctx, validParams())
	require.NoError(t, err)
	assert.Equal(t, job.ID("x"), id)
}

func TestDecodeResultAndFirstTrades(t *testing.T) {
	r, err := DecodeResult(nil)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Nil(t, r.FirstTrades(10))

	_, err = DecodeResult(json.RawMessage(`{"metrics":`))
	assert.Error(t, err)

	r, err = DecodeResult(json.RawMessage(`{"metrics":{"sharpe":1.5,"total_trades":3},"trades":[
		{"date":"2023-01-02","symbol":"A","action":"BUY","qty":1,"price":1,"reason":""},
		{"date":"2023-01-03","symbol":"B","action":"BUY","qty":1,"price":1,"reason":""},
		{"date":"2023-01-04","symbol":"A","action":"SELL","qty":1,"price":2,"reason":""}
	],"equity_curve":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, r.Metrics.Sharpe)
	assert.Equal(t, 3, r.Metrics.TotalTrades)
	first := r.FirstTrades(2)
	require.Len(t, first, 2)
	assert.Equal(t, "A", first[0].Symbol)
	assert.Equal(t, "B", first[1].Symbol)
	assert.Len(t, r.FirstTrades(10), 3)
	assert.Nil(t, r.FirstTrades(0))
}
