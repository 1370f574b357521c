package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"signalboard/internal/core/backtest"
	"signalboard/internal/core/job"
	"signalboard/internal/platform/engineapi"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend serves the backtest and data endpoints of the analytics API.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/backtest/run", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2023-01-01", req["start_date"])
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "abc123", "status": "PENDING"})
	})
	mux.HandleFunc("/backtest/abc123", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"run_id": "abc123", "status": "RUNNING", "trades": []interface{}{}})
			return
		}
		_, _ = w.Write([]byte(`{"run_id":"abc123","status":"COMPLETED","metrics":{"cagr":12.4,"max_dd":-8.1,"sharpe":1.1,"final_equity":112400,"total_trades":1},
			"trades":[{"date":"2023-01-03","symbol":"AAA","action":"BUY","qty":10,"price":100.5,"reason":"top10"}],"equity_curve":[]}`))
	})
	mux.HandleFunc("/data/compute", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-02", r.URL.Query().Get("date_str"))
		_ = json.NewEncoder(w).Encode(engineapi.Message{Message: "computed 2024-01-02"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	err := newApp().Run(context.Background(), append([]string{"signalctl"}, args...))
	return buf.String(), err
}

func setEnv(t *testing.T, backendURL string) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", "test")
	t.Setenv("BACKEND_URL", backendURL)
	t.Setenv("BACKEND_RPS", "0")
	t.Setenv("POLL_INTERVAL", "5ms")
}

func TestBacktestRunFollowsToCompletion(t *testing.T) {
	srv := fakeBackend(t)
	setEnv(t, srv.URL)

	out, err := runCLI(t, "backtest", "run", "--start", "2023-01-01", "--end", "2023-12-31")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted backtest abc123")
	assert.Contains(t, out, "12.40%")
	assert.Contains(t, out, "112,400")
	assert.Contains(t, out, "AAA")
}

func TestBacktestRunDetach(t *testing.T) {
	srv := fakeBackend(t)
	setEnv(t, srv.URL)

	out, err := runCLI(t, "backtest", "run", "--start", "2023-01-01", "--end", "2023-12-31", "--detach")
	require.NoError(t, err)
	assert.Equal(t, "submitted backtest abc123\n", out)
}

func TestBacktestRunInvalidDates(t *testing.T) {
	srv := fakeBackend(t)
	setEnv(t, srv.URL)

	_, err := runCLI(t, "backtest", "run", "--start", "2023-12-31", "--end", "2023-01-01")
	assert.ErrorIs(t, err, backtest.ErrInvalidParams)
}

func TestDataCompute(t *testing.T) {
	srv := fakeBackend(t)
	setEnv(t, srv.URL)

	out, err := runCLI(t, "data", "compute", "--date", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, "computed 2024-01-02\n", out)

	_, err = runCLI(t, "data", "compute", "--date", "02/01/2024")
	assert.Error(t, err)
}

func TestRenderOutcome(t *testing.T) {
	var buf bytes.Buffer
	err := renderOutcome(&buf, job.Snapshot{JobID: "x", Status: job.StatusFailed, Failure: "No price data found"})
	assert.EqualError(t, err, "backtest failed: No price data found")

	buf.Reset()
	require.NoError(t, renderOutcome(&buf, job.Snapshot{JobID: "x", Status: job.StatusRunning}))
	assert.Contains(t, buf.String(), "run x is running")

	assert.Error(t, renderOutcome(&buf, job.Snapshot{}))
}

func TestRenderProgress(t *testing.T) {
	var buf bytes.Buffer
	renderProgress(&buf, job.NewPending("abc"))
	assert.Contains(t, buf.String(), "[abc] pending (waiting for first poll)")

	buf.Reset()
	renderProgress(&buf, job.Snapshot{JobID: "abc", Status: job.StatusRunning, Stalled: true, FailedPolls: 5})
	assert.Contains(t, buf.String(), "stalled: 5 failed polls")
}
