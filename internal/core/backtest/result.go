package backtest

import (
	"encoding/json"
	"fmt"

	"signalboard/internal/platform/engineapi"
)

type Trade = engineapi.BacktestTrade

type EquityPoint = engineapi.BacktestEquityPoint

// Metrics are the summary figures of a completed run. Percentages are
// already scaled by 100 by the backend.
type Metrics struct {
	CAGR        float64 `json:"cagr"`
	MaxDD       float64 `json:"max_dd"`
	Sharpe      float64 `json:"sharpe"`
	FinalEquity float64 `json:"final_equity"`
	TotalTrades int     `json:"total_trades"`
}

// Result is the decoded payload of a completed backtest snapshot.
type Result struct {
	Metrics     Metrics       `json:"metrics"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
}

// rawResult is what the engine stores as the snapshot payload. Metrics stay
// raw so unknown keys survive.
type rawResult struct {
	Metrics     json.RawMessage `json:"metrics"`
	Trades      json.RawMessage `json:"trades"`
	EquityCurve json.RawMessage `json:"equity_curve"`
}

func DecodeResult(raw json.RawMessage) (*Result, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode backtest result: %w", err)
	}
	return &r, nil
}

// FirstTrades returns up to n trades in the order the backend sent them
// (date ascending).
func (r *Result) FirstTrades(n int) []Trade {
	if r == nil || n <= 0 {
		return nil
	}
	if n > len(r.Trades) {
		n = len(r.Trades)
	}
	return r.Trades[:n]
}
