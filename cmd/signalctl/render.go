package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	openapi_types "github.com/oapi-codegen/runtime/types"
	"github.com/olekukonko/tablewriter"

	"signalboard/internal/core/backtest"
	"signalboard/internal/core/job"
	"signalboard/internal/platform/engineapi"
)

const shownTrades = 10

func statusLabel(s job.Status) string {
	switch s {
	case job.StatusCompleted:
		return color.GreenString(string(s))
	case job.StatusFailed:
		return color.RedString(string(s))
	case job.StatusRunning:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}

func renderProgress(w io.Writer, s job.Snapshot) {
	line := fmt.Sprintf("[%s] %s", s.JobID, statusLabel(s.Status))
	if s.Fetched() {
		line += " at " + s.FetchedAt.Local().Format(time.TimeOnly)
	} else {
		line += " (waiting for first poll)"
	}
	if s.Stalled {
		line += color.YellowString(" stalled: %d failed polls", s.FailedPolls)
	}
	fmt.Fprintln(w, line)
}

// renderOutcome prints the final state of a run. A failed run is reported
// as an error so the process exits non-zero.
func renderOutcome(w io.Writer, s job.Snapshot) error {
	switch s.Status {
	case job.StatusCompleted:
		r, err := backtest.DecodeResult(s.Result)
		if err != nil {
			return err
		}
		renderResult(w, r)
		return nil
	case job.StatusFailed:
		return errors.New("backtest failed: " + s.Failure)
	case "":
		return errors.New("no snapshot received")
	default:
		fmt.Fprintf(w, "run %s is %s\n", s.JobID, s.Status)
		return nil
	}
}

func renderResult(w io.Writer, r *backtest.Result) {
	if r == nil {
		fmt.Fprintln(w, "no result")
		return
	}
	fmt.Fprintln(w, "\n=== Metrics ===")
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	table.Append("CAGR", fmt.Sprintf("%.2f%%", r.Metrics.CAGR))
	table.Append("Max drawdown", fmt.Sprintf("%.2f%%", r.Metrics.MaxDD))
	table.Append("Sharpe", fmt.Sprintf("%.2f", r.Metrics.Sharpe))
	table.Append("Final equity", humanize.CommafWithDigits(r.Metrics.FinalEquity, 2))
	table.Append("Trades", strconv.Itoa(r.Metrics.TotalTrades))
	table.Render()

	trades := r.FirstTrades(shownTrades)
	if len(trades) == 0 {
		return
	}
	fmt.Fprintf(w, "\n=== Trades (first %d of %d) ===\n", len(trades), len(r.Trades))
	tt := tablewriter.NewWriter(w)
	tt.Header("Date", "Symbol", "Action", "Qty", "Price", "Reason")
	for _, t := range trades {
		tt.Append(
			t.Date.Format(openapi_types.DateFormat),
			t.Symbol,
			t.Action,
			humanize.Commaf(t.Qty),
			humanize.CommafWithDigits(t.Price, 2),
			t.Reason,
		)
	}
	tt.Render()
}

func renderTop10(w io.Writer, r engineapi.SignalResponse) {
	fmt.Fprintf(w, "Top 10 for %s (regime %s)\n", r.Date.Format(openapi_types.DateFormat), r.Regime)
	if len(r.Top10) == 0 {
		fmt.Fprintln(w, "no signals for this date")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Rank", "Symbol", "Score")
	for _, it := range r.Top10 {
		table.Append(strconv.Itoa(it.Rank), it.Symbol, fmt.Sprintf("%.2f", it.FinalScore))
	}
	table.Render()
}

func renderScores(w io.Writer, scores []engineapi.ScoreDetail) {
	if len(scores) == 0 {
		fmt.Fprintln(w, "no scores")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Date", "Potential", "Risk", "Final")
	for _, s := range scores {
		table.Append(
			s.Date.Format(openapi_types.DateFormat),
			fmt.Sprintf("%.2f", s.PotentialScore),
			fmt.Sprintf("%.2f", s.RiskScore),
			fmt.Sprintf("%.2f", s.FinalScore),
		)
	}
	table.Render()
}
