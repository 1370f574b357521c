package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "signalctl",
		Usage: "Run backtests and read signals from the analytics backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "backend-url",
				Usage: "analytics backend base URL (defaults to BACKEND_URL)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "backtest",
				Usage: "Backtest runs",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "Submit a backtest and follow it until it finishes",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "start", Usage: "start date, YYYY-MM-DD", Required: true},
							&cli.StringFlag{Name: "end", Usage: "end date, YYYY-MM-DD", Required: true},
							&cli.FloatFlag{Name: "capital", Usage: "initial capital", Value: 100000},
							&cli.FloatFlag{Name: "fee-bps", Usage: "fee in basis points (backend default 10)"},
							&cli.FloatFlag{Name: "slippage-bps", Usage: "slippage in basis points (backend default 8)"},
							&cli.BoolFlag{Name: "detach", Usage: "print the run ID and exit without polling"},
						},
						Action: backtestRunAction,
					},
					{
						Name:      "status",
						Usage:     "Show the state of a run",
						ArgsUsage: "<run_id>",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "follow", Usage: "keep polling until the run finishes"},
						},
						Action: backtestStatusAction,
					},
				},
			},
			{
				Name:  "signals",
				Usage: "Daily signals",
				Commands: []*cli.Command{
					{
						Name:  "top10",
						Usage: "Show the daily top 10",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD, today when omitted"},
							&cli.StringFlag{Name: "mode", Usage: "regime mode", Value: "RISK_ON"},
						},
						Action: signalsTop10Action,
					},
					{
						Name:      "stock",
						Usage:     "Show the score history of one symbol",
						ArgsUsage: "<symbol>",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "limit", Usage: "number of days", Value: 30},
						},
						Action: signalsStockAction,
					},
				},
			},
			{
				Name:  "data",
				Usage: "Backend data jobs",
				Commands: []*cli.Command{
					{
						Name:  "import-yahoo",
						Usage: "Import recent prices from Yahoo Finance",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "days", Usage: "days of history", Value: 365},
						},
						Action: dataImportYahooAction,
					},
					{
						Name:  "compute",
						Usage: "Compute features and scores for one day",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "date", Usage: "YYYY-MM-DD", Required: true},
						},
						Action: dataComputeAction,
					},
					{
						Name:   "import-seed",
						Usage:  "Import the bundled seed data",
						Action: dataImportSeedAction,
					},
				},
			},
		},
	}
}
