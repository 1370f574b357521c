package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"signalboard/internal/config"
	"signalboard/internal/core/backtest"
	"signalboard/internal/core/data"
	"signalboard/internal/core/job"
	"signalboard/internal/core/signals"
	"signalboard/internal/logger"
	"signalboard/internal/platform/backend"
	"signalboard/internal/platform/engineapi"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

var stdout io.Writer = os.Stdout

// appContext holds what every command needs.
type appContext struct {
	cfg    config.Config
	client *backend.Client
	log    *logger.Logger
}

func newAppContext(cmd *cli.Command) (*appContext, error) {
	cfg := config.Load()
	if u := cmd.String("backend-url"); u != "" {
		cfg.BackendURL = u
	}
	client, err := backend.New(backend.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		RPS:     cfg.BackendRPS,
	})
	if err != nil {
		return nil, err
	}
	return &appContext{cfg: cfg, client: client, log: logger.New("signalctl")}, nil
}

func (a *appContext) backtests() (*backtest.Service, *job.Tracker) {
	tracker := job.NewTracker(backtest.NewEngine(a.client), job.NewMemoryCache(), job.Options{
		PollInterval:   a.cfg.PollInterval,
		StallThreshold: a.cfg.StallThreshold,
		FetchTimeout:   a.cfg.BackendTimeout,
		Logger:         a.log,
	})
	return backtest.NewService(tracker, nil, backtest.Options{ReplacePrevious: true}), tracker
}

func backtestRunAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}

	params := backtest.Params{
		StartDate:      cmd.String("start"),
		EndDate:        cmd.String("end"),
		InitialCapital: cmd.Float("capital"),
	}
	if cmd.IsSet("fee-bps") {
		f := cmd.Float("fee-bps")
		params.FeeBps = &f
	}
	if cmd.IsSet("slippage-bps") {
		f := cmd.Float("slippage-bps")
		params.SlippageBps = &f
	}

	svc, tracker := app.backtests()
	defer tracker.Close()

	id, err := svc.Run(ctx, params)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "submitted backtest %s\n", id)
	if cmd.Bool("detach") {
		return nil
	}
	return follow(ctx, stdout, svc, id)
}

func backtestStatusAction(ctx context.Context, cmd *cli.Command) error {
	id := job.ID(strings.TrimSpace(cmd.Args().First()))
	if id == "" {
		return errors.New("run_id is required")
	}
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}

	if cmd.Bool("follow") {
		svc, tracker := app.backtests()
		defer tracker.Close()
		if _, err := svc.Track(ctx, id); err != nil {
			return err
		}
		return follow(ctx, stdout, svc, id)
	}

	snap, err := backtest.NewEngine(app.client).Fetch(ctx, id)
	if err != nil {
		return err
	}
	if snap.JobID == "" {
		snap.JobID = id
	}
	return renderOutcome(stdout, snap)
}

// follow prints every snapshot of id until polling ends, then the outcome.
func follow(ctx context.Context, w io.Writer, svc *backtest.Service, id job.ID) error {
	ch, unsubscribe, err := svc.Watch(ctx, id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	var last job.Snapshot
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return renderOutcome(w, last)
			}
			last = snap
			renderProgress(w, snap)
		}
	}
}

func signalsTop10Action(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	svc := signals.NewService(app.client, nil, 0)
	out, err := svc.Top10(ctx, cmd.String("date"), cmd.String("mode"))
	if err != nil {
		return err
	}
	renderTop10(stdout, out)
	return nil
}

func signalsStockAction(ctx context.Context, cmd *cli.Command) error {
	symbol := cmd.Args().First()
	if symbol == "" {
		return errors.New("symbol is required")
	}
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	svc := signals.NewService(app.client, nil, 0)
	out, err := svc.StockHistory(ctx, symbol, int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	renderScores(stdout, out)
	return nil
}

func dataImportYahooAction(ctx context.Context, cmd *cli.Command) error {
	days := int(cmd.Int("days"))
	if days < 1 || days > data.MaxDays {
		return fmt.Errorf("days must be between 1 and %d, got %d", data.MaxDays, days)
	}
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	msg, err := app.client.ImportYahoo(ctx, days)
	return printMessage(msg, err)
}

func dataComputeAction(ctx context.Context, cmd *cli.Command) error {
	date, err := time.Parse(openapi_types.DateFormat, cmd.String("date"))
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
	}
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	msg, err := app.client.Compute(ctx, date)
	return printMessage(msg, err)
}

func dataImportSeedAction(ctx context.Context, cmd *cli.Command) error {
	app, err := newAppContext(cmd)
	if err != nil {
		return err
	}
	msg, err := app.client.ImportSeed(ctx)
	return printMessage(msg, err)
}

func printMessage(msg engineapi.Message, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, msg.Message)
	return nil
}
