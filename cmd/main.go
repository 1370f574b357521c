package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"signalboard/internal/config"
	"signalboard/internal/core/backtest"
	"signalboard/internal/core/data"
	"signalboard/internal/core/job"
	"signalboard/internal/core/signals"
	"signalboard/internal/health"
	"signalboard/internal/logger"
	"signalboard/internal/platform/archive"
	"signalboard/internal/platform/backend"
	rds "signalboard/internal/platform/redis"
	"signalboard/internal/platform/tasks"
	"signalboard/internal/server"
	"signalboard/internal/worker"
)

func main() {
	cfg := config.Load()
	logr := logger.New("main")
	logr.LogInfof("starting at %s (env=%s, backend=%s)", cfg.HTTPAddr, cfg.AppEnv, cfg.BackendURL)

	if err := run(cfg, logr); err != nil {
		logr.LogErrorf("exited: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logr *logger.Logger) error {
	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return err
	}
	defer redisSvc.Close()

	backendClient, err := backend.New(backend.Options{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
		RPS:     cfg.BackendRPS,
	})
	if err != nil {
		return err
	}

	// Polling engine
	var cache job.Cache = job.NewMemoryCache()
	if cfg.SnapshotCache == "redis" {
		cache = job.NewRedisCache(redisSvc)
	}
	tracker := job.NewTracker(backtest.NewEngine(backendClient), cache, job.Options{
		PollInterval:   cfg.PollInterval,
		StallThreshold: cfg.StallThreshold,
		FetchTimeout:   cfg.BackendTimeout,
	})

	store, err := archive.New(cfg)
	if err != nil {
		return err
	}

	// Asynq client and server
	taskClient := tasks.New(redisSvc, cfg.TaskMaxRetries)
	defer taskClient.Close()
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{tasks.QueueDefault: 1},
	})

	// Core services
	backtestSvc := backtest.NewService(tracker, store, backtest.Options{})
	signalsSvc := signals.NewService(backendClient, redisSvc, cfg.SignalsCacheTTL)
	dataSvc := data.NewService(backendClient, taskClient)

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(data.TaskTypeImportYahoo, dataSvc.HandleImportYahooTask)
	mux.HandleFunc(data.TaskTypeCompute, dataSvc.HandleComputeTask)
	mux.HandleFunc(data.TaskTypeImportSeed, dataSvc.HandleImportSeedTask)

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Signalboard",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Archived results written by the local fallback
	app.Static("/files", cfg.DataDir)

	healthHandler := server.RegisterRoutes(app, server.Dependencies{
		Backtest: backtestSvc,
		Signals:  signalsSvc,
		Data:     dataSvc,
		Health: map[string]health.Check{
			"redis":   redisSvc.HealthCheck,
			"backend": backendClient.HealthCheck,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		healthHandler.SetReady()
		return nil
	})

	g.Go(func() error {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			return fmt.Errorf("server listen: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logr.LogInfo("Shutting down...")
		tracker.Close()
		asynqServer.Shutdown()
		return app.ShutdownWithTimeout(5 * time.Second)
	})

	return g.Wait()
}
