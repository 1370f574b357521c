package server

import (
	"signalboard/internal/core/backtest"
	"signalboard/internal/core/data"
	"signalboard/internal/core/signals"
	"signalboard/internal/health"

	"github.com/gofiber/fiber/v2"
)

type Dependencies struct {
	Backtest *backtest.Service
	Signals  *signals.Service
	Data     *data.Service
	Health   map[string]health.Check
}

func RegisterRoutes(app *fiber.App, d Dependencies) *health.HealthHandler {
	// Health endpoints
	healthHandler := health.NewHealthHandler(d.Health)
	app.Get("/v1/health", health.HealthLimiter(), healthHandler.HandleHealth)

	api := app.Group("/v1")

	backtestHandler := backtest.NewHandler(d.Backtest)
	api.Post("/backtests", backtestHandler.HandleCreate)
	api.Get("/backtests/:jobId", backtestHandler.HandleGet)
	api.Get("/backtests/:jobId/events", backtestHandler.HandleEvents)
	api.Delete("/backtests/:jobId", backtestHandler.HandleDelete)

	signalsHandler := signals.NewHandler(d.Signals)
	api.Get("/signals/top10", signalsHandler.HandleTop10)
	api.Get("/signals/stock/:symbol", signalsHandler.HandleStock)

	dataHandler := data.NewHandler(d.Data)
	api.Post("/data/import/yahoo", dataHandler.HandleImportYahoo)
	api.Post("/data/compute", dataHandler.HandleCompute)
	api.Post("/data/import/seed", dataHandler.HandleImportSeed)

	return healthHandler
}
