package signals

import (
	"errors"

	"signalboard/internal/platform/backend"
	"signalboard/internal/platform/engineapi"
	"signalboard/internal/utils/parser"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type top10Query struct {
	Date string `form:"date"`
	Mode string `form:"mode,default=RISK_ON"`
}

type stockQuery struct {
	Limit int `form:"limit,default=30"`
}

func (h *Handler) HandleTop10(c *fiber.Ctx) error {
	var q top10Query
	if err := parser.ParseQuery(c, &q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	}
	out, err := h.svc.Top10(c.Context(), q.Date, q.Mode)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

func (h *Handler) HandleStock(c *fiber.Ctx) error {
	var q stockQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	}
	out, err := h.svc.StockHistory(c.Context(), c.Params("symbol"), q.Limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(out)
}

func respondError(c *fiber.Ctx, err error) error {
	var he *backend.HTTPError
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	case errors.As(err, &he) && he.StatusCode == fiber.StatusNotFound:
		return c.Status(fiber.StatusNotFound).JSON(engineapi.NewError("not_found"))
	default:
		return c.Status(fiber.StatusBadGateway).JSON(engineapi.NewError(err.Error()))
	}
}
