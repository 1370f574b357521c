package data

import (
	"errors"

	"signalboard/internal/platform/engineapi"
	"signalboard/internal/utils/parser"

	"github.com/gofiber/fiber/v2"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type importQuery struct {
	Days int `form:"days,default=365"`
}

type computeQuery struct {
	Date string `form:"date"`
}

func (h *Handler) HandleImportYahoo(c *fiber.Ctx) error {
	var q importQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	}
	id, err := h.svc.EnqueueImportYahoo(c.Context(), q.Days)
	return h.respond(c, TaskTypeImportYahoo, id, err)
}

func (h *Handler) HandleCompute(c *fiber.Ctx) error {
	var q computeQuery
	if err := parser.ParseQuery(c, &q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	}
	id, err := h.svc.EnqueueCompute(c.Context(), q.Date)
	return h.respond(c, TaskTypeCompute, id, err)
}

func (h *Handler) HandleImportSeed(c *fiber.Ctx) error {
	id, err := h.svc.EnqueueImportSeed(c.Context())
	return h.respond(c, TaskTypeImportSeed, id, err)
}

func (h *Handler) respond(c *fiber.Ctx, taskType, id string, err error) error {
	if errors.Is(err, ErrInvalidRequest) {
		return c.Status(fiber.StatusBadRequest).JSON(engineapi.NewError(err.Error()))
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(engineapi.NewError(err.Error()))
	}
	return c.Status(fiber.StatusAccepted).JSON(engineapi.TaskEnqueuedResponse{Success: true, TaskId: id, Type: taskType})
}
