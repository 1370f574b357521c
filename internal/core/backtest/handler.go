package backtest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"signalboard/internal/core/job"
	"signalboard/internal/logger"
	"signalboard/internal/platform/engineapi"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

const heartbeatInterval = 15 * time.Second

type Handler struct {
	svc *Service
	log *logger.Logger
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, log: logger.New("BacktestHandler")}
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(engineapi.NewError(msg))
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var p Params
	if err := c.BodyParser(&p); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	id, err := h.svc.Run(c.Context(), p)
	if err != nil {
		var serr *job.SubmissionError
		switch {
		case errors.Is(err, ErrInvalidParams):
			return fail(c, fiber.StatusBadRequest, err.Error())
		case errors.As(err, &serr) && serr.Rejected:
			return fail(c, fiber.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &serr):
			return fail(c, fiber.StatusBadGateway, err.Error())
		case id == "":
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
		// Accepted by the backend; only local bookkeeping failed.
		h.log.LogWarnf("run %s accepted with error: %v", id, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(engineapi.BacktestCreateResponse{
		Success: true,
		JobId:   string(id),
		Status:  string(job.StatusPending),
	})
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	id := job.ID(c.Params("jobId"))
	v, err := h.svc.Status(c.Context(), id)
	if IsNotFound(err) {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(statusResponse(v))
}

func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	id := job.ID(c.Params("jobId"))
	var err error
	if c.QueryBool("forget") {
		err = h.svc.Forget(c.Context(), id)
	} else {
		err = h.svc.Cancel(c.Context(), id)
	}
	if IsNotFound(err) {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job_id": id})
}

// HandleEvents streams snapshots as Server-Sent Events until the run is
// terminal or polling stops.
func (h *Handler) HandleEvents(c *fiber.Ctx) error {
	id := job.ID(c.Params("jobId"))
	ch, unsubscribe, err := h.svc.Watch(c.Context(), id)
	if IsNotFound(err) {
		return fail(c, fiber.StatusNotFound, "not_found")
	}
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					fmt.Fprint(w, "event: end\ndata: {}\n\n")
					_ = w.Flush()
					return
				}
				body, err := json.Marshal(snapshotResponse(snap, !snap.Status.IsTerminal()))
				if err != nil {
					h.log.LogErrorf("encode snapshot %s: %v", snap.JobID, err)
					return
				}
				fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", body)
				if err := w.Flush(); err != nil {
					h.log.LogDebugf("event stream for %s closed: %v", id, err)
					return
				}
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					h.log.LogDebugf("event stream for %s closed: %v", id, err)
					return
				}
			}
		}
	}))
	return nil
}

func snapshotResponse(s job.Snapshot, polling bool) engineapi.BacktestStatusResponse {
	resp := engineapi.BacktestStatusResponse{
		Success:     true,
		JobId:       string(s.JobID),
		Status:      string(s.Status),
		Stalled:     s.Stalled,
		FailedPolls: s.FailedPolls,
		Polling:     polling,
		Result:      s.Result,
	}
	if s.Fetched() {
		at := s.FetchedAt.UTC().Format(time.RFC3339Nano)
		resp.FetchedAt = &at
	}
	if s.Failure != "" {
		failure := s.Failure
		resp.Failure = &failure
	}
	return resp
}

func statusResponse(v View) engineapi.BacktestStatusResponse {
	resp := snapshotResponse(v.Snapshot, v.Polling)
	if v.Archive != nil && v.Archive.URL != "" {
		u := v.Archive.URL
		resp.ArchiveUrl = &u
	}
	return resp
}
