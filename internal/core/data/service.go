// Package data triggers the backend's import and scoring jobs. Requests are
// queued with asynq and forwarded by the worker; nothing is polled.
package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"signalboard/internal/logger"
	"signalboard/internal/platform/backend"
	"signalboard/internal/platform/engineapi"
	"signalboard/internal/platform/tasks"

	"github.com/hibiken/asynq"
	openapi_types "github.com/oapi-codegen/runtime/types"
)

const (
	TaskTypeImportYahoo = "data:import_yahoo"
	TaskTypeCompute     = "data:compute"
	TaskTypeImportSeed  = "data:import_seed"

	DefaultDays = 365
	MaxDays     = 3650
)

var ErrInvalidRequest = errors.New("invalid data request")

type API interface {
	ImportYahoo(ctx context.Context, days int) (engineapi.Message, error)
	Compute(ctx context.Context, date time.Time) (engineapi.Message, error)
	ImportSeed(ctx context.Context) (engineapi.Message, error)
}

// Enqueuer is satisfied by *tasks.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, task *asynq.Task, queue string) (string, error)
}

type ImportYahooPayload struct {
	Days int `json:"days"`
}

type ComputePayload struct {
	Date string `json:"date"`
}

type Service struct {
	log   *logger.Logger
	api   API
	queue Enqueuer
}

func NewService(api API, queue Enqueuer) *Service {
	return &Service{log: logger.New("DataService"), api: api, queue: queue}
}

// EnqueueImportYahoo queues an import of the last days of prices. Zero means
// DefaultDays.
func (s *Service) EnqueueImportYahoo(ctx context.Context, days int) (string, error) {
	if days == 0 {
		days = DefaultDays
	}
	if days < 1 || days > MaxDays {
		return "", fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, MaxDays)
	}
	return s.enqueue(ctx, TaskTypeImportYahoo, ImportYahooPayload{Days: days})
}

// EnqueueCompute queues feature and score computation for date (YYYY-MM-DD).
func (s *Service) EnqueueCompute(ctx context.Context, date string) (string, error) {
	if _, err := parseDate(date); err != nil {
		return "", err
	}
	return s.enqueue(ctx, TaskTypeCompute, ComputePayload{Date: strings.TrimSpace(date)})
}

func (s *Service) EnqueueImportSeed(ctx context.Context) (string, error) {
	return s.enqueue(ctx, TaskTypeImportSeed, nil)
}

func (s *Service) enqueue(ctx context.Context, taskType string, payload interface{}) (string, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		body = b
	}
	id, err := s.queue.Enqueue(ctx, asynq.NewTask(taskType, body), tasks.QueueDefault)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	s.log.WithFields(map[string]interface{}{"task_id": id, "type": taskType}).Msg("task queued")
	return id, nil
}

func (s *Service) HandleImportYahooTask(ctx context.Context, t *asynq.Task) error {
	var p ImportYahooPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	msg, err := s.api.ImportYahoo(ctx, p.Days)
	return s.finish(t.Type(), msg, err)
}

func (s *Service) HandleComputeTask(ctx context.Context, t *asynq.Task) error {
	var p ComputePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	day, err := parseDate(p.Date)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	msg, err := s.api.Compute(ctx, day)
	return s.finish(t.Type(), msg, err)
}

func (s *Service) HandleImportSeedTask(ctx context.Context, t *asynq.Task) error {
	msg, err := s.api.ImportSeed(ctx)
	return s.finish(t.Type(), msg, err)
}

// finish logs the backend's answer. A 4xx is not retried.
func (s *Service) finish(taskType string, msg engineapi.Message, err error) error {
	if err != nil {
		if backend.IsRejection(err) {
			return fmt.Errorf("%s rejected: %v: %w", taskType, err, asynq.SkipRetry)
		}
		return fmt.Errorf("%s: %w", taskType, err)
	}
	s.log.LogInfof("%s: %s", taskType, msg.Message)
	return nil
}

func parseDate(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrInvalidRequest)
	}
	d, err := time.Parse(openapi_types.DateFormat, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD, got %q", ErrInvalidRequest, date)
	}
	return d, nil
}
