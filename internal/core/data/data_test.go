package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"signalboard/internal/platform/backend"
	"signalboard/internal/platform/engineapi"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type queued struct {
	task  *asynq.Task
	queue string
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []queued
	err   error
}

func (q *fakeQueue) Enqueue(_ context.Context, task *asynq.Task, queue string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.tasks = append(q.tasks, queued{task: task, queue: queue})
	return fmt.Sprintf("task-%d", len(q.tasks)), nil
}

type fakeAPI struct {
	calls []string
	err   error
}

func (f *fakeAPI) ImportYahoo(_ context.Context, days int) (engineapi.Message, error) {
	f.calls = append(f.calls, fmt.Sprintf("yahoo:%d", days))
	return engineapi.Message{Message: "imported"}, f.err
}

func (f *fakeAPI) Compute(_ context.Context, date time.Time) (engineapi.Message, error) {
	f.calls = append(f.calls, "compute:"+date.Format("2006-01-02"))
	return engineapi.Message{Message: "computed"}, f.err
}

func (f *fakeAPI) ImportSeed(context.Context) (engineapi.Message, error) {
	f.calls = append(f.calls, "seed")
	return engineapi.Message{Message: "seeded"}, f.err
}

func TestEnqueueImportYahoo(t *testing.T) {
	q := &fakeQueue{}
	s := NewService(&fakeAPI{}, q)

	id, err := s.EnqueueImportYahoo(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypeImportYahoo, q.tasks[0].task.Type())
	assert.Equal(t, "default", q.tasks[0].queue)
	assert.JSONEq(t, `{"days":365}`, string(q.tasks[0].task.Payload()))

	for _, days := range []int{-1, MaxDays + 1} {
		_, err := s.EnqueueImportYahoo(ctx, days)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Len(t, q.tasks, 1)
}

func TestEnqueueCompute(t *testing.T) {
	q := &fakeQueue{}
	s := NewService(&fakeAPI{}, q)

	_, err := s.EnqueueCompute(ctx, "2024-13-01")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.EnqueueCompute(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.EnqueueCompute(ctx, "2024-01-02")
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-01-02"}`, string(q.tasks[0].task.Payload()))
}

func TestEnqueueError(t *testing.T) {
	s := NewService(&fakeAPI{}, &fakeQueue{err: errors.New("redis down")})
	_, err := s.EnqueueImportSeed(ctx)
	assert.ErrorContains(t, err, "redis down")
}

func TestTaskHandlers(t *testing.T) {
	api := &fakeAPI{}
	s := NewService(api, &fakeQueue{})

	payload, _ := json.Marshal(ImportYahooPayload{Days: 30})
	require.NoError(t, s.HandleImportYahooTask(ctx, asynq.NewTask(TaskTypeImportYahoo, payload)))
	payload, _ = json.Marshal(ComputePayload{Date: "2024-01-02"})
	require.NoError(t, s.HandleComputeTask(ctx, asynq.NewTask(TaskTypeCompute, payload)))
	require.NoError(t, s.HandleImportSeedTask(ctx, asynq.NewTask(TaskTypeImportSeed, nil)))

	assert.Equal(t, []string{"yahoo:30", "compute:2024-01-02", "seed"}, api.calls)
}

func TestTaskHandlerRetryPolicy(t *testing.T) {
	api := &fakeAPI{err: &backend.HTTPError{Method: "POST", Path: "/data/compute", StatusCode: 422, Detail: "bad date"}}
	s := NewService(api, &fakeQueue{})

	err := s.HandleImportSeedTask(ctx, asynq.NewTask(TaskTypeImportSeed, nil))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	api.err = errors.New("connection refused")
	err = s.HandleImportSeedTask(ctx, asynq.NewTask(TaskTypeImportSeed, nil))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	err = s.HandleComputeTask(ctx, asynq.NewTask(TaskTypeCompute, []byte(`{`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandlers(t *testing.T) {
	q := &fakeQueue{}
	h := NewHandler(NewService(&fakeAPI{}, q))
	app := fiber.New()
	app.Post("/v1/data/import/yahoo", h.HandleImportYahoo)
	app.Post("/v1/data/compute", h.HandleCompute)
	app.Post("/v1/data/import/seed", h.HandleImportSeed)

	post := func(target string) (int, string) {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, target, nil), -1)
		require.NoError(t, err)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(b)
	}

	code, body := post("/v1/data/import/yahoo?days=30")
	require.Equal(t, http.StatusAccepted, code, body)
	assert.JSONEq(t, `{"success":true,"task_id":"task-1","type":"data:import_yahoo"}`, body)

	code, _ = post("/v1/data/import/yahoo?days=many")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post("/v1/data/compute")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = post("/v1/data/compute?date=2024-01-02")
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = post("/v1/data/import/seed")
	assert.Equal(t, http.StatusAccepted, code)

	assert.Len(t, q.tasks, 3)
	assert.JSONEq(t, `{"days":30}`, string(q.tasks[0].task.Payload()))
}
