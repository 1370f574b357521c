package tasks

import (
	"context"

	"signalboard/internal/platform/redis"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const QueueDefault = "default"

type Client struct {
	c          *asynq.Client
	maxRetries int
}

func New(r *redis.Service, maxRetries int) *Client {
	return &Client{c: asynq.NewClient(r.AsynqRedisOpt()), maxRetries: maxRetries}
}

// Enqueue schedules task on queue under a fresh task ID and returns that ID.
func (t *Client) Enqueue(ctx context.Context, task *asynq.Task, queue string) (string, error) {
	info, err := t.c.EnqueueContext(ctx, task,
		asynq.Queue(queue),
		asynq.MaxRetry(t.maxRetries),
		asynq.TaskID(uuid.NewString()),
	)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (t *Client) Close() error { return t.c.Close() }
