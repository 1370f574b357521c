package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
)

func TestMuxRoutesByType(t *testing.T) {
	m := NewMux()
	var got []string
	m.HandleFunc("data:compute", func(_ context.Context, task *asynq.Task) error {
		got = append(got, string(task.Payload()))
		return nil
	})
	boom := errors.New("boom")
	m.HandleFunc("data:import_seed", func(context.Context, *asynq.Task) error { return boom })

	ctx := context.Background()
	assert.NoError(t, m.Mux().ProcessTask(ctx, asynq.NewTask("data:compute", []byte(`{"date":"2024-01-02"}`))))
	assert.ErrorIs(t, m.Mux().ProcessTask(ctx, asynq.NewTask("data:import_seed", nil)), boom)
	assert.Error(t, m.Mux().ProcessTask(ctx, asynq.NewTask("unknown", nil)))
	assert.Equal(t, []string{`{"date":"2024-01-02"}`}, got)
}
