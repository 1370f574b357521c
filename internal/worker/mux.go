package worker

import (
	"context"
	"time"

	"signalboard/internal/logger"

	"github.com/hibiken/asynq"
)

type Mux struct {
	mux *asynq.ServeMux
	log *logger.Logger
}

// NewMux returns a ServeMux that logs every task it runs.
func NewMux() *Mux {
	m := &Mux{mux: asynq.NewServeMux(), log: logger.New("Worker")}
	m.mux.Use(m.logging)
	return m
}

func (m *Mux) HandleFunc(t string, h func(ctx context.Context, task *asynq.Task) error) {
	m.mux.HandleFunc(t, h)
}

func (m *Mux) Mux() *asynq.ServeMux { return m.mux }

func (m *Mux) logging(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		err := next.ProcessTask(ctx, t)
		if err != nil {
			m.log.LogErrorf("task %s (%s) failed after %v: %v", t.Type(), id, time.Since(start), err)
			return err
		}
		m.log.LogInfof("task %s (%s) done in %v", t.Type(), id, time.Since(start))
		return nil
	})
}
