package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signalboard/internal/logger"
)

// step is one scripted answer to a Fetch call.
type step struct {
	snap Snapshot
	err  error
	// gate, when set, holds the fetch until it is closed.
	gate chan struct{}
	// ignoreCtx makes a gated fetch wait for the gate even if its context is
	// cancelled, to model a response that arrives late.
	ignoreCtx bool
}

type fakeBackend struct {
	mu        sync.Mutex
	ids       []ID
	submitErr error
	submitted []any
	script    map[ID][]step
	calls     map[ID]int
	started   chan ID
}

func newFakeBackend(ids ...ID) *fakeBackend {
	return &fakeBackend{
		ids:     ids,
		script:  make(map[ID][]step),
		calls:   make(map[ID]int),
		started: make(chan ID, 64),
	}
}

func (f *fakeBackend) on(id ID, steps ...step) *fakeBackend {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[id] = steps
	return f
}

func (f *fakeBackend) Submit(_ context.Context, params any) (ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, params)
	if len(f.ids) == 0 {
		return "", errors.New("no ids left")
	}
	id := f.ids[0]
	f.ids = f.ids[1:]
	return id, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, id ID) (Snapshot, error) {
	f.mu.Lock()
	n := f.calls[id]
	f.calls[id] = n + 1
	steps := f.script[id]
	f.mu.Unlock()

	select {
	case f.started <- id:
	default:
	}

	if len(steps) == 0 {
		return Snapshot{}, errors.New("no script")
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	s := steps[n]
	if s.gate != nil {
		if s.ignoreCtx {
			<-s.gate
		} else {
			select {
			case <-s.gate:
			case <-ctx.Done():
				return Snapshot{}, ctx.Err()
			}
		}
	}
	if s.err != nil {
		return Snapshot{}, s.err
	}
	snap := s.snap
	snap.JobID = id
	return snap, nil
}

func (f *fakeBackend) callCount(id ID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// waitStarted blocks until a fetch for id has started n times in total.
func (f *fakeBackend) waitStarted(t *testing.T, id ID, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for f.callCount(id) < n {
		select {
		case <-f.started:
		case <-deadline:
			t.Fatalf("fetch %d for %s never started", n, id)
		}
	}
}

// recordingCache remembers every status written per job.
type recordingCache struct {
	*MemoryCache
	mu     sync.Mutex
	writes map[ID][]Status
}

func newRecordingCache() *recordingCache {
	return &recordingCache{MemoryCache: NewMemoryCache(), writes: make(map[ID][]Status)}
}

func (c *recordingCache) Put(ctx context.Context, snap Snapshot) error {
	c.mu.Lock()
	c.writes[snap.JobID] = append(c.writes[snap.JobID], snap.Status)
	c.mu.Unlock()
	return c.MemoryCache.Put(ctx, snap)
}

func (c *recordingCache) written(id ID) []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Status(nil), c.writes[id]...)
}

type rejection struct{}

func (rejection) Error() string       { return "status 422: invalid date" }
func (rejection) IsClientError() bool { return true }

func testOptions(interval time.Duration) Options {
	return Options{PollInterval: interval, StallThreshold: 3, Logger: logger.Nop()}
}

func running() step { return step{snap: Snapshot{Status: StatusRunning}} }

func completed(result string) step {
	return step{snap: Snapshot{Status: StatusCompleted, Result: []byte(result)}}
}
