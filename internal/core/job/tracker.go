// Package job submits long-running jobs to the analytics backend and polls
// them until they reach a terminal status. The Tracker is the entry point;
// renderers read snapshots through Observe or follow them with Subscribe.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalboard/internal/logger"
)

// Backend is the asynchronous computation resource the tracker drives.
type Backend interface {
	// Submit forwards params verbatim and returns the new job's ID.
	Submit(ctx context.Context, params any) (ID, error)
	// Fetch returns the job's current state.
	Fetch(ctx context.Context, id ID) (Snapshot, error)
}

type Options struct {
	// PollInterval is the cadence while a job is pending or running.
	PollInterval time.Duration
	// StallThreshold is the number of consecutive failed polls after which
	// the cached snapshot is flagged as stalled.
	StallThreshold int
	// FetchTimeout bounds a single status poll. Zero means no extra bound.
	FetchTimeout time.Duration
	Logger       *logger.Logger
	Now          func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.StallThreshold < 1 {
		o.StallThreshold = 5
	}
	if o.Logger == nil {
		o.Logger = logger.New("JobTracker")
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// TerminalHook is called once per job when a terminal snapshot is cached.
type TerminalHook func(ctx context.Context, snap Snapshot)

type Tracker struct {
	backend Backend
	cache   Cache
	opts    Options
	log     *logger.Logger
	subs    *notifier

	mu       sync.Mutex
	pollers  map[ID]*poller
	finished map[ID]PollStats
	hooks    []TerminalHook
	closed   bool
	wg       sync.WaitGroup
}

func NewTracker(backend Backend, cache Cache, opts Options) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		backend:  backend,
		cache:    cache,
		opts:     opts,
		log:      opts.Logger,
		subs:     newNotifier(),
		pollers:  make(map[ID]*poller),
		finished: make(map[ID]PollStats),
	}
}

// OnTerminal registers a hook run from the poller goroutine after a job's
// terminal snapshot is cached.
func (t *Tracker) OnTerminal(h TerminalHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, h)
}

// Submit sends params to the backend, caches a pending snapshot for the new
// job and starts polling it. Backend failures come back as *SubmissionError.
// If the pending snapshot cannot be cached the ID is still returned together
// with the error, since the backend has accepted the job.
func (t *Tracker) Submit(ctx context.Context, params any) (ID, error) {
	if t.isClosed() {
		return "", ErrClosed
	}
	id, err := t.backend.Submit(ctx, params)
	if err != nil {
		serr := newSubmissionError(err)
		t.log.LogWarnf("%v", serr)
		return "", serr
	}
	if id == "" {
		return "", &SubmissionError{Err: errors.New("backend returned an empty job id")}
	}

	pending := NewPending(id)
	if err := t.cache.Put(ctx, pending); err != nil {
		return id, fmt.Errorf("cache pending snapshot for %s: %w", id, err)
	}
	t.subs.publish(pending)
	if err := t.start(pending); err != nil {
		return id, err
	}
	t.log.Job(string(id)).LogInfof("submitted job %s, polling every %v", id, t.opts.PollInterval)
	return id, nil
}

// Track starts polling a job that was submitted elsewhere. A job already
// cached as terminal is returned as is; an unknown job is cached as pending
// first.
func (t *Tracker) Track(ctx context.Context, id ID) (Snapshot, error) {
	if id == "" {
		return Snapshot{}, ErrNotFound
	}
	if t.isClosed() {
		return Snapshot{}, ErrClosed
	}
	snap, ok, err := t.cache.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		snap = NewPending(id)
		if err := t.cache.Put(ctx, snap); err != nil {
			return Snapshot{}, err
		}
	}
	if snap.Status.IsTerminal() {
		return snap, nil
	}
	return snap, t.start(snap)
}

func (t *Tracker) start(initial Snapshot) error {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		id:           initial.JobID,
		interval:     t.opts.PollInterval,
		fetchTimeout: t.opts.FetchTimeout,
		stallAfter:   t.opts.StallThreshold,
		fetch:        t.backend.Fetch,
		store:        t.cache.Put,
		publish:      t.subs.publish,
		now:          t.opts.Now,
		log:          t.log,
		cancel:       cancel,
		done:         make(chan struct{}),
		last:         initial,
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if _, running := t.pollers[p.id]; running {
		t.mu.Unlock()
		cancel()
		return nil
	}
	t.pollers[p.id] = p
	delete(t.finished, p.id)
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		p.run(ctx)
		t.release(p)
		close(p.done)
	}()
	return nil
}

// release runs when a poller's loop has ended, for whatever reason.
func (t *Tracker) release(p *poller) {
	p.mu.Lock()
	terminal := p.last.Status.IsTerminal()
	final := p.last
	p.mu.Unlock()

	t.mu.Lock()
	if t.pollers[p.id] == p {
		delete(t.pollers, p.id)
		t.subs.closeJob(p.id)
	}
	t.finished[p.id] = p.stats()
	hooks := append([]TerminalHook(nil), t.hooks...)
	t.mu.Unlock()

	if terminal {
		for _, h := range hooks {
			h(context.Background(), final.Clone())
		}
	}
}

// Observe returns the latest cached snapshot for id.
func (t *Tracker) Observe(ctx context.Context, id ID) (Snapshot, bool, error) {
	return t.cache.Get(ctx, id)
}

// Subscribe returns a channel that first yields the current snapshot and
// then every later change. Only the newest undelivered snapshot is kept. The
// channel is closed once the job is terminal, cancelled or the tracker is
// closed; for a job that is not being polled it yields one snapshot and
// closes. The returned func unsubscribes.
func (t *Tracker) Subscribe(ctx context.Context, id ID) (<-chan Snapshot, func(), error) {
	t.mu.Lock()
	p, polled := t.pollers[id]
	t.mu.Unlock()
	if polled {
		ch, unsubscribe := p.subscribe(t.subs)
		return ch, unsubscribe, nil
	}

	snap, ok, err := t.cache.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNotFound
	}
	sub, unsubscribe := t.subs.add(id, snap, false)
	return sub.ch, unsubscribe, nil
}

// Cancel stops polling id and keeps its last snapshot. A fetch that is in
// flight when Cancel is called is discarded. Cancelling an unknown or already
// finished job is a no-op.
func (t *Tracker) Cancel(id ID) {
	t.mu.Lock()
	p, ok := t.pollers[id]
	if ok {
		delete(t.pollers, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	p.stop()
	t.subs.closeJob(id)
	t.log.LogInfof("stopped polling job %s", id)
}

// Forget cancels id and drops its cached snapshot.
func (t *Tracker) Forget(ctx context.Context, id ID) error {
	t.Cancel(id)
	t.mu.Lock()
	delete(t.finished, id)
	t.mu.Unlock()
	return t.cache.Delete(ctx, id)
}

// Active reports whether id is being polled.
func (t *Tracker) Active(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pollers[id]
	return ok
}

// ActiveIDs lists the jobs being polled.
func (t *Tracker) ActiveIDs() []ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]ID, 0, len(t.pollers))
	for id := range t.pollers {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns poll counters for an active or finished job.
func (t *Tracker) Stats(id ID) (PollStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pollers[id]; ok {
		return p.stats(), true
	}
	s, ok := t.finished[id]
	return s, ok
}

// Wait blocks until id is no longer polled or ctx is done.
func (t *Tracker) Wait(ctx context.Context, id ID) error {
	t.mu.Lock()
	p, ok := t.pollers[id]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every poller and waits for them to exit.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	pollers := make([]*poller, 0, len(t.pollers))
	for id, p := range t.pollers {
		pollers = append(pollers, p)
		delete(t.pollers, id)
	}
	t.mu.Unlock()

	for _, p := range pollers {
		p.stop()
	}
	t.subs.closeAll()
	t.wg.Wait()
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
