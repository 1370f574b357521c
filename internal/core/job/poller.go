package job

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"signalboard/internal/logger"
)

// PollStats counts what a poller did over its lifetime.
type PollStats struct {
	Ticks               int64 `json:"ticks"`
	Fetches             int64 `json:"fetches"`
	SkippedTicks        int64 `json:"skipped_ticks"`
	Failures            int64 `json:"failures"`
	ConsecutiveFailures int64 `json:"consecutive_failures"`
}

type fetchResult struct {
	snap Snapshot
	err  error
}

// poller keeps one job's snapshot fresh until it is terminal or stopped.
// The first fetch happens on the first tick, one interval after arming.
type poller struct {
	id           ID
	interval     time.Duration
	fetchTimeout time.Duration
	stallAfter   int
	fetch        func(ctx context.Context, id ID) (Snapshot, error)
	store        func(ctx context.Context, snap Snapshot) error
	publish      func(snap Snapshot)
	now          func() time.Time
	log          *logger.Logger

	cancel context.CancelFunc
	// done is closed by the tracker once the loop has ended and the poller
	// has been released.
	done chan struct{}

	inFlight atomic.Bool

	ticks    atomic.Int64
	fetches  atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	streak   atomic.Int64

	// mu serialises cache writes against stop. Once stopped is set no write
	// for this job happens.
	mu      sync.Mutex
	stopped bool

	// last is the last snapshot this poller wrote. Only the run goroutine
	// touches it.
	last Snapshot
}

// pollInterval decides, from the latest applied status, whether polling goes
// on and at what cadence.
func pollInterval(s Status, base time.Duration) (time.Duration, bool) {
	switch s {
	case StatusPending, StatusRunning:
		return base, true
	default:
		return 0, false
	}
}

func (p *poller) run(ctx context.Context) {
	interval := p.interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// One slot is enough: the in-flight guard allows a single outstanding
	// fetch, so its send never blocks even after run returns.
	results := make(chan fetchResult, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ticks.Add(1)
			if !p.inFlight.CompareAndSwap(false, true) {
				p.skipped.Add(1)
				p.log.LogDebugf("tick skipped for %s: fetch still in flight", p.id)
				continue
			}
			p.fetches.Add(1)
			go p.fetchOnce(ctx, results)
		case res := <-results:
			p.inFlight.Store(false)
			next, keep := p.apply(ctx, res)
			if !keep {
				return
			}
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (p *poller) fetchOnce(ctx context.Context, results chan<- fetchResult) {
	fctx := ctx
	if p.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, p.fetchTimeout)
		defer cancel()
	}
	snap, err := p.fetch(fctx, p.id)
	results <- fetchResult{snap: snap, err: err}
}

// apply handles one fetch outcome and returns the next interval and whether
// to keep polling.
func (p *poller) apply(ctx context.Context, res fetchResult) (time.Duration, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	if res.err == nil {
		res.err = p.normalise(&res.snap)
	}
	if res.err != nil {
		p.failed(ctx, res.err)
		return p.interval, true
	}

	p.streak.Store(0)
	written, err := p.commit(ctx, res.snap)
	if err != nil {
		// Treat a cache failure like a failed poll: keep going and retry.
		p.log.LogErrorf("store snapshot for %s: %v", p.id, err)
		return p.interval, true
	}
	if !written {
		return 0, false
	}
	next, keep := pollInterval(res.snap.Status, p.interval)
	if !keep {
		p.log.LogInfof("job %s reached %s after %d polls", p.id, res.snap.Status, p.fetches.Load())
	}
	return next, keep
}

func (p *poller) normalise(snap *Snapshot) error {
	if snap.JobID == "" {
		snap.JobID = p.id
	}
	if snap.JobID != p.id {
		return fmt.Errorf("backend answered for job %s", snap.JobID)
	}
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = p.now()
	}
	snap.Stalled = false
	snap.FailedPolls = 0
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}

func (p *poller) failed(ctx context.Context, err error) {
	n := p.streak.Add(1)
	p.failures.Add(1)
	ferr := &FetchError{JobID: p.id, Attempt: int(n), Err: err}
	p.log.LogWarnf("%v", ferr)

	if int(n) < p.stallAfter {
		return
	}
	stalled := p.last
	stalled.Stalled = true
	stalled.FailedPolls = int(n)
	if int(n) == p.stallAfter {
		p.log.LogWarnf("job %s stalled after %d consecutive failed polls", p.id, n)
	}
	if _, err := p.commit(ctx, stalled); err != nil {
		p.log.LogErrorf("store stalled snapshot for %s: %v", p.id, err)
	}
}

// commit writes snap unless the poller has been stopped. It reports whether
// the write happened.
func (p *poller) commit(ctx context.Context, snap Snapshot) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false, nil
	}
	if err := p.store(ctx, snap); err != nil {
		return true, err
	}
	p.last = snap
	if snap.Status.IsTerminal() {
		p.stopped = true
	}
	p.publish(snap)
	return true, nil
}

// subscribe registers a subscriber primed with the last committed snapshot.
// Holding mu orders the registration against commit, so the subscriber
// either sees a snapshot in its first value or is registered before it is
// published. Once stopped, the subscriber gets the final snapshot and a
// closed channel.
func (p *poller) subscribe(n *notifier) (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, unsubscribe := n.add(p.id, p.last, !p.stopped)
	return sub.ch, unsubscribe
}

// stop prevents any further cache write and ends the run loop. It is safe to
// call more than once.
func (p *poller) stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cancel()
}

func (p *poller) stats() PollStats {
	return PollStats{
		Ticks:               p.ticks.Load(),
		Fetches:             p.fetches.Load(),
		SkippedTicks:        p.skipped.Load(),
		Failures:            p.failures.Load(),
		ConsecutiveFailures: p.streak.Load(),
	}
}
