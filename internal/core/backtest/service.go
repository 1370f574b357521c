package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"signalboard/internal/core/job"
	"signalboard/internal/logger"
	"signalboard/internal/platform/archive"
)

// Archiver persists a finished run.
type Archiver interface {
	Save(ctx context.Context, name string, data []byte) (archive.Location, error)
}

type Options struct {
	// ReplacePrevious cancels the previously started run whenever a new one
	// is submitted, so only one run is polled at a time.
	ReplacePrevious bool
}

type Service struct {
	log     *logger.Logger
	tracker *job.Tracker
	archive Archiver
	opts    Options

	// runMu serialises Run when ReplacePrevious is set, so the run that stays
	// polled is always the last one the backend accepted.
	runMu sync.Mutex

	mu       sync.Mutex
	current  job.ID
	archived map[job.ID]archive.Location
}

// NewService wires the service to tracker. store may be nil, in which case
// finished runs are not archived.
func NewService(tracker *job.Tracker, store Archiver, opts Options) *Service {
	s := &Service{
		log:      logger.New("BacktestService"),
		tracker:  tracker,
		archive:  store,
		opts:     opts,
		archived: make(map[job.ID]archive.Location),
	}
	if store != nil {
		tracker.OnTerminal(s.archiveRun)
	}
	return s
}

// View is a snapshot plus its decoded result.
type View struct {
	job.Snapshot
	Result  *Result
	Polling bool
	Archive *archive.Location
}

// Run validates p and submits it. The returned ID is set whenever the
// backend accepted the run, even if err is not nil.
func (s *Service) Run(ctx context.Context, p Params) (job.ID, error) {
	req, err := p.Request()
	if err != nil {
		return "", err
	}
	if s.opts.ReplacePrevious {
		s.runMu.Lock()
		defer s.runMu.Unlock()
	}
	id, err := s.tracker.Submit(ctx, req)
	if id == "" {
		return "", err
	}

	if s.opts.ReplacePrevious {
		s.mu.Lock()
		prev := s.current
		s.current = id
		s.mu.Unlock()
		if prev != "" && prev != id {
			s.tracker.Cancel(prev)
			s.log.LogInfof("run %s replaced by %s", prev, id)
		}
	}
	return id, err
}

// Track follows a run submitted by another process.
func (s *Service) Track(ctx context.Context, id job.ID) (View, error) {
	if _, err := s.tracker.Track(ctx, id); err != nil {
		return View{}, err
	}
	return s.Status(ctx, id)
}

func (s *Service) Status(ctx context.Context, id job.ID) (View, error) {
	snap, ok, err := s.tracker.Observe(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !ok {
		return View{}, job.ErrNotFound
	}
	return s.view(snap)
}

func (s *Service) view(snap job.Snapshot) (View, error) {
	v := View{Snapshot: snap, Polling: s.tracker.Active(snap.JobID)}
	if snap.Status == job.StatusCompleted {
		r, err := DecodeResult(snap.Result)
		if err != nil {
			return View{}, err
		}
		v.Result = r
	}
	if loc, ok := s.Archived(snap.JobID); ok {
		v.Archive = &loc
	}
	return v, nil
}

// Watch follows id until it is terminal. See job.Tracker.Subscribe.
func (s *Service) Watch(ctx context.Context, id job.ID) (<-chan job.Snapshot, func(), error) {
	return s.tracker.Subscribe(ctx, id)
}

// Cancel stops polling id. It returns job.ErrNotFound for an unknown run.
func (s *Service) Cancel(ctx context.Context, id job.ID) error {
	if _, ok, err := s.tracker.Observe(ctx, id); err != nil {
		return err
	} else if !ok {
		return job.ErrNotFound
	}
	s.tracker.Cancel(id)
	return nil
}

// Forget stops polling id and drops everything known about it.
func (s *Service) Forget(ctx context.Context, id job.ID) error {
	if err := s.Cancel(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.archived, id)
	if s.current == id {
		s.current = ""
	}
	s.mu.Unlock()
	return s.tracker.Forget(ctx, id)
}

func (s *Service) Archived(id job.ID) (archive.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.archived[id]
	return loc, ok
}

func (s *Service) archiveRun(ctx context.Context, snap job.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		s.log.LogErrorf("encode run %s for archive: %v", snap.JobID, err)
		return
	}
	loc, err := s.archive.Save(ctx, string(snap.JobID), data)
	if err != nil {
		s.log.LogErrorf("archive run %s: %v", snap.JobID, err)
		return
	}
	s.mu.Lock()
	s.archived[snap.JobID] = loc
	s.mu.Unlock()
	s.log.LogInfof("run %s %s, archived to %s", snap.JobID, snap.Status, loc.URL)
}

// IsNotFound reports whether err means the run is unknown.
func IsNotFound(err error) bool { return errors.Is(err, job.ErrNotFound) }
