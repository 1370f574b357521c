package job

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an ID the tracker has no snapshot for.
	ErrNotFound = errors.New("job not found")
	// ErrClosed is returned by Submit and Track after Close.
	ErrClosed = errors.New("tracker closed")
)

// SubmissionError means the backend did not accept a job. Rejected is true
// when the backend answered with a client error (validation failure); false
// when it was unreachable or failed to serve the request.
type SubmissionError struct {
	Rejected bool
	Err      error
}

func (e *SubmissionError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("submission rejected: %v", e.Err)
	}
	return fmt.Sprintf("submission failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// FetchError is a single failed status poll. The poller recovers from it on
// the next tick.
type FetchError struct {
	JobID ID
	// Attempt counts consecutive failures, starting at 1.
	Attempt int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("poll %s failed (attempt %d): %v", e.JobID, e.Attempt, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// clientError is implemented by backend errors that can tell a rejection
// from an outage.
type clientError interface {
	IsClientError() bool
}

func newSubmissionError(err error) *SubmissionError {
	var ce clientError
	return &SubmissionError{Rejected: errors.As(err, &ce) && ce.IsClientError(), Err: err}
}
