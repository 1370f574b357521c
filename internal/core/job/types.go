package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ID is the backend-issued job identifier. It is opaque to the engine.
type ID string

func (id ID) String() string { return string(id) }

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ParseStatus maps a backend status string (PENDING, RUNNING, COMPLETED,
// FAILED, any case) to a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown job status %q", s)
	}
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further state change is expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Snapshot is the state of a job as seen by one poll. Treat it as a value:
// the cache hands out copies.
type Snapshot struct {
	JobID  ID     `json:"job_id"`
	Status Status `json:"status"`
	// Result is the backend's payload for a completed job, kept verbatim.
	Result json.RawMessage `json:"result,omitempty"`
	// Failure is the backend's failure detail for a failed job.
	Failure string `json:"failure,omitempty"`
	// FetchedAt is zero until the first successful poll.
	FetchedAt time.Time `json:"fetched_at"`
	// Stalled is set once consecutive poll failures reach the stall
	// threshold. Status and Result are the last known good values.
	Stalled     bool `json:"stalled,omitempty"`
	FailedPolls int  `json:"failed_polls,omitempty"`
}

// NewPending returns the snapshot recorded at submission time.
func NewPending(id ID) Snapshot {
	return Snapshot{JobID: id, Status: StatusPending}
}

// Fetched reports whether the snapshot came from a poll.
func (s Snapshot) Fetched() bool { return !s.FetchedAt.IsZero() }

// Clone returns a copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	if s.Result != nil {
		s.Result = append(json.RawMessage(nil), s.Result...)
	}
	return s
}

var (
	errMissingID      = errors.New("snapshot has no job id")
	errResultMismatch = errors.New("result must be present if and only if status is completed")
	errFailureMissing = errors.New("failed snapshot must carry a failure description")
	errFailureOnly    = errors.New("failure description is only valid for failed snapshots")
)

// Validate checks the snapshot invariants.
func (s Snapshot) Validate() error {
	if s.JobID == "" {
		return errMissingID
	}
	if !s.Status.Valid() {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if (s.Status == StatusCompleted) != (len(s.Result) > 0) {
		return errResultMismatch
	}
	if s.Status == StatusFailed && s.Failure == "" {
		return errFailureMissing
	}
	if s.Status != StatusFailed && s.Failure != "" {
		return errFailureOnly
	}
	return nil
}
