package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"PENDING":     StatusPending,
		"running":     StatusRunning,
		" Completed ": StatusCompleted,
		"FAILED":      StatusFailed,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseStatus("CANCELLED")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestSnapshotValidate(t *testing.T) {
	ok := []Snapshot{
		NewPending("a"),
		{JobID: "a", Status: StatusRunning},
		{JobID: "a", Status: StatusCompleted, Result: json.RawMessage(`{}`)},
		{JobID: "a", Status: StatusFailed, Failure: "boom"},
	}
	for _, s := range ok {
		assert.NoError(t, s.Validate(), s.Status)
	}

	bad := []Snapshot{
		{Status: StatusPending},
		{JobID: "a", Status: "weird"},
		{JobID: "a", Status: StatusCompleted},
		{JobID: "a", Status: StatusRunning, Result: json.RawMessage(`{}`)},
		{JobID: "a", Status: StatusFailed},
		{JobID: "a", Status: StatusRunning, Failure: "boom"},
	}
	for _, s := range bad {
		assert.Error(t, s.Validate(), "%+v", s)
	}
}

func TestSnapshotCloneDoesNotShareResult(t *testing.T) {
	s := Snapshot{JobID: "a", Status: StatusCompleted, Result: json.RawMessage(`{"x":1}`)}
	c := s.Clone()
	c.Result[2] = 'y'
	assert.Equal(t, `{"x":1}`, string(s.Result))
}

func TestSnapshotFetched(t *testing.T) {
	s := NewPending("a")
	assert.False(t, s.Fetched())
	s.FetchedAt = time.Now()
	assert.True(t, s.Fetched())
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache()

	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Error(t, c.Put(ctx, Snapshot{Status: StatusPending}))

	require.NoError(t, c.Put(ctx, NewPending("a")))
	require.NoError(t, c.Put(ctx, Snapshot{JobID: "a", Status: StatusRunning}))
	got, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 1, c.Len())

	require.NoError(t, c.Delete(ctx, "a"))
	assert.Equal(t, 0, c.Len())
}

func TestPollInterval(t *testing.T) {
	d, keep := pollInterval(StatusPending, time.Second)
	assert.True(t, keep)
	assert.Equal(t, time.Second, d)

	_, keep = pollInterval(StatusRunning, time.Second)
	assert.True(t, keep)

	_, keep = pollInterval(StatusCompleted, time.Second)
	assert.False(t, keep)
	_, keep = pollInterval(StatusFailed, time.Second)
	assert.False(t, keep)
}
