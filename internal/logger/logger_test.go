package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithConfig_WritesComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig("Poller", Config{AppEnv: "development", Out: &buf})

	l.LogInfof("armed %s", "abc123")

	assert.Contains(t, buf.String(), "[Poller] armed abc123")
}

func TestLevelPerEnvironment(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig("Tracker", Config{AppEnv: "production", Out: &buf})

	l.LogDebugf("hidden")
	assert.Empty(t, buf.String())

	l.LogWarnf("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestJobChildLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig("Tracker", Config{AppEnv: "development", Out: &buf}).Job("run-1")

	l.LogInfo("submitted")

	assert.Contains(t, buf.String(), "run-1")
	assert.Equal(t, "Tracker", l.Component())
}

func TestNop(t *testing.T) {
	l := Nop()
	l.LogErrorf("dropped %d", 1)
	l.LogError("dropped", nil)
}

func TestNewWithWriter_Fields(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	var buf bytes.Buffer
	l := NewWithWriter("DataService", &buf)

	l.WithFields(map[string]interface{}{"task_id": "t-1"}).Msg("task queued")

	assert.Contains(t, buf.String(), "[DataService] task queued")
	assert.Contains(t, buf.String(), "t-1")
}
