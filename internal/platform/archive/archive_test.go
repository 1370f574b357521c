package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signalboard/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLocal(t *testing.T) {
	dir := t.TempDir()
	s, err := New(config.Config{AppEnv: "test", DataDir: dir})
	require.NoError(t, err)
	assert.False(t, s.Remote())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC) }

	loc, err := s.Save(context.Background(), "run/abc 123", []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.Equal(t, "local", loc.Backend)
	assert.Equal(t, "/files/backtests/20240301_123000_run_abc_123.json", loc.URL)
	assert.Equal(t, filepath.Join(dir, "backtests", "20240301_123000_run_abc_123.json"), loc.Path)

	b, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(b))
}

func TestProductionRequiresSupabase(t *testing.T) {
	_, err := New(config.Config{AppEnv: "production", DataDir: t.TempDir()})
	assert.Error(t, err)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "abc-123", sanitize("abc-123"))
	assert.Equal(t, "a_b", sanitize("../a/b"))
	assert.Equal(t, "result", sanitize("///"))
	assert.Len(t, sanitize(string(make([]byte, 200))+"x"), 1)
}
