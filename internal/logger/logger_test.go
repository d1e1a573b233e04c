package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReleaseWritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	log := New("release", Options{Dir: dir, Filename: "release.log"})
	log.Info("flight_completed", zap.String("route_id", "r-1"))
	_ = log.Sync()

	body, err := os.ReadFile(filepath.Join(dir, "release.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"message":"flight_completed"`), string(body))
	assert.True(t, strings.Contains(string(body), `"route_id":"r-1"`))
}

func TestReleaseDebugLevelSuppressed(t *testing.T) {
	dir := t.TempDir()
	log := New("release", Options{Dir: dir, Filename: "quiet.log"})
	log.Debug("hidden")
	_ = log.Sync()

	body, err := os.ReadFile(filepath.Join(dir, "quiet.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(body), "hidden")
}

func TestResolveLogFilePathDefaults(t *testing.T) {
	dir := t.TempDir()
	got, err := resolveLogFilePath(Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, defaultFilename), got)
	_, err = os.Stat(got)
	assert.NoError(t, err)
}

func TestOrFallsBackToGlobal(t *testing.T) {
	own := zap.NewNop().Sugar()
	assert.Same(t, own, Or(own))
	assert.NotNil(t, Or(nil))
}

func TestPositiveOr(t *testing.T) {
	assert.Equal(t, 5, positiveOr(0, 5))
	assert.Equal(t, 5, positiveOr(-1, 5))
	assert.Equal(t, 3, positiveOr(3, 5))
}
