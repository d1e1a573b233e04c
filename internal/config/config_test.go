package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "store", cfg.Dispatch.IdleDroneScope)
	assert.Equal(t, 0.004, cfg.Dispatch.DistancePerUnit)
	assert.Equal(t, 0.8, cfg.Dispatch.SafetyMargin)
	assert.Equal(t, "0 */10 * * * *", cfg.Scheduler.Cron)
	assert.Equal(t, 2*time.Second, cfg.Simulator.Tick())
	assert.Equal(t, "memory", cfg.Live.Driver)
	assert.Empty(t, cfg.Database.URL)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("dispatch:\n  idle_drone_scope: global\n  two_opt_passes: 3\nsimulator:\n  tick_ms: 500\nlive:\n  driver: redis\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "global", cfg.Dispatch.IdleDroneScope)
	assert.Equal(t, 3, cfg.Dispatch.TwoOptPasses)
	assert.Equal(t, 500*time.Millisecond, cfg.Simulator.Tick())
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://u:p@localhost/db", cfg.Database.URL)
	assert.Equal(t, "redis", cfg.Live.Driver)
	assert.Equal(t, "redis://cache:6379/1", cfg.Live.RedisURL)
	assert.Equal(t, "postgres", cfg.Summary()["store"])
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("dispatch:\n  idle_drone_scope: fleet\n"), 0o644))
	_, err := Load(dir)
	assert.ErrorContains(t, err, "idle_drone_scope")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("dispatch:\n  safety_margin: 1.5\n"), 0o644))
	_, err = Load(dir)
	assert.ErrorContains(t, err, "safety_margin")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("dispatch: [unclosed"), 0o644))
	_, err := Load(dir)
	assert.Error(t, err)
}
