package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 10, cfg.SyncBatchSize)
	assert.Equal(t, 30, cfg.SyncBatchTimeoutSeconds)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.CircuitFailureThreshold)
	assert.Equal(t, 60, cfg.CircuitRecoveryTimeoutSeconds)
	assert.Equal(t, 300, cfg.ErrorHistoryWindowSeconds)
	assert.Equal(t, 10000, cfg.OptimizeLargeChangeThreshold)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsyncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 8\nsync_batch_size: 25\n"), 0o600))

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 25, cfg.SyncBatchSize)
	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsyncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_count: 8\n"), 0o600))

	t.Setenv("TSYNC_WORKER_COUNT", "16")
	cfg, err := Load(WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.WorkerCount)
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 60e9, float64(cfg.RecoveryTimeout()))
	assert.Equal(t, 300e9, float64(cfg.ErrorHistoryWindow()))
	assert.Equal(t, 30e9, float64(cfg.SyncBatchTimeout()))
	assert.Equal(t, 6*60*60e9, float64(cfg.OptimizeInterval()))
}

func TestConfig_ConnectionTimeoutPerStore(t *testing.T) {
	cfg := Defaults()
	cfg.ConnectionTimeoutVector = 9
	cfg.ConnectionTimeoutGraph = 7
	cfg.ConnectionTimeoutRelational = 5

	assert.Equal(t, float64(9e9), float64(cfg.ConnectionTimeout("vector")))
	assert.Equal(t, float64(7e9), float64(cfg.ConnectionTimeout("graph")))
	assert.Equal(t, float64(5e9), float64(cfg.ConnectionTimeout("relational")))
}
