package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRADEBOOK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 500, cfg.SweepBatchSize)
	assert.True(t, filepath.IsAbs(cfg.DataDir))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRADEBOOK_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("QUEUE_POLL_MS", "250")
	t.Setenv("SWEEP_BATCH_SIZE", "100")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 100, cfg.SweepBatchSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TRADEBOOK_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "70000")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("PORT", "8001")
	t.Setenv("WORKER_COUNT", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestDatabasePaths(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{DataDir: dir}

	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.JournalDBPath())
	assert.Equal(t, filepath.Join(dir, "queue.db"), cfg.QueueDBPath())
}
