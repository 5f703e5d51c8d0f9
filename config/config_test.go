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

	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Timeout)
	assert.Equal(t, 90*time.Second, cfg.KeepAliveTimeout)
	assert.NotEmpty(t, cfg.DataDir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "pending-transfers.json"), cfg.QueueFile)
	assert.False(t, cfg.StrictBatch)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	raw := `data_dir: /srv/convoy
workers: 16
timeout: 5m
user_agent: convoy-ci
strict_batch: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convoy.yaml"), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "/srv/convoy", cfg.DataDir)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, "convoy-ci", cfg.UserAgent)
	assert.True(t, cfg.StrictBatch)
	assert.Equal(t, filepath.Join("/srv/convoy", "pending-transfers.json"), cfg.QueueFile)
}

func TestLoadExplicitQueueFile(t *testing.T) {
	dir := t.TempDir()
	raw := `queue_file: /var/lib/convoy/queue.json
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convoy.yaml"), []byte(raw), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/convoy/queue.json", cfg.QueueFile)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convoy.yaml"), []byte("workers: [unclosed"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}
