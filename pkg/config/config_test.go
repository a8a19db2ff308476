package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dnad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /var/lib/dna\nlog:\n  level: debug\n  json: true\nmax_workers: 8\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/dna", cfg.DataDir)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, Default().Retry, cfg.Retry)
}

func TestLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "warn"
	assert.Equal(t, "warn", string(cfg.LogLevel()))
}
