package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "plume-cache.db", cfg.Cache.SQLitePath)
	assert.Equal(t, 256, cfg.Cache.MemoryEntries)
	assert.Equal(t, 15, cfg.Cache.IDWTTLMins)
	assert.Equal(t, 60, cfg.Cache.KrigingTTLMins)

	assert.Equal(t, 3, cfg.Interp.MinNeighbors)
	assert.InDelta(t, 10000, cfg.Interp.SearchRadiusM, 1e-9)
	assert.InDelta(t, 2.0, cfg.Interp.Power, 1e-9)
	assert.Equal(t, 16, cfg.Interp.MaxNeighbors)
	assert.InDelta(t, 5.0, cfg.Interp.CalibrationSigma, 1e-9)

	assert.InDelta(t, 10.0, cfg.Tile.UncertaintyThreshold, 1e-9)
	assert.InDelta(t, 0.0625, cfg.Tile.BufferFraction, 1e-9)

	assert.Empty(t, cfg.Satellite.BaseURL)
	assert.Equal(t, 3, cfg.Satellite.MaxRetries)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
cache:
  driver: postgres
  database_url: postgres://localhost/plume
server:
  port: 9090
interp:
  min_neighbors: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Cache.Driver)
	assert.Equal(t, "postgres://localhost/plume", cfg.Cache.DatabaseURL)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Interp.MinNeighbors)

	// Untouched keys keep their defaults.
	assert.Equal(t, 15, cfg.Cache.IDWTTLMins)
	assert.InDelta(t, 2.0, cfg.Interp.Power, 1e-9)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PLUME_CACHE_DRIVER", "none")
	t.Setenv("PLUME_SERVER_PORT", "7070")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "none", cfg.Cache.Driver)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("cache: ["), 0o644))
	t.Chdir(dir)

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "loud", Format: "json"}))
}
