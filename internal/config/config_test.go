package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, 32, cfg.Pipeline.MaxWorkers)
	assert.Equal(t, 2, cfg.GSV.Zoom)
	assert.Equal(t, 4, cfg.GSV.HTiles)
	assert.Equal(t, 2, cfg.GSV.VTiles)
	assert.Equal(t, 1024, cfg.MLY.Resolution)
	assert.InDelta(t, 50, cfg.MLY.SearchRadius, 0.001)
	assert.Equal(t, "https://nominatim.openstreetmap.org", cfg.Geocode.BaseURL)
	assert.Equal(t, 30, cfg.Geocode.CacheTTL)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
gsv:
  api_key: secret
  zoom: 4
mly:
  token: tok
pipeline:
  batch_size: 250
log:
  level: debug
`
	require.NoError(t, os.WriteFile("config.yaml", []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.GSV.APIKey)
	assert.Equal(t, 4, cfg.GSV.Zoom)
	assert.Equal(t, "tok", cfg.MLY.Token)
	assert.Equal(t, 250, cfg.Pipeline.BatchSize)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched defaults survive.
	assert.Equal(t, 32, cfg.Pipeline.MaxWorkers)
}

func TestLoadFromEnv(t *testing.T) {
	chTempDir(t)
	t.Setenv("SVI_GSV_API_KEY", "env-key")
	t.Setenv("SVI_MLY_TOKEN", "env-tok")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.GSV.APIKey)
	assert.Equal(t, "env-tok", cfg.MLY.Token)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
