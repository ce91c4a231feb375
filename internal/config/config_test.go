package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "schema.yaml", cfg.Schema.Path)
	assert.Empty(t, cfg.Schema.AliasPath)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "edcfill.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
	assert.InDelta(t, 0.80, cfg.Normalize.SimilarityThreshold, 0.001)
	assert.Equal(t, 4, cfg.Normalize.Concurrency)
	assert.InDelta(t, 0.85, cfg.Mapping.AutoAcceptThreshold, 0.001)
	assert.InDelta(t, 0.01, cfg.Mapping.ConflictTolerance, 0.001)
	assert.InDelta(t, 0.15, cfg.Mapping.UnitPenalty, 0.001)
	assert.InDelta(t, 0.25, cfg.Mapping.RangePenalty, 0.001)
	assert.Equal(t, 3, cfg.Fill.MaxLocateAttempts)
	assert.Equal(t, 3, cfg.Fill.MaxWriteAttempts)
	assert.Equal(t, 30, cfg.Fill.CallTimeoutSecs)
	assert.InDelta(t, 2.0, cfg.Fill.ActionsPerSecond, 0.001)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/edcfill
schema:
  path: forms/visit1.yaml
mapping:
  auto_accept_threshold: 0.9
fill:
  form_url: https://edc.example.com/form/1
  max_write_attempts: 5
log:
  level: debug
  format: console
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "forms/visit1.yaml", cfg.Schema.Path)
	assert.InDelta(t, 0.9, cfg.Mapping.AutoAcceptThreshold, 0.001)
	assert.Equal(t, "https://edc.example.com/form/1", cfg.Fill.FormURL)
	assert.Equal(t, 5, cfg.Fill.MaxWriteAttempts)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Fill.MaxLocateAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("EDCFILL_STORE_DRIVER", "postgres")
	t.Setenv("EDCFILL_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("EDCFILL_SERVER_PORT", "3000")
	t.Setenv("EDCFILL_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestCallTimeout(t *testing.T) {
	f := FillConfig{CallTimeoutSecs: 45}
	assert.Equal(t, 45*time.Second, f.CallTimeout())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
