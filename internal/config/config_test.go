package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_MatchesRecognizedOptions(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 20*time.Minute, cfg.Window.FirstPredictDelay)
	assert.Equal(t, 10*time.Minute, cfg.Window.PauseDuration)
	assert.Equal(t, 3, cfg.Window.PauseThreshold)
	assert.Equal(t, 3, cfg.Admission.DailyCap)
	assert.Equal(t, 1, cfg.Admission.WindowCap)
	assert.Equal(t, 6*time.Hour, cfg.Admission.MinGap)
	assert.Equal(t, 15*time.Second, cfg.Engine.Debounce)
	assert.Equal(t, 60*time.Second, cfg.Signals.CacheTTL)
	assert.Equal(t, 0.75, cfg.Reactivation.MinSimilarity)
	assert.Equal(t, 0.2, cfg.Reactivation.HitRateAlpha)

	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("timezone: America/Sao_Paulo\nadmission:\n  daily_cap: 5\nwindow:\n  pause_threshold: 4\n")
	require.NoError(t, os.WriteFile(path, body, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "America/Sao_Paulo", cfg.Timezone)
	assert.Equal(t, 5, cfg.Admission.DailyCap)
	assert.Equal(t, 4, cfg.Window.PauseThreshold)
	// untouched sections keep defaults
	assert.Equal(t, 0.22, cfg.Scoring.GapPressure)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db.internal:5432/engine")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://db.internal:5432/engine", cfg.Database.URL)
}

func TestValidate_RejectsBadWeights(t *testing.T) {
	cfg := Default()
	cfg.Scoring.GapPressure = -0.1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Reactivation.MinSimilarity = 1.5
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Timezone = "Mars/Olympus"
	assert.Error(t, cfg.Validate())
}
