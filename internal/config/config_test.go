// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "autofill", cfg.Logger().ServiceName)
	assert.Equal(t, "ws://127.0.0.1:9222", cfg.Browser().RemoteURL)
	assert.Equal(t, 1, cfg.Fill().MaxSteps)
	assert.Equal(t, 300*time.Millisecond, cfg.Fill().Timing.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Fill().Timing.QuiescenceBudget)
	assert.Equal(t, 2*time.Second, cfg.Fill().Timing.SettleInterval)
	assert.Equal(t, 35*time.Millisecond, cfg.Fill().Timing.KeyDelayMin)
	assert.Equal(t, 125*time.Millisecond, cfg.Fill().Timing.KeyDelayMax)
	assert.Empty(t, cfg.Database().URL)
	require.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Browser endpoint", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.BrowserCfg.RemoteURL = ""
		assert.ErrorContains(t, cfg.Validate(), "browser.remote_url is required")

		cfg.BrowserCfg.RemoteURL = "ftp://127.0.0.1:9222"
		assert.ErrorContains(t, cfg.Validate(), "must use ws, wss, http or https")

		cfg.BrowserCfg.RemoteURL = "http://127.0.0.1:9222"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Fill limits", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.FillCfg.MaxSteps = 0
		assert.ErrorContains(t, cfg.Validate(), "fill.max_steps")

		cfg = NewDefaultConfig()
		cfg.FillCfg.Timing.Debounce = -time.Second
		assert.ErrorContains(t, cfg.Validate(), "fill.timing.debounce")

		cfg = NewDefaultConfig()
		cfg.FillCfg.Timing.KeyDelayMax = time.Millisecond
		assert.ErrorContains(t, cfg.Validate(), "key_delay_max")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	yamlConfig := []byte(`
logger:
  level: debug
browser:
  remote_url: http://localhost:9333
  target_url_contains: eloket
fill:
  max_steps: 3
  timing:
    debounce: 150ms
  run:
    fieldDetection:
      timeout: 2500
      fuzzyMatching: false
    autoSubmit: true
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "http://localhost:9333", cfg.Browser().RemoteURL)
	assert.Equal(t, "eloket", cfg.Browser().TargetURLContains)
	assert.Equal(t, 3, cfg.Fill().MaxSteps)
	assert.Equal(t, 150*time.Millisecond, cfg.Fill().Timing.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Fill().Timing.SettleInterval, "unset values keep defaults")

	run := NormalizeRunConfig(cfg.Fill().Run, nil)
	assert.Equal(t, 2500*time.Millisecond, run.FieldDetection.Timeout)
	assert.False(t, run.FieldDetection.FuzzyMatching)
	assert.True(t, run.AutoSubmit)
	assert.Equal(t, 3, run.FieldDetection.RetryAttempts)
}

func TestNewConfigFromViper_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("fill.max_steps", 0)

	_, err := NewConfigFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
