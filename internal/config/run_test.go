// File: internal/config/run_test.go
package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizeRunConfig_Defaults(t *testing.T) {
	got := NormalizeRunConfig(nil, nil)
	want := RunConfig{
		FieldDetection: FieldDetectionConfig{Timeout: 5 * time.Second, RetryAttempts: 3, FuzzyMatching: true},
		Population:     PopulationConfig{DelayBetweenFields: 500 * time.Millisecond, TriggerEvents: true, SkipReadonly: true},
		Validation:     ValidationConfig{WaitForValidation: true, RetryOnError: true, SkipInvalidFields: false},
		AutoSubmit:     false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeRunConfig_InvalidValuesFallBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	raw := map[string]interface{}{
		"fieldDetection": map[string]interface{}{
			"timeout":       -1,
			"retryAttempts": 2.5,
			"fuzzyMatching": "yes",
		},
		"population": map[string]interface{}{
			"delayBetweenFields": 100,
			"triggerEvents":      false,
		},
		"validation": "off",
		"autoSubmit": 1,
	}
	got := NormalizeRunConfig(raw, logger)

	assert.Equal(t, 5*time.Second, got.FieldDetection.Timeout, "negative timeout falls back")
	assert.Equal(t, 3, got.FieldDetection.RetryAttempts, "fractional count falls back")
	assert.True(t, got.FieldDetection.FuzzyMatching, "string boolean falls back")
	assert.Equal(t, 100*time.Millisecond, got.Population.DelayBetweenFields)
	assert.False(t, got.Population.TriggerEvents)
	assert.True(t, got.Population.SkipReadonly)
	assert.True(t, got.Validation.WaitForValidation, "non-object section keeps defaults")
	assert.False(t, got.AutoSubmit)

	assert.Equal(t, 5, logs.Len(), "one warning per rejected value")
	assert.Equal(t, 1, logs.FilterField(zap.String("option", "fieldDetection.timeout")).Len())
}

func TestNormalizeRunConfig_DurationOverflowFallsBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	raw := map[string]interface{}{
		"fieldDetection": map[string]interface{}{"timeout": 1e20},
		"population":     map[string]interface{}{"delayBetweenFields": 1e13},
	}
	got := NormalizeRunConfig(raw, zap.New(core))

	assert.Equal(t, 5*time.Second, got.FieldDetection.Timeout)
	assert.Equal(t, 500*time.Millisecond, got.Population.DelayBetweenFields)
	assert.Equal(t, 2, logs.Len())

	// The largest representable value is still accepted.
	got = NormalizeRunConfig(map[string]interface{}{
		"fieldDetection": map[string]interface{}{"timeout": 9e12},
	}, zap.NewNop())
	assert.Equal(t, 9e12*float64(time.Millisecond), float64(got.FieldDetection.Timeout))
	assert.Positive(t, got.FieldDetection.Timeout)
}

func TestNormalizeRunConfig_CaseInsensitiveKeys(t *testing.T) {
	// viper lower-cases keys read from config files.
	raw := map[string]interface{}{
		"fielddetection": map[string]interface{}{"retryattempts": 5},
		"autosubmit":     true,
	}
	got := NormalizeRunConfig(raw, zap.NewNop())
	assert.Equal(t, 5, got.FieldDetection.RetryAttempts)
	assert.True(t, got.AutoSubmit)
}

func TestMergeOptions(t *testing.T) {
	base := map[string]interface{}{
		"fieldDetection": map[string]interface{}{"timeout": 1000, "fuzzyMatching": false},
		"autoSubmit":     false,
	}
	override := map[string]interface{}{
		"fieldDetection": map[interface{}]interface{}{"timeout": 2000},
		"autoSubmit":     true,
	}
	merged := MergeOptions(base, override)

	fd, ok := merged["fielddetection"].(map[string]interface{})
	if assert.True(t, ok) {
		assert.Equal(t, 2000, fd["timeout"])
		assert.Equal(t, false, fd["fuzzymatching"])
	}
	assert.Equal(t, true, merged["autosubmit"])
	// Inputs are not mutated.
	assert.Equal(t, 1000, base["fieldDetection"].(map[string]interface{})["timeout"])
}
