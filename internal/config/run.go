// File: internal/config/run.go
package config

import (
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FieldDetectionConfig controls how keys are resolved to elements.
type FieldDetectionConfig struct {
	// Timeout is how long the resolver keeps looking for a late field.
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	RetryAttempts int           `json:"retryAttempts" yaml:"retry_attempts"`
	FuzzyMatching bool          `json:"fuzzyMatching" yaml:"fuzzy_matching"`
}

// PopulationConfig controls how values are written.
type PopulationConfig struct {
	DelayBetweenFields time.Duration `json:"delayBetweenFields" yaml:"delay_between_fields"`
	TriggerEvents      bool          `json:"triggerEvents" yaml:"trigger_events"`
	SkipReadonly       bool          `json:"skipReadonly" yaml:"skip_readonly"`
}

// ValidationConfig controls the post-population error scan.
type ValidationConfig struct {
	WaitForValidation bool `json:"waitForValidation" yaml:"wait_for_validation"`
	RetryOnError      bool `json:"retryOnError" yaml:"retry_on_error"`
	SkipInvalidFields bool `json:"skipInvalidFields" yaml:"skip_invalid_fields"`
}

// RunConfig is the normalized option set for one fill run. Every duration
// and count is non-negative.
type RunConfig struct {
	FieldDetection FieldDetectionConfig `json:"fieldDetection" yaml:"field_detection"`
	Population     PopulationConfig     `json:"population" yaml:"population"`
	Validation     ValidationConfig     `json:"validation" yaml:"validation"`
	AutoSubmit     bool                 `json:"autoSubmit" yaml:"auto_submit"`
}

// DefaultRunConfig returns the documented defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		FieldDetection: FieldDetectionConfig{
			Timeout:       5000 * time.Millisecond,
			RetryAttempts: 3,
			FuzzyMatching: true,
		},
		Population: PopulationConfig{
			DelayBetweenFields: 500 * time.Millisecond,
			TriggerEvents:      true,
			SkipReadonly:       true,
		},
		Validation: ValidationConfig{
			WaitForValidation: true,
			RetryOnError:      true,
			SkipInvalidFields: false,
		},
		AutoSubmit: false,
	}
}

// MergeOptions deep-merges option layers; later layers win. Nested maps are
// merged key by key, everything else is replaced.
func MergeOptions(layers ...map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for _, layer := range layers {
		mergeInto(out, layer)
	}
	return out
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		key := strings.ToLower(k)
		srcMap, srcIsMap := asMap(v)
		if dstMap, ok := asMap(dst[key]); ok && srcIsMap {
			merged := make(map[string]interface{}, len(dstMap))
			mergeInto(merged, dstMap)
			mergeInto(merged, srcMap)
			dst[key] = merged
			continue
		}
		if srcIsMap {
			copied := make(map[string]interface{}, len(srcMap))
			mergeInto(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = v
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			if ks, ok := k.(string); ok {
				out[ks] = val
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// normalizer walks raw options and falls back to defaults on bad values.
type normalizer struct {
	logger *zap.Logger
}

// NormalizeRunConfig builds a RunConfig from raw, possibly untyped options.
// Keys match case-insensitively. Negative numbers, non-integral counts and
// values of the wrong type are replaced by defaults with a warning. It never
// fails.
func NormalizeRunConfig(raw map[string]interface{}, logger *zap.Logger) RunConfig {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := normalizer{logger: logger.Named("config")}
	cfg := DefaultRunConfig()
	opts := MergeOptions(raw)

	fd := n.section(opts, "fieldDetection")
	cfg.FieldDetection.Timeout = n.millis(fd, "fieldDetection.timeout", cfg.FieldDetection.Timeout)
	cfg.FieldDetection.RetryAttempts = n.count(fd, "fieldDetection.retryAttempts", cfg.FieldDetection.RetryAttempts)
	cfg.FieldDetection.FuzzyMatching = n.boolean(fd, "fieldDetection.fuzzyMatching", cfg.FieldDetection.FuzzyMatching)

	pop := n.section(opts, "population")
	cfg.Population.DelayBetweenFields = n.millis(pop, "population.delayBetweenFields", cfg.Population.DelayBetweenFields)
	cfg.Population.TriggerEvents = n.boolean(pop, "population.triggerEvents", cfg.Population.TriggerEvents)
	cfg.Population.SkipReadonly = n.boolean(pop, "population.skipReadonly", cfg.Population.SkipReadonly)

	val := n.section(opts, "validation")
	cfg.Validation.WaitForValidation = n.boolean(val, "validation.waitForValidation", cfg.Validation.WaitForValidation)
	cfg.Validation.RetryOnError = n.boolean(val, "validation.retryOnError", cfg.Validation.RetryOnError)
	cfg.Validation.SkipInvalidFields = n.boolean(val, "validation.skipInvalidFields", cfg.Validation.SkipInvalidFields)

	cfg.AutoSubmit = n.boolean(opts, "autoSubmit", cfg.AutoSubmit)
	return cfg
}

func (n normalizer) lookup(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	name := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		name = path[i+1:]
	}
	v, ok := m[strings.ToLower(name)]
	return v, ok
}

func (n normalizer) section(opts map[string]interface{}, name string) map[string]interface{} {
	v, ok := n.lookup(opts, name)
	if !ok {
		return nil
	}
	m, ok := asMap(v)
	if !ok {
		n.logger.Warn("Option section is not an object, using defaults.", zap.String("option", name), zap.Any("value", v))
		return nil
	}
	return m
}

func (n normalizer) boolean(m map[string]interface{}, path string, def bool) bool {
	v, ok := n.lookup(m, path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		n.logger.Warn("Option must be a boolean, using default.", zap.String("option", path), zap.Any("value", v), zap.Bool("default", def))
		return def
	}
	return b
}

// number reads a numeric option. present reports whether the key exists,
// valid whether it holds a finite non-negative number.
func (n normalizer) number(m map[string]interface{}, path string) (raw interface{}, f float64, present, valid bool) {
	v, ok := n.lookup(m, path)
	if !ok {
		return nil, 0, false, false
	}
	switch x := v.(type) {
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case float32:
		f = float64(x)
	case float64:
		f = x
	default:
		return v, 0, true, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return v, f, true, false
	}
	return v, f, true, true
}

// maxMillis is the largest millisecond value a time.Duration can hold.
const maxMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func (n normalizer) millis(m map[string]interface{}, path string, def time.Duration) time.Duration {
	raw, f, present, valid := n.number(m, path)
	if !present {
		return def
	}
	if !valid || f > maxMillis {
		n.logger.Warn("Option must be a non-negative number of milliseconds, using default.",
			zap.String("option", path), zap.Any("value", raw), zap.Duration("default", def))
		return def
	}
	return time.Duration(f * float64(time.Millisecond))
}

func (n normalizer) count(m map[string]interface{}, path string, def int) int {
	raw, f, present, valid := n.number(m, path)
	if !present {
		return def
	}
	if !valid || f != math.Trunc(f) || f > math.MaxInt32 {
		n.logger.Warn("Option must be a non-negative integer, using default.", zap.String("option", path), zap.Any("value", raw), zap.Int("default", def))
		return def
	}
	return int(f)
}
