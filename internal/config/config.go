// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Fill() FillConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	FillCfg     FillConfig     `mapstructure:"fill" yaml:"fill"`
}

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Fill() FillConfig         { return c.FillCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the connection details for run history. An empty URL
// disables persistence.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig describes how to reach the already running Chrome instance.
type BrowserConfig struct {
	// RemoteURL is the DevTools endpoint, either ws:// or http://.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	// TargetURLContains selects the first page tab whose URL contains it.
	TargetURLContains string        `mapstructure:"target_url_contains" yaml:"target_url_contains"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// ActionTimeout bounds every single DevTools round trip.
	ActionTimeout time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
}

// FillConfig groups everything that shapes a fill run.
type FillConfig struct {
	// Run holds raw run options. They are normalized with NormalizeRunConfig
	// so that a malformed value never fails configuration loading.
	Run      map[string]interface{} `mapstructure:"run" yaml:"run"`
	MaxSteps int                    `mapstructure:"max_steps" yaml:"max_steps"`
	Timing   TimingConfig           `mapstructure:"timing" yaml:"timing"`
}

// TimingConfig holds the heuristic timing windows. Every wait is best effort.
type TimingConfig struct {
	Debounce         time.Duration `mapstructure:"debounce" yaml:"debounce"`
	QuiescenceBudget time.Duration `mapstructure:"quiescence_budget" yaml:"quiescence_budget"`
	FinalBudget      time.Duration `mapstructure:"final_budget" yaml:"final_budget"`
	NavigationBudget time.Duration `mapstructure:"navigation_budget" yaml:"navigation_budget"`
	SettleInterval   time.Duration `mapstructure:"settle_interval" yaml:"settle_interval"`
	KeyDelayMin      time.Duration `mapstructure:"key_delay_min" yaml:"key_delay_min"`
	KeyDelayMax      time.Duration `mapstructure:"key_delay_max" yaml:"key_delay_max"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

// NewDefaultConfig returns a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autofill")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.remote_url", "ws://127.0.0.1:9222")
	v.SetDefault("browser.target_url_contains", "")
	v.SetDefault("browser.connect_timeout", "10s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.action_timeout", "15s")

	// -- Fill --
	v.SetDefault("fill.run", map[string]interface{}{})
	v.SetDefault("fill.max_steps", 1)
	v.SetDefault("fill.timing.debounce", "300ms")
	v.SetDefault("fill.timing.quiescence_budget", "2s")
	v.SetDefault("fill.timing.final_budget", "5s")
	v.SetDefault("fill.timing.navigation_budget", "10s")
	v.SetDefault("fill.timing.settle_interval", "2s")
	v.SetDefault("fill.timing.key_delay_min", "35ms")
	v.SetDefault("fill.timing.key_delay_max", "125ms")
	v.SetDefault("fill.timing.retry_base_delay", "1s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password.
	_ = v.BindEnv("database.url", "AUTOFILL_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Run options are deliberately absent here: they are normalized, not validated.
func (c *Config) Validate() error {
	if err := c.BrowserCfg.Validate(); err != nil {
		return err
	}
	return c.FillCfg.Validate()
}

// Validate checks the browser endpoint.
func (b *BrowserConfig) Validate() error {
	if b.RemoteURL == "" {
		return fmt.Errorf("browser.remote_url is required")
	}
	u, err := url.Parse(b.RemoteURL)
	if err != nil {
		return fmt.Errorf("browser.remote_url is invalid: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("browser.remote_url must use ws, wss, http or https, got %q", u.Scheme)
	}
	return nil
}

// Validate checks the step limit and timing windows.
func (f *FillConfig) Validate() error {
	if f.MaxSteps < 1 {
		return fmt.Errorf("fill.max_steps must be at least 1")
	}
	t := f.Timing
	for name, d := range map[string]time.Duration{
		"debounce":          t.Debounce,
		"quiescence_budget": t.QuiescenceBudget,
		"final_budget":      t.FinalBudget,
		"navigation_budget": t.NavigationBudget,
		"settle_interval":   t.SettleInterval,
		"key_delay_min":     t.KeyDelayMin,
		"key_delay_max":     t.KeyDelayMax,
		"retry_base_delay":  t.RetryBaseDelay,
	} {
		if d < 0 {
			return fmt.Errorf("fill.timing.%s must not be negative", name)
		}
	}
	if t.KeyDelayMax < t.KeyDelayMin {
		return fmt.Errorf("fill.timing.key_delay_max must not be below key_delay_min")
	}
	return nil
}
