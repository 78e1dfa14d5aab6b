// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Resolver() ResolverConfig
	Observer() ObserverConfig
	Telemetry() TelemetryConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Resolver Setters
	SetResolverDefaultTimeout(d time.Duration)
	SetResolverUseFallbacks(bool)
}

// Config holds the entire application configuration. Access goes through the
// Interface's getter methods so callers cannot depend on the concrete layout.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ResolverCfg  ResolverConfig  `mapstructure:"resolver" yaml:"resolver"`
	ObserverCfg  ObserverConfig  `mapstructure:"observer" yaml:"observer"`
	TelemetryCfg TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Resolver() ResolverConfig   { return c.ResolverCfg }
func (c *Config) Observer() ObserverConfig   { return c.ObserverCfg }
func (c *Config) Telemetry() TelemetryConfig { return c.TelemetryCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string) { c.BrowserCfg.ExecPath = p }

func (c *Config) SetResolverDefaultTimeout(d time.Duration) { c.ResolverCfg.DefaultTimeout = d }
func (c *Config) SetResolverUseFallbacks(b bool)            { c.ResolverCfg.UseFallbacks = b }

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig controls the headless browser process.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
}

// ResolverConfig controls element resolution behavior.
type ResolverConfig struct {
	// DefaultTimeout bounds a wait when the caller supplies an invalid or
	// missing timeout. Never the cause of an unbounded wait.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// MaxFallbacks caps how many generated fallback selectors are attempted.
	MaxFallbacks int `mapstructure:"max_fallbacks" yaml:"max_fallbacks"`
	// UseFallbacks enables synthesized fallback candidates after the primary
	// selector set is exhausted.
	UseFallbacks bool `mapstructure:"use_fallbacks" yaml:"use_fallbacks"`
	// StepConcurrency bounds concurrent step validation in batch mode.
	StepConcurrency int `mapstructure:"step_concurrency" yaml:"step_concurrency"`
}

// ObserverConfig controls the bounded waiter and the lifecycle registry.
type ObserverConfig struct {
	// PollInterval is how often a registration re-checks its page-side
	// mutation flag.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// StalenessThreshold is the age past which a registration becomes
	// eligible for emergency cleanup.
	StalenessThreshold time.Duration `mapstructure:"staleness_threshold" yaml:"staleness_threshold"`
	// LeakThreshold is the live-registration count above which the registry
	// reports memory leak risk. Advisory only.
	LeakThreshold int `mapstructure:"leak_threshold" yaml:"leak_threshold"`
	// EvalRate caps page script evaluations per second across all live
	// registrations, so many concurrent waits cannot saturate the page.
	EvalRate float64 `mapstructure:"eval_rate" yaml:"eval_rate"`
}

// TelemetryConfig controls the performance monitor.
type TelemetryConfig struct {
	// SampleLimit bounds the retained search samples (ring semantics).
	SampleLimit int `mapstructure:"sample_limit" yaml:"sample_limit"`
	// SlowSearchThreshold is the mean search time above which the health
	// report recommends narrower selectors.
	SlowSearchThreshold time.Duration `mapstructure:"slow_search_threshold" yaml:"slow_search_threshold"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "anchor")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.ignore_tls_errors", false)

	// -- Resolver --
	v.SetDefault("resolver.default_timeout", "10s")
	v.SetDefault("resolver.max_fallbacks", 5)
	v.SetDefault("resolver.use_fallbacks", true)
	v.SetDefault("resolver.step_concurrency", 4)

	// -- Observer --
	v.SetDefault("observer.poll_interval", "100ms")
	v.SetDefault("observer.staleness_threshold", "30s")
	v.SetDefault("observer.leak_threshold", 20)
	v.SetDefault("observer.eval_rate", 50.0)

	// -- Telemetry --
	v.SetDefault("telemetry.sample_limit", 500)
	v.SetDefault("telemetry.slow_search_threshold", "500ms")
}

// Load reads configuration from an optional file path plus ANCHOR_* env
// variables and returns a validated Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("anchor")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ANCHOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}

	return NewConfigFromViper(v)
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if c.ResolverCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("resolver.default_timeout must be a positive duration")
	}
	if c.ResolverCfg.MaxFallbacks < 0 {
		return fmt.Errorf("resolver.max_fallbacks must not be negative")
	}
	if c.ResolverCfg.StepConcurrency <= 0 {
		return fmt.Errorf("resolver.step_concurrency must be a positive integer")
	}
	if c.ObserverCfg.PollInterval <= 0 {
		return fmt.Errorf("observer.poll_interval must be a positive duration")
	}
	if c.ObserverCfg.StalenessThreshold <= 0 {
		return fmt.Errorf("observer.staleness_threshold must be a positive duration")
	}
	if c.ObserverCfg.LeakThreshold <= 0 {
		return fmt.Errorf("observer.leak_threshold must be a positive integer")
	}
	if c.ObserverCfg.EvalRate <= 0 {
		return fmt.Errorf("observer.eval_rate must be positive")
	}
	if c.TelemetryCfg.SampleLimit <= 0 {
		return fmt.Errorf("telemetry.sample_limit must be a positive integer")
	}
	return nil
}
