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

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, 60*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.Resolver().DefaultTimeout)
	assert.Equal(t, 5, cfg.Resolver().MaxFallbacks)
	assert.True(t, cfg.Resolver().UseFallbacks)
	assert.Equal(t, 100*time.Millisecond, cfg.Observer().PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Observer().StalenessThreshold)
	assert.Equal(t, 20, cfg.Observer().LeakThreshold)
	assert.Equal(t, 500, cfg.Telemetry().SampleLimit)
}

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero resolver timeout",
			mutate:  func(c *Config) { c.ResolverCfg.DefaultTimeout = 0 },
			wantErr: "resolver.default_timeout must be a positive duration",
		},
		{
			name:    "negative max fallbacks",
			mutate:  func(c *Config) { c.ResolverCfg.MaxFallbacks = -1 },
			wantErr: "resolver.max_fallbacks must not be negative",
		},
		{
			name:    "zero step concurrency",
			mutate:  func(c *Config) { c.ResolverCfg.StepConcurrency = 0 },
			wantErr: "resolver.step_concurrency must be a positive integer",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.ObserverCfg.PollInterval = 0 },
			wantErr: "observer.poll_interval must be a positive duration",
		},
		{
			name:    "negative staleness threshold",
			mutate:  func(c *Config) { c.ObserverCfg.StalenessThreshold = -time.Second },
			wantErr: "observer.staleness_threshold must be a positive duration",
		},
		{
			name:    "zero leak threshold",
			mutate:  func(c *Config) { c.ObserverCfg.LeakThreshold = 0 },
			wantErr: "observer.leak_threshold must be a positive integer",
		},
		{
			name:    "zero eval rate",
			mutate:  func(c *Config) { c.ObserverCfg.EvalRate = 0 },
			wantErr: "observer.eval_rate must be positive",
		},
		{
			name:    "zero sample limit",
			mutate:  func(c *Config) { c.TelemetryCfg.SampleLimit = 0 },
			wantErr: "telemetry.sample_limit must be a positive integer",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
logger:
  level: debug
  log_file: /var/log/anchor.log
resolver:
  default_timeout: 3s
  max_fallbacks: 2
observer:
  poll_interval: 250ms
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		err := v.ReadConfig(bytes.NewBuffer(yamlBytes))
		require.NoError(t, err)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logger().Level)
		assert.Equal(t, "/var/log/anchor.log", cfg.Logger().LogFile)
		assert.Equal(t, 3*time.Second, cfg.Resolver().DefaultTimeout)
		assert.Equal(t, 2, cfg.Resolver().MaxFallbacks)
		assert.Equal(t, 250*time.Millisecond, cfg.Observer().PollInterval)
		// Untouched sections keep their defaults.
		assert.Equal(t, 500, cfg.Telemetry().SampleLimit)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("observer.poll_interval", "0s") // Intentionally invalid

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "observer.poll_interval must be a positive duration")
	})
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("ANCHOR_RESOLVER_DEFAULT_TIMEOUT", "42s")
	t.Setenv("ANCHOR_BROWSER_HEADLESS", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 42*time.Second, cfg.Resolver().DefaultTimeout)
	assert.False(t, cfg.Browser().Headless)
}

// -- Setter Tests --

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()

	cfg.SetBrowserHeadless(false)
	assert.False(t, cfg.Browser().Headless)

	cfg.SetBrowserExecPath("/usr/bin/chromium")
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser().ExecPath)

	cfg.SetResolverDefaultTimeout(7 * time.Second)
	assert.Equal(t, 7*time.Second, cfg.Resolver().DefaultTimeout)

	cfg.SetResolverUseFallbacks(false)
	assert.False(t, cfg.Resolver().UseFallbacks)
}
