package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultedConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg), "defaults must unmarshal cleanly")
	return &cfg
}

// TestGetUninitialized verifies that calling Get() before Load() panics.
func TestGetUninitialized(t *testing.T) {
	prev := instance
	Set(nil)
	defer Set(prev)

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg := defaultedConfig(t)
	require.NoError(t, cfg.Validate(), "the built-in defaults must validate")

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.Equal(t, "manifold", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "normal", cfg.Browser.BehaviorPreset)
	assert.Equal(t, "~/.manifold", cfg.Storage.DataDir)
	assert.Equal(t, 10*time.Second, cfg.ProxyCheck.Timeout)
	assert.Equal(t, "https://checkip.amazonaws.com", cfg.ProxyCheck.ProbeURL)
	assert.Equal(t, "http://ip-api.com/json", cfg.ProxyCheck.GeoURL)
}

func TestLoadAppliesOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", 9001)
	v.Set("server.write_timeout", "5s")
	v.Set("logger.format", "json")
	v.Set("browser.behavior_preset", "cautious")

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.WriteTimeout, "duration strings must be decoded")
	assert.Equal(t, "json", cfg.Logger.Format)

	bcfg, err := cfg.Browser.BehaviorDefaults()
	require.NoError(t, err)
	assert.Equal(t, 38.0, bcfg.Typing.BaseWPM, "cautious preset must resolve through the browser config")

	assert.Same(t, cfg, Get(), "Load must install the instance returned by Get")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.port", 80)

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

// TestYAMLStructureMapping verifies that snake_case YAML keys map onto the
// struct fields, including the nested logger colors.
func TestYAMLStructureMapping(t *testing.T) {
	yamlInput := `
logger:
  level: debug
  format: json
  log_file: /var/log/manifold.log
  max_backups: 7
  colors:
    info: green
    error: red
server:
  host: 0.0.0.0
  port: 9100
  observer_buffer: 16
  write_timeout: 3s
browser:
  headless: false
  exec_path: /usr/bin/chromium
  ignore_tls_errors: true
  args: ["--lang=en-US"]
  navigation_timeout: 20s
  behavior_preset: fast
storage:
  data_dir: /srv/manifold
proxy_check:
  probe_url: https://checkip.amazonaws.com
  timeout: 4s
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(yamlInput)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/log/manifold.log", cfg.Logger.LogFile)
	assert.Equal(t, 7, cfg.Logger.MaxBackups)
	assert.Equal(t, "green", cfg.Logger.Colors.Info)
	assert.Equal(t, "red", cfg.Logger.Colors.Error)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Server.ObserverBuffer)
	assert.Equal(t, 3*time.Second, cfg.Server.WriteTimeout)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ExecPath)
	assert.True(t, cfg.Browser.IgnoreTLSErrors)
	assert.Equal(t, []string{"--lang=en-US"}, cfg.Browser.Args)
	assert.Equal(t, 20*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, "fast", cfg.Browser.BehaviorPreset)
	assert.Equal(t, "/srv/manifold", cfg.Storage.DataDir)
	assert.Equal(t, 4*time.Second, cfg.ProxyCheck.Timeout)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"PrivilegedPort", func(c *Config) { c.Server.Port = 443 }, "server.port"},
		{"PortTooHigh", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"ZeroObserverBuffer", func(c *Config) { c.Server.ObserverBuffer = 0 }, "observer_buffer"},
		{"ZeroWriteTimeout", func(c *Config) { c.Server.WriteTimeout = 0 }, "write_timeout"},
		{"ZeroFrameLimit", func(c *Config) { c.Server.MaxFrameBytes = 0 }, "max_frame_bytes"},
		{"UnknownLogLevel", func(c *Config) { c.Logger.Level = "verbose" }, "logger.level"},
		{"UnknownLogFormat", func(c *Config) { c.Logger.Format = "logfmt" }, "logger.format"},
		{"ZeroNavigationTimeout", func(c *Config) { c.Browser.NavigationTimeout = 0 }, "navigation_timeout"},
		{"UnknownPreset", func(c *Config) { c.Browser.BehaviorPreset = "ludicrous" }, "behavior_preset"},
		{"EmptyDataDir", func(c *Config) { c.Storage.DataDir = "" }, "data_dir"},
		{"EmptyProbeURL", func(c *Config) { c.ProxyCheck.ProbeURL = "" }, "probe_url"},
		{"NegativeProbeTimeout", func(c *Config) { c.ProxyCheck.Timeout = -time.Second }, "proxy_check.timeout"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultedConfig(t)
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err, "mutation must be rejected")
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}

	t.Run("AllViolationsReported", func(t *testing.T) {
		t.Parallel()
		cfg := defaultedConfig(t)
		cfg.Server.Port = 1
		cfg.Logger.Level = "verbose"
		cfg.Storage.DataDir = ""

		err := cfg.Validate()
		require.Error(t, err)
		for _, want := range []string{"server.port", "logger.level", "data_dir"} {
			assert.Contains(t, err.Error(), want, "validation must not stop at the first violation")
		}
	})
}

func TestValidatePort(t *testing.T) {
	t.Parallel()

	assert.Error(t, ValidatePort(1023))
	assert.NoError(t, ValidatePort(1024))
	assert.NoError(t, ValidatePort(65535))
	assert.Error(t, ValidatePort(65536))
	assert.Error(t, ValidatePort(0))
}

func TestResolveDataDir(t *testing.T) {
	t.Parallel()

	t.Run("ExpandsTilde", func(t *testing.T) {
		t.Parallel()
		home, err := homedir.Dir()
		require.NoError(t, err)

		got, err := StorageConfig{DataDir: "~/.manifold"}.ResolveDataDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, ".manifold"), got)
	})

	t.Run("CleansAbsolutePath", func(t *testing.T) {
		t.Parallel()
		got, err := StorageConfig{DataDir: "/var/lib//manifold/"}.ResolveDataDir()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("/var", "lib", "manifold"), got)
	})
}

// TestSet ensures that Set installs the exact instance Get returns.
func TestSet(t *testing.T) {
	prev := instance
	defer Set(prev)

	expected := defaultedConfig(t)
	Set(expected)

	assert.Same(t, expected, Get(), "Get should return the exact instance that was Set")
}
