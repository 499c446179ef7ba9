// Package config holds the process configuration, loaded through Viper and
// shared by the CLI commands.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/flak3dd/manifold/internal/behavior"
)

// MinListenPort is the lowest port the bridge may listen on. Privileged
// ports are rejected both here and for ports supplied per launch.
const MinListenPort = 1024

// DefaultPort is used when neither the config file nor the launch input
// names a listen port.
const DefaultPort = 8766

var (
	mu       sync.RWMutex
	instance *Config
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger"`
	Server     ServerConfig     `mapstructure:"server"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Storage    StorageConfig    `mapstructure:"storage"`
	ProxyCheck ProxyCheckConfig `mapstructure:"proxy_check"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// ServerConfig holds settings for the WebSocket bridge listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ObserverBuffer is the per-observer outbound queue depth. Observers
	// that fall this far behind the broadcaster are disconnected.
	ObserverBuffer int           `mapstructure:"observer_buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxFrameBytes  int64         `mapstructure:"max_frame_bytes"`
}

// BrowserConfig holds settings for the Chrome process backing a session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless"`
	ExecPath          string        `mapstructure:"exec_path"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors"`
	Args              []string      `mapstructure:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	// BehaviorPreset names the interaction pacing tier used when a launch
	// does not carry its own behavior settings.
	BehaviorPreset string `mapstructure:"behavior_preset"`
}

// BehaviorDefaults resolves the configured preset into a full behavior
// configuration.
func (b BrowserConfig) BehaviorDefaults() (behavior.Config, error) {
	return behavior.ForPreset(b.BehaviorPreset)
}

// StorageConfig locates the on-disk tree for profiles and session bundles.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// ResolveDataDir expands a leading ~ in the configured data dir.
func (s StorageConfig) ResolveDataDir() (string, error) {
	dir, err := homedir.Expand(s.DataDir)
	if err != nil {
		return "", fmt.Errorf("could not expand data dir %q: %w", s.DataDir, err)
	}
	return filepath.Clean(dir), nil
}

// ProxyCheckConfig holds settings for the proxy health probe. GeoURL
// may be empty to skip the exit-country lookup.
type ProxyCheckConfig struct {
	ProbeURL string        `mapstructure:"probe_url"`
	GeoURL   string        `mapstructure:"geo_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers defaults so the app can run with no config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "manifold")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.observer_buffer", 64)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.max_frame_bytes", 1<<20)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 45*time.Second)
	v.SetDefault("browser.behavior_preset", behavior.PresetNormal)

	v.SetDefault("storage.data_dir", "~/.manifold")

	v.SetDefault("proxy_check.probe_url", "https://checkip.amazonaws.com")
	v.SetDefault("proxy_check.geo_url", "http://ip-api.com/json")
	v.SetDefault("proxy_check.timeout", 10*time.Second)
}

// Validate reports every violation in the loaded configuration, joined into
// a single error.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logger.level %q is not one of debug, info, warn, error", c.Logger.Level))
	}
	switch c.Logger.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q is not one of console, json", c.Logger.Format))
	}

	if err := ValidatePort(c.Server.Port); err != nil {
		errs = append(errs, fmt.Errorf("server.port: %w", err))
	}
	if c.Server.ObserverBuffer < 1 {
		errs = append(errs, fmt.Errorf("server.observer_buffer must be at least 1, got %d", c.Server.ObserverBuffer))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive, got %s", c.Server.WriteTimeout))
	}
	if c.Server.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_frame_bytes must be positive, got %d", c.Server.MaxFrameBytes))
	}

	if c.Browser.NavigationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("browser.navigation_timeout must be positive, got %s", c.Browser.NavigationTimeout))
	}
	if _, err := behavior.ForPreset(c.Browser.BehaviorPreset); err != nil {
		errs = append(errs, fmt.Errorf("browser.behavior_preset: %w", err))
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir must not be empty"))
	}

	if c.ProxyCheck.ProbeURL == "" {
		errs = append(errs, errors.New("proxy_check.probe_url must not be empty"))
	}
	if c.ProxyCheck.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("proxy_check.timeout must be positive, got %s", c.ProxyCheck.Timeout))
	}

	return errors.Join(errs...)
}

// ValidatePort rejects ports outside the unprivileged range. The same rule
// applies to ports supplied in launch input.
func ValidatePort(port int) error {
	if port < MinListenPort || port > 65535 {
		return fmt.Errorf("port %d out of range [%d, 65535]", port, MinListenPort)
	}
	return nil
}

// Load unmarshals the Viper state into a Config, validates it, and installs
// it as the instance returned by Get.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	Set(&cfg)
	return &cfg, nil
}

// Set installs cfg for Get. Used by Load and by tests that need a known
// configuration without a Viper round trip.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("configuration not initialized, call config.Load in the root command")
	}
	return instance
}
