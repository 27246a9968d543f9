// Package config handles daemon configuration loading using viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the daemon configuration. Maps to the `pausefilter:` root key
// in YAML.
type Config struct {
	Host    HostConfig    `mapstructure:"host" yaml:"host"`
	Control ControlConfig `mapstructure:"control" yaml:"control"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`

	// Parameters is the flat engine parameter store (MAC0..MAC3,
	// TimerPeriod, Value, DropLength, DebugLevel, ...). Keys are
	// case-insensitive; viper lowercases them.
	Parameters map[string]any `mapstructure:"parameters" yaml:"parameters"`
}

// ─── Host Binding ───

// HostConfig configures the AF_PACKET host binding.
type HostConfig struct {
	Interface          string        `mapstructure:"interface" yaml:"interface"`
	SnapLen            int           `mapstructure:"snap_len" yaml:"snap_len"`
	BlockSize          int           `mapstructure:"block_size" yaml:"block_size"` // bytes, multiple of the page size
	NumBlocks          int           `mapstructure:"num_blocks" yaml:"num_blocks"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	RxCPU              int           `mapstructure:"rx_cpu" yaml:"rx_cpu"` // -1 = not pinned
	DeferredQueueDepth int           `mapstructure:"deferred_queue_depth" yaml:"deferred_queue_depth"`
	LinkPollInterval   time.Duration `mapstructure:"link_poll_interval" yaml:"link_poll_interval"`
	PcapPath           string        `mapstructure:"pcap_path" yaml:"pcap_path"` // empty = indicated frames are discarded
}

// ─── Control Plane ───

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file" yaml:"pid_file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string `mapstructure:"format" yaml:"format"` // json / text
	// Components overrides the level per component (filter, host, daemon, metrics).
	Components map[string]string `mapstructure:"components" yaml:"components,omitempty"`
	Outputs    LogOutputsConfig  `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pausefilter: ...`.
type configRoot struct {
	PauseFilter Config `mapstructure:"pausefilter"`
}

// Load loads configuration from file.
// The YAML file uses `pausefilter:` as root key; env vars map through the
// key replacer (e.g., key "pausefilter.log.level" → env "PAUSEFILTER_LOG_LEVEL").
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.PauseFilter

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use "pausefilter." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Host defaults
	v.SetDefault("pausefilter.host.snap_len", 65535)
	v.SetDefault("pausefilter.host.block_size", 1<<20)
	v.SetDefault("pausefilter.host.num_blocks", 8)
	v.SetDefault("pausefilter.host.poll_timeout", "100ms")
	v.SetDefault("pausefilter.host.rx_cpu", -1)
	v.SetDefault("pausefilter.host.deferred_queue_depth", 1024)
	v.SetDefault("pausefilter.host.link_poll_interval", "1s")

	// Control defaults
	v.SetDefault("pausefilter.control.pid_file", "/var/run/pausefilter.pid")

	// Log defaults
	v.SetDefault("pausefilter.log.level", "info")
	v.SetDefault("pausefilter.log.format", "json")
	v.SetDefault("pausefilter.log.outputs.file.enabled", false)
	v.SetDefault("pausefilter.log.outputs.file.path", "/var/log/pausefilter/pausefilter.log")
	v.SetDefault("pausefilter.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pausefilter.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pausefilter.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pausefilter.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("pausefilter.metrics.enabled", true)
	v.SetDefault("pausefilter.metrics.listen", ":9091")
	v.SetDefault("pausefilter.metrics.path", "/metrics")
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	for name, level := range cfg.Log.Components {
		if !validLevels[level] && level != "trace" {
			return fmt.Errorf("invalid log level for component %s: %s", name, level)
		}
	}

	// ── Host validation ──
	if cfg.Host.Interface == "" {
		return fmt.Errorf("host.interface is required")
	}
	if cfg.Host.SnapLen <= 0 {
		return fmt.Errorf("host.snap_len must be positive, got %d", cfg.Host.SnapLen)
	}
	if cfg.Host.NumBlocks <= 0 || cfg.Host.BlockSize <= 0 {
		return fmt.Errorf("host ring needs positive block_size and num_blocks")
	}
	if cfg.Host.DeferredQueueDepth <= 0 {
		cfg.Host.DeferredQueueDepth = 1024
	}
	if cfg.Host.LinkPollInterval <= 0 {
		cfg.Host.LinkPollInterval = time.Second
	}

	// ── Metrics validation ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}

	if cfg.Parameters == nil {
		cfg.Parameters = map[string]any{}
	}
	return nil
}
