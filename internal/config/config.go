package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oldmanpar/Pings/internal/monitor"
)

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type MonitorConfig struct {
	TargetsFile string `mapstructure:"targets_file"`
	IntervalMs  int    `mapstructure:"interval_ms"`
	TimeoutMs   int    `mapstructure:"timeout_ms"`
	Privileged  bool   `mapstructure:"privileged"`
	AutoStart   bool   `mapstructure:"auto_start"`
}

type TraceConfig struct {
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	Command       string `mapstructure:"command"`
	LinkToMonitor bool   `mapstructure:"link_to_monitor"`
}

type ExportConfig struct {
	Directory string `mapstructure:"directory"`
}

type Config struct {
	Listen  string        `mapstructure:"listen"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Trace   TraceConfig   `mapstructure:"trace"`
	Export  ExportConfig  `mapstructure:"export"`
	Logging LoggingConfig `mapstructure:"logging"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// env overrides: PINGS_MONITOR_INTERVAL_MS etc.
	v.SetEnvPrefix("PINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", "127.0.0.1:8086")
	v.SetDefault("monitor.targets_file", "targets.yaml")
	v.SetDefault("monitor.interval_ms", 1000)
	v.SetDefault("monitor.timeout_ms", 1000)
	v.SetDefault("monitor.privileged", true)
	v.SetDefault("monitor.auto_start", false)
	v.SetDefault("trace.max_concurrent", 4)
	v.SetDefault("trace.command", "traceroute")
	v.SetDefault("trace.link_to_monitor", false)
	v.SetDefault("export.directory", "reports")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// quick sanity checks
	if cfg.Monitor.IntervalMs < 100 {
		cfg.Monitor.IntervalMs = 100
	}
	if cfg.Monitor.TimeoutMs < 100 {
		cfg.Monitor.TimeoutMs = 100
	}
	if cfg.Trace.MaxConcurrent <= 0 {
		cfg.Trace.MaxConcurrent = 4
	}

	return &cfg, nil
}

type roster struct {
	Targets []monitor.TargetSpec `yaml:"targets"`
}

// LoadTargets reads the target roster file: a yaml list of address/host pairs.
func LoadTargets(path string) ([]monitor.TargetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}

	out := make([]monitor.TargetSpec, 0, len(r.Targets))
	for _, spec := range r.Targets {
		if spec.Address == "" {
			continue
		}
		if spec.Host == "" {
			spec.Host = spec.Address
		}
		out = append(out, spec)
	}
	return out, nil
}
