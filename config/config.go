// Package config loads the host configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/GoCodeAlone/nodehost/observability"
	"gopkg.in/yaml.v3"
)

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// ServerConfig configures the HTTP surface. InvokePerMinute limits
// capability invocations per client; 0 is unlimited. TrustProxyHeaders keys
// clients by X-Real-IP or X-Forwarded-For instead of the peer address.
type ServerConfig struct {
	Addr              string `json:"addr" yaml:"addr"`
	InvokePerMinute   int    `json:"invokePerMinute,omitempty" yaml:"invokePerMinute,omitempty"`
	TrustProxyHeaders bool   `json:"trustProxyHeaders,omitempty" yaml:"trustProxyHeaders,omitempty"`
}

// PluginsConfig configures dynamic plugin loading.
type PluginsConfig struct {
	Dirs            []string       `json:"dirs,omitempty" yaml:"dirs,omitempty"`
	Watch           bool           `json:"watch" yaml:"watch"`
	Debounce        time.Duration  `json:"debounce,omitempty" yaml:"debounce,omitempty"`
	AllowedPackages []string       `json:"allowedPackages,omitempty" yaml:"allowedPackages,omitempty"`
	Priorities      map[string]int `json:"priorities,omitempty" yaml:"priorities,omitempty"`
	Disabled        []string       `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// CapabilitiesConfig maps graph node types to the capabilities they need.
type CapabilitiesConfig struct {
	NodeTypes map[string][]string `json:"nodeTypes,omitempty" yaml:"nodeTypes,omitempty"`
}

// HostConfig is the top-level host configuration.
type HostConfig struct {
	Log          LogConfig                   `json:"log" yaml:"log"`
	Server       ServerConfig                `json:"server" yaml:"server"`
	Metrics      observability.MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing      observability.TracingConfig `json:"tracing" yaml:"tracing"`
	Plugins      PluginsConfig               `json:"plugins" yaml:"plugins"`
	Capabilities CapabilitiesConfig          `json:"capabilities" yaml:"capabilities"`
}

// Default returns the configuration used when no file is given.
func Default() *HostConfig {
	return &HostConfig{
		Log:     LogConfig{Level: "info", Format: "text"},
		Server:  ServerConfig{Addr: ":8188"},
		Metrics: observability.DefaultMetricsConfig(),
		Tracing: observability.DefaultTracingConfig(),
		Plugins: PluginsConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadFromFile loads a host configuration from a YAML file. Values not set in
// the file keep their defaults; ${VAR} references are expanded from the
// environment.
func LoadFromFile(path string) (*HostConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*HostConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid value.
func (c *HostConfig) Validate() error {
	var errs []error
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.InvokePerMinute < 0 {
		errs = append(errs, fmt.Errorf("server.invokePerMinute must not be negative"))
	}
	if c.Plugins.Debounce < 0 {
		errs = append(errs, fmt.Errorf("plugins.debounce must not be negative"))
	}
	if c.Plugins.Watch && len(c.Plugins.Dirs) == 0 {
		errs = append(errs, fmt.Errorf("plugins.watch requires at least one plugins.dirs entry"))
	}
	if c.Metrics.Enabled && c.Metrics.Path != "" && c.Metrics.Path[0] != '/' {
		errs = append(errs, fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path))
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		errs = append(errs, fmt.Errorf("tracing.endpoint is required when tracing is enabled"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sampleRate must be between 0 and 1, got %v", c.Tracing.SampleRate))
	}
	for nodeType, caps := range c.Capabilities.NodeTypes {
		if len(caps) == 0 {
			errs = append(errs, fmt.Errorf("capabilities.nodeTypes.%s lists no capabilities", nodeType))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the root logger described by the log section.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
