package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/nodehost/config"
	"github.com/GoCodeAlone/nodehost/dynamic"
	"github.com/GoCodeAlone/nodehost/graph"
	"github.com/GoCodeAlone/nodehost/host"
	"github.com/GoCodeAlone/nodehost/observability"
)

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// hostFlags are the options shared by every command.
type hostFlags struct {
	configPath string
	pluginDirs stringList
	logLevel   string
}

func (h *hostFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&h.configPath, "config", "", "Path to host configuration YAML file")
	fs.Var(&h.pluginDirs, "plugins", "Plugin directory to load (repeatable, added to plugins.dirs)")
	fs.StringVar(&h.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
}

func (h *hostFlags) load() (*config.HostConfig, error) {
	cfg := config.Default()
	if h.configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(h.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}
	cfg.Plugins.Dirs = append(cfg.Plugins.Dirs, h.pluginDirs...)
	if h.logLevel != "" {
		cfg.Log.Level = h.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp creates the host and loads the configured plugin directories.
// Plugin load errors are returned alongside a usable app and loader.
func buildApp(cfg *config.HostConfig, extra ...host.Option) (*host.App, *dynamic.Loader, error) {
	logger, err := cfg.Log.NewLogger(stderr)
	if err != nil {
		return nil, nil, err
	}

	opts := []host.Option{
		host.WithLogger(logger),
		host.WithInvokeRateLimit(cfg.Server.InvokePerMinute),
		host.WithTrustedProxyHeaders(cfg.Server.TrustProxyHeaders),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, host.WithMetrics(observability.NewMetrics(cfg.Metrics)))
	}
	app, err := host.New(append(opts, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	host.ApplyNodeTypeMappings(cfg.Capabilities)

	loader := app.NewLoader(cfg.Plugins)
	return app, loader, app.LoadPlugins(loader, cfg.Plugins)
}

func loadGraph(app *host.App, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read graph: %w", err)
	}
	g, err := graph.Parse(data)
	if err != nil {
		return err
	}
	app.SetGraph(context.Background(), g)
	return nil
}

type stringList []string

func (s *stringList) String() string { return fmt.Sprint([]string(*s)) }

func (s *stringList) Set(v string) error {
	if v == "" {
		return errors.New("empty value")
	}
	*s = append(*s, v)
	return nil
}
