package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/nodehost/capability"
	"github.com/GoCodeAlone/nodehost/config"
	"github.com/GoCodeAlone/nodehost/dynamic"
	"github.com/GoCodeAlone/nodehost/events"
)

// NewLoader creates a dynamic plugin loader registering into the app's
// capability registry. Loads and unloads are reported on the event API and
// in the provider gauge.
func (a *App) NewLoader(cfg config.PluginsConfig) *dynamic.Loader {
	pool := dynamic.NewInterpreterPool(dynamic.WithExtraPackages(cfg.AllowedPackages...))
	return dynamic.NewLoader(pool, a.Capabilities,
		dynamic.WithLoaderLogger(a.logger),
		dynamic.WithPriorities(cfg.Priorities),
		dynamic.WithDisabled(cfg.Disabled...),
		dynamic.WithOnChange(func(info dynamic.PluginInfo, loaded bool) {
			a.providersChanged(capability.ActionCapability)
			event := events.PluginUnloaded
			if loaded {
				event = events.PluginLoaded
			}
			a.API.Dispatch(context.Background(), event, map[string]any{
				"capability": capability.ActionCapability,
				"plugin":     info.ID,
				"path":       info.Path,
			})
		}),
	)
}

// LoadPlugins loads every plugin directory in cfg. Failures in one file do
// not stop the others; all errors are returned joined. Contract violations
// are counted in the metrics.
func (a *App) LoadPlugins(loader *dynamic.Loader, cfg config.PluginsConfig) error {
	var errs []error
	for _, dir := range cfg.Dirs {
		_, err := loader.LoadFromDirectory(dir)
		if err != nil {
			errs = append(errs, err)
			a.countViolations(err)
		}
	}
	return errors.Join(errs...)
}

// WatchPlugins starts hot reloading for cfg.Dirs. The caller stops the
// returned watcher.
func (a *App) WatchPlugins(loader *dynamic.Loader, cfg config.PluginsConfig) (*dynamic.Watcher, error) {
	w := dynamic.NewWatcher(loader, cfg.Dirs,
		dynamic.WithDebounce(cfg.Debounce),
		dynamic.WithWatcherLogger(a.logger),
		dynamic.WithOnReload(func(_ string, err error) {
			if err != nil {
				a.countViolations(err)
			}
		}),
	)
	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	return w, nil
}

// ApplyNodeTypeMappings registers the configured node type to capability
// mappings used by MissingCapabilities.
func ApplyNodeTypeMappings(cfg config.CapabilitiesConfig) {
	for nodeType, caps := range cfg.NodeTypes {
		capability.RegisterNodeTypeMapping(nodeType, caps...)
	}
}

func (a *App) countViolations(err error) {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		for _, e := range joined.Unwrap() {
			a.countViolations(e)
		}
		return
	}
	if errors.Is(err, capability.ErrAbstractContractViolation) {
		a.metrics.RecordViolation(capability.ActionCapability, "dynamic")
	}
}
