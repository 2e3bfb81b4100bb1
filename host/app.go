// Package host is the application instance handed to plugins: it bundles the
// extension manager, the current graph, the event API and the capability
// registry, and invokes capabilities on behalf of callers.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/nodehost/capability"
	"github.com/GoCodeAlone/nodehost/events"
	"github.com/GoCodeAlone/nodehost/extension"
	"github.com/GoCodeAlone/nodehost/graph"
	"github.com/GoCodeAlone/nodehost/observability"
)

// ErrNotInvocable is returned when a capability's provider does not implement
// capability.Capability.
var ErrNotInvocable = errors.New("capability is not invocable")

// Option configures an App.
type Option func(*App)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. Without it no metrics are recorded.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTracer sets the tracer. Without it the global tracer provider is used.
func WithTracer(t *observability.Tracer) Option {
	return func(a *App) { a.tracer = t }
}

// App is the host application instance.
type App struct {
	// Extensions is where plugins register UI contributions.
	Extensions *extension.Manager
	// API is the event API.
	API *events.Bus
	// Capabilities holds contracts and providers.
	Capabilities *capability.Registry

	graph   atomic.Pointer[graph.Graph]
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	invokeLimits *clientLimiter
	trustProxy   bool
}

// Invocation is the outcome of a successful capability invocation.
type Invocation struct {
	Capability string        `json:"capability"`
	Plugin     string        `json:"plugin"`
	Result     any           `json:"result"`
	Duration   time.Duration `json:"duration"`
}

// New creates an App with the action contract registered and an empty graph.
func New(opts ...Option) (*App, error) {
	a := &App{
		Capabilities: capability.NewRegistry(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = observability.NewTracer(nil)
	}

	a.API = events.NewBus(a.logger)
	a.Extensions = extension.NewManager(
		extension.WithLogger(a.logger),
		extension.WithOnRegister(func(tab extension.SidebarTabConfig) {
			a.API.Dispatch(context.Background(), events.TabRegistered, map[string]any{"id": tab.ID, "title": tab.Title})
		}),
	)
	if err := a.Capabilities.RegisterContract(capability.ActionContract()); err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	a.graph.Store(graph.Empty())
	a.metrics.SetProviders(capability.ActionCapability, 0)
	return a, nil
}

// Logger returns the app logger.
func (a *App) Logger() *slog.Logger { return a.logger }

// Metrics returns the metrics collector, which may be nil.
func (a *App) Metrics() *observability.Metrics { return a.metrics }

// Graph returns the current graph.
func (a *App) Graph() *graph.Graph { return a.graph.Load() }

// SetGraph replaces the current graph and dispatches graph.changed. A nil
// graph resets to an empty one.
func (a *App) SetGraph(ctx context.Context, g *graph.Graph) {
	if g == nil {
		g = graph.Empty()
	}
	a.graph.Store(g)
	a.API.Dispatch(ctx, events.GraphChanged, map[string]any{
		"nodes": g.Len(),
		"links": len(g.Links()),
	})
}

// RegisterPlugin registers a statically linked implementation of the action
// capability. impl is checked at registration; a value without a concrete
// PerformAction is rejected with capability.ErrAbstractContractViolation.
func (a *App) RegisterPlugin(name string, priority int, impl any) error {
	return a.RegisterProvider(capability.ActionCapability, name, priority, impl)
}

// RegisterProvider registers impl as a provider of any registered capability.
func (a *App) RegisterProvider(capabilityName, plugin string, priority int, impl any) error {
	if err := a.Capabilities.RegisterProvider(capabilityName, plugin, priority, impl); err != nil {
		if errors.Is(err, capability.ErrAbstractContractViolation) {
			a.metrics.RecordViolation(capabilityName, "static")
		}
		a.logger.Error("plugin rejected", "capability", capabilityName, "plugin", plugin, "error", err)
		return fmt.Errorf("host: %w", err)
	}
	a.providersChanged(capabilityName)
	a.logger.Info("plugin registered", "capability", capabilityName, "plugin", plugin, "priority", priority)
	a.API.Dispatch(context.Background(), events.PluginLoaded, map[string]any{
		"capability": capabilityName,
		"plugin":     plugin,
	})
	return nil
}

// UnregisterPlugin removes a statically registered action provider.
func (a *App) UnregisterPlugin(name string) bool {
	if !a.Capabilities.UnregisterProvider(capability.ActionCapability, name) {
		return false
	}
	a.providersChanged(capability.ActionCapability)
	a.API.Dispatch(context.Background(), events.PluginUnloaded, map[string]any{
		"capability": capability.ActionCapability,
		"plugin":     name,
	})
	return true
}

func (a *App) providersChanged(capabilityName string) {
	a.metrics.SetProviders(capabilityName, len(a.Capabilities.ListProviders(capabilityName)))
	a.metrics.SetTotalProviders(a.Capabilities.ProviderCount())
}

// Invoke resolves the highest-priority provider of capabilityName and calls
// its PerformAction. The result is passed through untouched.
func (a *App) Invoke(ctx context.Context, capabilityName string) (*Invocation, error) {
	entry, err := a.Capabilities.Resolve(capabilityName)
	if err != nil {
		return nil, fmt.Errorf("host: %w", err)
	}
	impl, ok := entry.Impl.(capability.Capability)
	if !ok {
		return nil, fmt.Errorf("host: %q provided by %q: %w", capabilityName, entry.PluginName, ErrNotInvocable)
	}

	ctx, span := a.tracer.StartInvocation(ctx, capabilityName, entry.PluginName)
	start := time.Now()
	result, err := safePerform(ctx, impl)
	elapsed := time.Since(start)
	a.tracer.End(span, err)

	data := map[string]any{
		"capability": capabilityName,
		"plugin":     entry.PluginName,
		"duration":   elapsed.String(),
	}
	if err != nil {
		a.metrics.RecordInvocation(capabilityName, entry.PluginName, "error", elapsed)
		a.logger.Warn("capability invocation failed",
			"capability", capabilityName,
			"plugin", entry.PluginName,
			"duration", elapsed,
			"error", err,
		)
		data["error"] = err.Error()
		a.API.Dispatch(ctx, events.CapabilityFailed, data)
		return nil, fmt.Errorf("host: %q provided by %q: %w", capabilityName, entry.PluginName, err)
	}

	a.metrics.RecordInvocation(capabilityName, entry.PluginName, "success", elapsed)
	a.logger.Debug("capability invoked", "capability", capabilityName, "plugin", entry.PluginName, "duration", elapsed)
	a.API.Dispatch(ctx, events.CapabilityInvoked, data)
	return &Invocation{
		Capability: capabilityName,
		Plugin:     entry.PluginName,
		Result:     result,
		Duration:   elapsed,
	}, nil
}

// MissingCapabilities lists the capabilities the current graph needs that
// have no provider.
func (a *App) MissingCapabilities() []string {
	var missing []string
	for _, name := range capability.DetectRequired(a.Graph()) {
		if !a.Capabilities.HasProvider(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func safePerform(ctx context.Context, c capability.Capability) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in PerformAction: %v", r)
		}
	}()
	return c.PerformAction(ctx)
}
