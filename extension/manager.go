// Package extension lets plugins contribute UI surfaces to the host, such as
// sidebar tabs. The host keeps their metadata and drives their render and
// cleanup lifecycle; drawing them is left to the frontend.
package extension

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

var (
	// ErrInvalidTab is returned for a tab config missing required fields.
	ErrInvalidTab = errors.New("invalid sidebar tab")

	// ErrDuplicateTab is returned when a tab id is already registered.
	ErrDuplicateTab = errors.New("sidebar tab already registered")

	// ErrTabNotFound is returned for unknown tab ids.
	ErrTabNotFound = errors.New("sidebar tab not found")
)

// RenderFunc populates the tab's container. It may return a cleanup function
// that the host calls when the tab is unmounted; nil means nothing to clean up.
type RenderFunc func(container io.Writer) (cleanup func())

// SidebarTabConfig describes a sidebar tab contributed by a plugin.
type SidebarTabConfig struct {
	// ID uniquely identifies the tab.
	ID string `json:"id"`
	// Icon is the icon class for the tab button (e.g. "pi pi-compass").
	Icon    string `json:"icon"`
	Title   string `json:"title"`
	Tooltip string `json:"tooltip,omitempty"`
	// Type is usually "custom".
	Type   string     `json:"type"`
	Render RenderFunc `json:"-"`
}

// Validate checks the required fields.
func (c SidebarTabConfig) Validate() error {
	var missing []string
	if c.ID == "" {
		missing = append(missing, "id")
	}
	if c.Icon == "" {
		missing = append(missing, "icon")
	}
	if c.Title == "" {
		missing = append(missing, "title")
	}
	if c.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return fmt.Errorf("extension: %w %q: missing %v", ErrInvalidTab, c.ID, missing)
	}
	return nil
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithOnRegister sets a callback invoked after a tab is registered.
func WithOnRegister(fn func(SidebarTabConfig)) Option {
	return func(m *Manager) { m.onRegister = fn }
}

// Manager is the extension manager plugins register UI contributions with.
// It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	tabs     map[string]SidebarTabConfig
	cleanups map[string]func()

	logger     *slog.Logger
	onRegister func(SidebarTabConfig)
}

// NewManager creates an empty extension manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		tabs:     make(map[string]SidebarTabConfig),
		cleanups: make(map[string]func()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterSidebarTab adds a sidebar tab.
func (m *Manager) RegisterSidebarTab(cfg SidebarTabConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.tabs[cfg.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("extension: %w: %q", ErrDuplicateTab, cfg.ID)
	}
	m.tabs[cfg.ID] = cfg
	m.mu.Unlock()

	m.logger.Debug("sidebar tab registered", "id", cfg.ID, "title", cfg.Title)
	if m.onRegister != nil {
		m.onRegister(cfg)
	}
	return nil
}

// Tab returns a registered tab by id.
func (m *Manager) Tab(id string) (SidebarTabConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[id]
	return t, ok
}

// Tabs returns all registered tabs sorted by id.
func (m *Manager) Tabs() []SidebarTabConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	tabs := make([]SidebarTabConfig, 0, len(m.tabs))
	for _, t := range m.tabs {
		tabs = append(tabs, t)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i].ID < tabs[j].ID })
	return tabs
}

// Mount renders the tab into container. A tab that is already mounted is
// unmounted first. A panic inside the render function is returned as an error.
func (m *Manager) Mount(id string, container io.Writer) error {
	m.mu.Lock()
	tab, ok := m.tabs[id]
	prev := m.cleanups[id]
	delete(m.cleanups, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("extension: %w: %q", ErrTabNotFound, id)
	}
	if prev != nil {
		m.safeCleanup(id, prev)
	}
	if tab.Render == nil {
		return nil
	}

	cleanup, err := safeRender(tab.Render, container)
	if err != nil {
		return fmt.Errorf("extension: tab %q: %w", id, err)
	}
	if cleanup != nil {
		m.mu.Lock()
		m.cleanups[id] = cleanup
		m.mu.Unlock()
	}
	return nil
}

// Unmount runs the cleanup returned by the tab's last render, if any.
func (m *Manager) Unmount(id string) error {
	m.mu.Lock()
	_, ok := m.tabs[id]
	cleanup := m.cleanups[id]
	delete(m.cleanups, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("extension: %w: %q", ErrTabNotFound, id)
	}
	if cleanup != nil {
		m.safeCleanup(id, cleanup)
	}
	return nil
}

func safeRender(render RenderFunc, container io.Writer) (cleanup func(), err error) {
	defer func() {
		if r := recover(); r != nil {
			cleanup = nil
			err = fmt.Errorf("panic in render: %v", r)
		}
	}()
	return render(container), nil
}

func (m *Manager) safeCleanup(id string, cleanup func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("sidebar tab cleanup panicked", "id", id, "panic", fmt.Sprint(r))
		}
	}()
	cleanup()
}
