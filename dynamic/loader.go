package dynamic

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/GoCodeAlone/nodehost/capability"
)

// PackageName is the package clause dynamic plugin sources must use.
const PackageName = "plugin"

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLoaderLogger sets the logger for the loader.
func WithLoaderLogger(l *slog.Logger) LoaderOption {
	return func(ld *Loader) {
		if l != nil {
			ld.logger = l
		}
	}
}

// WithPriorities overrides the priority of plugins by id.
func WithPriorities(priorities map[string]int) LoaderOption {
	return func(ld *Loader) {
		for id, p := range priorities {
			ld.priorities[id] = p
		}
	}
}

// WithDisabled makes the loader skip the given plugin ids.
func WithDisabled(ids ...string) LoaderOption {
	return func(ld *Loader) {
		for _, id := range ids {
			ld.disabled[id] = true
		}
	}
}

// WithOnChange sets a callback invoked after a plugin is loaded (loaded=true)
// or unloaded (loaded=false).
func WithOnChange(fn func(info PluginInfo, loaded bool)) LoaderOption {
	return func(ld *Loader) { ld.onChange = fn }
}

// Loader loads dynamic plugins and registers them as providers of the action
// capability.
type Loader struct {
	pool     *InterpreterPool
	registry *capability.Registry
	logger   *slog.Logger

	priorities map[string]int
	disabled   map[string]bool
	onChange   func(PluginInfo, bool)

	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewLoader creates a Loader backed by the given pool and registry.
func NewLoader(pool *InterpreterPool, registry *capability.Registry, opts ...LoaderOption) *Loader {
	l := &Loader{
		pool:       pool,
		registry:   registry,
		logger:     slog.Default(),
		priorities: make(map[string]int),
		disabled:   make(map[string]bool),
		plugins:    make(map[string]*Plugin),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ErrDisabled is returned when loading a plugin id that is disabled.
var ErrDisabled = errors.New("plugin is disabled")

// ValidateSource performs a basic syntax check, verifies the package clause
// and that only allowed packages are imported.
func (l *Loader) ValidateSource(source string) error {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "plugin.go", source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if f.Name.Name != PackageName {
		return fmt.Errorf("package must be %q, got %q", PackageName, f.Name.Name)
	}

	for _, imp := range f.Imports {
		pkg := strings.Trim(imp.Path.Value, `"`)
		if !l.pool.Allowed(pkg) {
			return fmt.Errorf("import %q is not allowed in dynamic plugins", pkg)
		}
	}
	return nil
}

// LoadFromString validates, evaluates and registers a plugin from source. A
// plugin already registered under id is replaced only when the new source
// loads successfully.
func (l *Loader) LoadFromString(id, source string) (*Plugin, error) {
	return l.load(id, "", source)
}

func (l *Loader) load(id, path, source string) (*Plugin, error) {
	if id == "" {
		return nil, fmt.Errorf("dynamic: plugin id must not be empty")
	}
	if l.disabled[id] {
		return nil, fmt.Errorf("dynamic: %q: %w", id, ErrDisabled)
	}
	if err := l.ValidateSource(source); err != nil {
		return nil, fmt.Errorf("dynamic: %q: validation failed: %w", id, err)
	}

	p := NewPlugin(id, l.pool)
	if err := p.LoadFromSource(source); err != nil {
		return nil, fmt.Errorf("dynamic: %q: %w", id, err)
	}
	p.mu.Lock()
	p.info.Path = path
	if prio, ok := l.priorities[id]; ok {
		p.info.Priority = prio
	}
	p.mu.Unlock()

	if err := l.registry.RegisterContract(capability.ActionContract()); err != nil {
		return nil, fmt.Errorf("dynamic: %w", err)
	}
	if err := l.registry.RegisterProvider(capability.ActionCapability, id, p.Priority(), p); err != nil {
		return nil, fmt.Errorf("dynamic: %w", err)
	}

	l.mu.Lock()
	l.plugins[id] = p
	l.mu.Unlock()

	info := p.Info()
	l.logger.Info("dynamic plugin loaded", "id", id, "name", info.Name, "priority", info.Priority)
	if l.onChange != nil {
		l.onChange(info, true)
	}
	return p, nil
}

// LoadFromFile reads a .go file and loads it as a plugin.
// The plugin ID is derived from the filename (without extension) unless
// the caller provides an explicit id.
func (l *Loader) LoadFromFile(id, path string) (*Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dynamic: failed to read file %s: %w", path, err)
	}

	if id == "" {
		id = fileToID(path)
	}

	return l.load(id, path, string(data))
}

// LoadFromDirectory loads every non-test .go file in dir. Files that fail to
// load do not stop the others; their errors are joined. Disabled plugins are
// skipped.
func (l *Loader) LoadFromDirectory(dir string) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dynamic: failed to read directory %s: %w", dir, err)
	}

	var (
		plugins []*Plugin
		errs    []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !isGoFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if l.disabled[fileToID(path)] {
			l.logger.Debug("skipping disabled plugin", "path", path)
			continue
		}
		p, err := l.LoadFromFile("", path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins, errors.Join(errs...)
}

// Unload removes a plugin and its provider registration.
func (l *Loader) Unload(id string) error {
	l.mu.Lock()
	p, ok := l.plugins[id]
	delete(l.plugins, id)
	l.mu.Unlock()

	if !ok {
		return fmt.Errorf("dynamic: plugin %q not found", id)
	}
	l.registry.UnregisterProvider(capability.ActionCapability, id)
	l.logger.Info("dynamic plugin unloaded", "id", id)
	if l.onChange != nil {
		l.onChange(p.Info(), false)
	}
	return nil
}

// Get retrieves a loaded plugin by id.
func (l *Loader) Get(id string) (*Plugin, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.plugins[id]
	return p, ok
}

// List returns info for all loaded plugins sorted by id.
func (l *Loader) List() []PluginInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	infos := make([]PluginInfo, 0, len(l.plugins))
	for _, p := range l.plugins {
		infos = append(infos, p.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func isGoFile(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

func fileToID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
