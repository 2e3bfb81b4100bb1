package capability

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// ProviderEntry represents a plugin that implements a capability.
type ProviderEntry struct {
	// PluginName is the name of the plugin providing this capability.
	PluginName string

	// Priority determines provider selection order; higher values win.
	Priority int

	// Impl is the validated provider instance.
	Impl any

	// ImplType is the reflect.Type of Impl.
	ImplType reflect.Type
}

// Registry manages capability contracts and their providers.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	contracts map[string]Contract
	providers map[string][]ProviderEntry
}

// NewRegistry creates a new empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		contracts: make(map[string]Contract),
		providers: make(map[string][]ProviderEntry),
	}
}

// RegisterContract adds a capability contract to the registry.
// Returns an error if a contract with the same name already exists
// but has a different InterfaceType.
func (r *Registry) RegisterContract(c Contract) error {
	if c.Name == "" {
		return fmt.Errorf("capability: contract name is required")
	}
	if c.InterfaceType == nil || c.InterfaceType.Kind() != reflect.Interface {
		return fmt.Errorf("capability: contract %q must name an interface type", c.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.contracts[c.Name]; ok {
		if existing.InterfaceType != c.InterfaceType {
			return fmt.Errorf("capability: contract %q already registered with different interface type (existing: %v, new: %v)",
				c.Name, existing.InterfaceType, c.InterfaceType)
		}
		return nil
	}

	if c.RequiredMethods == nil {
		c.RequiredMethods = SignaturesOf(c.InterfaceType)
	}
	r.contracts[c.Name] = c
	return nil
}

// RegisterProvider validates impl against the capability's contract and
// registers it. A plugin registering again for the same capability replaces
// its previous entry and keeps its position among equal priorities.
func (r *Registry) RegisterProvider(capabilityName, pluginName string, priority int, impl any) error {
	if pluginName == "" {
		return fmt.Errorf("capability: plugin name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contracts[capabilityName]
	if !ok {
		return fmt.Errorf("capability: %q: %w", capabilityName, ErrUnknownCapability)
	}
	if err := c.Check(impl); err != nil {
		return fmt.Errorf("capability: plugin %q: %w", pluginName, err)
	}

	entry := ProviderEntry{
		PluginName: pluginName,
		Priority:   priority,
		Impl:       impl,
		ImplType:   reflect.TypeOf(impl),
	}
	entries := r.providers[capabilityName]
	for i := range entries {
		if entries[i].PluginName == pluginName {
			entries[i] = entry
			return nil
		}
	}
	r.providers[capabilityName] = append(entries, entry)
	return nil
}

// UnregisterProvider removes a plugin's entry for a capability. It reports
// whether an entry was removed.
func (r *Registry) UnregisterProvider(capabilityName, pluginName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.providers[capabilityName]
	for i := range entries {
		if entries[i].PluginName == pluginName {
			r.providers[capabilityName] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

// Resolve returns the highest-priority provider for a capability. Among equal
// priorities the earliest registration wins.
func (r *Registry) Resolve(capabilityName string) (*ProviderEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.contracts[capabilityName]; !ok {
		return nil, fmt.Errorf("capability: %q: %w", capabilityName, ErrUnknownCapability)
	}
	entries := r.providers[capabilityName]
	if len(entries) == 0 {
		return nil, fmt.Errorf("capability: %q: %w", capabilityName, ErrNoProvider)
	}

	best := entries[0]
	for i := 1; i < len(entries); i++ {
		if entries[i].Priority > best.Priority {
			best = entries[i]
		}
	}

	return &best, nil
}

// ListCapabilities returns a sorted list of all registered capability names.
func (r *Registry) ListCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.contracts))
	for name := range r.contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasProvider returns true if at least one provider is registered for the capability.
func (r *Registry) HasProvider(capabilityName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.providers[capabilityName]) > 0
}

// ListProviders returns all providers registered for a capability.
// Returns nil if no providers are registered.
func (r *Registry) ListProviders(capabilityName string) []ProviderEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.providers[capabilityName]
	if len(entries) == 0 {
		return nil
	}

	result := make([]ProviderEntry, len(entries))
	copy(result, entries)
	return result
}

// ProviderCount returns the total number of provider entries across all
// capabilities.
func (r *Registry) ProviderCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, entries := range r.providers {
		n += len(entries)
	}
	return n
}

// ContractFor returns the contract for a capability name.
// Returns false if the capability is not registered.
func (r *Registry) ContractFor(capabilityName string) (*Contract, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.contracts[capabilityName]
	if !ok {
		return nil, false
	}
	return &c, true
}
