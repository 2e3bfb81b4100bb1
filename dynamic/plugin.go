package dynamic

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/GoCodeAlone/nodehost/capability"
	"github.com/GoCodeAlone/yaegi/interp"
)

// PluginStatus describes the lifecycle state of a dynamic plugin.
type PluginStatus string

const (
	StatusUnloaded PluginStatus = "unloaded"
	StatusLoaded   PluginStatus = "loaded"
	StatusError    PluginStatus = "error"
)

// PluginInfo holds metadata about a loaded dynamic plugin.
type PluginInfo struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Priority int          `json:"priority"`
	Path     string       `json:"path,omitempty"`
	Status   PluginStatus `json:"status"`
	LoadedAt time.Time    `json:"loaded_at"`
	Error    string       `json:"error,omitempty"`
}

// Plugin is a Capability implemented by Yaegi-interpreted Go source. The
// source must be in package plugin and declare
//
//	func PerformAction(ctx context.Context) (any, error)
//
// and may declare Name() string and Priority() int.
type Plugin struct {
	mu     sync.RWMutex
	id     string
	source string
	info   PluginInfo

	pool        *InterpreterPool
	interpreter *interp.Interpreter

	nameFunc     func() string
	priorityFunc func() int
	actionFunc   func(context.Context) (any, error)
}

var _ capability.Capability = (*Plugin)(nil)

// NewPlugin creates a new unloaded plugin.
func NewPlugin(id string, pool *InterpreterPool) *Plugin {
	return &Plugin{
		id:   id,
		pool: pool,
		info: PluginInfo{
			ID:     id,
			Status: StatusUnloaded,
		},
	}
}

// ID returns the plugin id.
func (p *Plugin) ID() string { return p.id }

// Name returns the plugin's declared name, or its id.
func (p *Plugin) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Name
}

// Priority returns the plugin's declared priority, or 0.
func (p *Plugin) Priority() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info.Priority
}

// Info returns the current plugin metadata.
func (p *Plugin) Info() PluginInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.info
}

// Source returns the loaded source code.
func (p *Plugin) Source() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// PerformAction runs the interpreted PerformAction. Panics in interpreted code
// are returned as errors.
func (p *Plugin) PerformAction(ctx context.Context) (any, error) {
	p.mu.RLock()
	fn := p.actionFunc
	p.mu.RUnlock()
	if fn == nil {
		return nil, p.violation("plugin is not loaded", nil, nil)
	}
	return safeCallAction(ctx, fn)
}

// LoadFromSource evaluates source and binds its functions. Source without a
// usable PerformAction fails with capability.ErrAbstractContractViolation and
// leaves the plugin unusable.
func (p *Plugin) LoadFromSource(source string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, err := p.pool.NewInterpreter()
	if err != nil {
		return fmt.Errorf("failed to create interpreter: %w", err)
	}

	if _, err := i.Eval(source); err != nil {
		p.fail(err)
		return fmt.Errorf("failed to evaluate source: %w", err)
	}

	action, mismatched := extractAction(i)
	if action == nil {
		required := []string{"PerformAction"}
		verr := p.violation("", required, nil)
		if mismatched {
			verr = p.violation("", nil, required)
		}
		p.actionFunc = nil
		p.fail(verr)
		return verr
	}

	p.interpreter = i
	p.source = source
	p.actionFunc = action
	p.nameFunc = nil
	p.priorityFunc = nil
	p.extractMetadata(i)

	p.info.Status = StatusLoaded
	p.info.LoadedAt = time.Now()
	p.info.Error = ""
	p.info.Name = p.id
	if p.nameFunc != nil {
		p.info.Name = p.safeCallName()
	}
	p.info.Priority = 0
	if p.priorityFunc != nil {
		p.info.Priority = p.safeCallPriority()
	}
	return nil
}

func (p *Plugin) fail(err error) {
	p.info.Status = StatusError
	p.info.Error = err.Error()
}

func (p *Plugin) violation(reason string, missing, mismatched []string) error {
	return &capability.ContractViolationError{
		Contract:   capability.ActionCapability,
		Type:       fmt.Sprintf("dynamic plugin %q", p.id),
		Missing:    missing,
		Mismatched: mismatched,
		Reason:     reason,
	}
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// extractAction looks up plugin.PerformAction. It returns nil when the
// symbol is absent, and reports mismatched when it exists with the wrong shape.
func extractAction(i *interp.Interpreter) (fn func(context.Context) (any, error), mismatched bool) {
	v, err := i.Eval("plugin.PerformAction")
	if err != nil || !v.IsValid() {
		return nil, false
	}
	if f, ok := v.Interface().(func(context.Context) (any, error)); ok {
		return f, false
	}

	// Yaegi may hand back a function whose static type does not assert
	// directly; adapt it through reflection when the shape matches.
	if v.Kind() != reflect.Func {
		return nil, true
	}
	t := v.Type()
	if t.NumIn() != 1 || t.NumOut() != 2 || !contextType.AssignableTo(t.In(0)) || t.Out(1) != errorType {
		return nil, true
	}
	return func(ctx context.Context) (any, error) {
		results := v.Call([]reflect.Value{reflect.ValueOf(&ctx).Elem()})
		var res any
		if r := results[0]; r.IsValid() && !(r.Kind() == reflect.Interface && r.IsNil()) {
			res = r.Interface()
		}
		var err error
		if e := results[1]; e.IsValid() && !e.IsNil() {
			err = e.Interface().(error)
		}
		return res, err
	}, false
}

func (p *Plugin) extractMetadata(i *interp.Interpreter) {
	if v, err := i.Eval("plugin.Name"); err == nil && v.IsValid() {
		if fn, ok := v.Interface().(func() string); ok {
			p.nameFunc = fn
		}
	}
	if v, err := i.Eval("plugin.Priority"); err == nil && v.IsValid() {
		if fn, ok := v.Interface().(func() int); ok {
			p.priorityFunc = fn
		}
	}
}

// Safe call wrappers that recover from panics in interpreted code.

func safeCallAction(ctx context.Context, fn func(context.Context) (any, error)) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in PerformAction: %v", r)
		}
	}()
	return fn(ctx)
}

func (p *Plugin) safeCallName() (name string) {
	defer func() {
		if r := recover(); r != nil {
			name = p.id
		}
	}()
	if name = p.nameFunc(); name == "" {
		name = p.id
	}
	return name
}

func (p *Plugin) safeCallPriority() (priority int) {
	defer func() {
		if r := recover(); r != nil {
			priority = 0
		}
	}()
	return p.priorityFunc()
}
