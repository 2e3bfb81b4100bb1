package dynamic

import (
	"fmt"
	"sync"

	"github.com/GoCodeAlone/yaegi/interp"
	"github.com/GoCodeAlone/yaegi/stdlib"
)

// Option configures an InterpreterPool.
type Option func(*InterpreterPool)

// WithExtraPackages allows additional standard library packages on top of
// AllowedPackages. Blocked packages cannot be re-enabled.
func WithExtraPackages(pkgs ...string) Option {
	return func(p *InterpreterPool) {
		for _, pkg := range pkgs {
			p.extra[pkg] = true
		}
	}
}

// InterpreterPool hands out sandboxed Yaegi interpreters.
type InterpreterPool struct {
	mu    sync.Mutex
	extra map[string]bool
}

// NewInterpreterPool creates a new pool with optional configuration.
func NewInterpreterPool(opts ...Option) *InterpreterPool {
	p := &InterpreterPool{extra: make(map[string]bool)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Allowed reports whether pkg may be imported by plugins loaded via this pool.
func (p *InterpreterPool) Allowed(pkg string) bool {
	if BlockedPackages[pkg] {
		return false
	}
	return IsPackageAllowed(pkg) || p.extra[pkg]
}

// NewInterpreter creates an interpreter with the standard library loaded.
// Sandboxing happens at source validation time, before evaluation.
func (p *InterpreterPool) NewInterpreter() (*interp.Interpreter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	return i, nil
}
