// Package capability defines the contract plugins implement to be invoked by
// the host, and the registry the host uses to find them.
package capability

import "context"

// ActionCapability is the name under which the Capability contract is
// registered.
const ActionCapability = "action"

// Capability is the single operation a plugin must provide to be recognized
// by the host. The host never interprets the result; it is handed back to
// whoever requested the invocation.
type Capability interface {
	PerformAction(ctx context.Context) (any, error)
}

// Func adapts an ordinary function to the Capability interface.
type Func func(ctx context.Context) (any, error)

// PerformAction calls f(ctx).
func (f Func) PerformAction(ctx context.Context) (any, error) {
	return f(ctx)
}

// New constructs a Capability from impl. It is the construction-time check
// for values whose static type is not already Capability (factories, dynamic
// loaders, plugin tables keyed by any). A nil impl, a typed nil, or a value
// without a concrete PerformAction yields an error matching
// ErrAbstractContractViolation.
func New(impl any) (Capability, error) {
	if err := ActionContract().Check(impl); err != nil {
		return nil, err
	}
	return impl.(Capability), nil
}

// MustNew is like New but panics on error. Intended for package-level plugin
// tables.
func MustNew(impl any) Capability {
	c, err := New(impl)
	if err != nil {
		panic(err)
	}
	return c
}
