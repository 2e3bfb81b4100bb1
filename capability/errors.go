package capability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAbstractContractViolation is matched by every error produced when a
	// value without a concrete implementation of a contract is constructed.
	ErrAbstractContractViolation = errors.New("abstract contract violation")

	// ErrUnknownCapability is returned for capability names with no contract.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrNoProvider is returned when a capability has no registered provider.
	ErrNoProvider = errors.New("no provider registered")
)

// ContractViolationError describes why a value does not satisfy a contract.
type ContractViolationError struct {
	Contract string
	// Type is the offending value's type, or "<nil>".
	Type string
	// Missing lists required methods the type does not declare.
	Missing []string
	// Mismatched lists required methods declared with the wrong signature.
	Mismatched []string
	Reason     string
}

func (e *ContractViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capability: %s does not satisfy contract %q", e.Type, e.Contract)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if len(e.Mismatched) > 0 {
		fmt.Fprintf(&b, ": wrong signature for %s", strings.Join(e.Mismatched, ", "))
	}
	return b.String()
}

// Is reports whether target is ErrAbstractContractViolation.
func (e *ContractViolationError) Is(target error) bool {
	return target == ErrAbstractContractViolation
}
