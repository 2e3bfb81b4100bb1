package capability

import (
	"fmt"
	"reflect"
	"runtime"
)

// Contract defines a capability category that plugins can provide.
// A contract specifies the Go interface that providers must implement
// and documents the required method signatures for validation.
type Contract struct {
	// Name is the capability identifier (e.g., "action").
	Name string

	// Description is a human-readable explanation of what this capability provides.
	Description string

	// InterfaceType is the reflect.Type of the Go interface that providers must implement.
	InterfaceType reflect.Type

	// RequiredMethods lists the method signatures for documentation and validation.
	RequiredMethods []MethodSignature
}

// MethodSignature describes a single method on a capability interface.
type MethodSignature struct {
	// Name is the method name.
	Name string `json:"name"`

	// Params lists the parameter type names (excluding the receiver).
	Params []string `json:"params"`

	// Returns lists the return type names.
	Returns []string `json:"returns"`
}

// ActionContract returns the contract for the Capability interface.
func ActionContract() Contract {
	return ContractOf[Capability](ActionCapability, "Performs the plugin's action when the host asks for it")
}

// ContractOf builds a Contract for the interface type I, deriving the
// required method signatures from it.
func ContractOf[I any](name, description string) Contract {
	t := reflect.TypeOf((*I)(nil)).Elem()
	return Contract{
		Name:            name,
		Description:     description,
		InterfaceType:   t,
		RequiredMethods: SignaturesOf(t),
	}
}

// SignaturesOf lists the exported methods of an interface type.
func SignaturesOf(t reflect.Type) []MethodSignature {
	if t == nil || t.Kind() != reflect.Interface {
		return nil
	}
	sigs := make([]MethodSignature, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		sig := MethodSignature{Name: m.Name}
		for j := 0; j < m.Type.NumIn(); j++ {
			sig.Params = append(sig.Params, m.Type.In(j).String())
		}
		for j := 0; j < m.Type.NumOut(); j++ {
			sig.Returns = append(sig.Returns, m.Type.Out(j).String())
		}
		sigs = append(sigs, sig)
	}
	return sigs
}

// Check verifies that impl is a concrete, non-nil value implementing the
// contract's interface. Violations are reported as *ContractViolationError.
func (c Contract) Check(impl any) error {
	if c.InterfaceType == nil || c.InterfaceType.Kind() != reflect.Interface {
		return fmt.Errorf("capability: contract %q has no interface type", c.Name)
	}
	if impl == nil {
		return &ContractViolationError{Contract: c.Name, Type: "<nil>", Reason: "no implementation supplied"}
	}

	v := reflect.ValueOf(impl)
	t := v.Type()
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Chan, reflect.Slice:
		if v.IsNil() {
			return &ContractViolationError{Contract: c.Name, Type: t.String(), Reason: "nil value"}
		}
	}

	if t.Implements(c.InterfaceType) {
		for i := 0; i < c.InterfaceType.NumMethod(); i++ {
			name := c.InterfaceType.Method(i).Name
			if field, ok := promotedFromNil(v, name); ok {
				return &ContractViolationError{
					Contract: c.Name,
					Type:     t.String(),
					Missing:  []string{name},
					Reason:   fmt.Sprintf("%s promoted from nil embedded field %s", name, field),
				}
			}
		}
		return nil
	}

	verr := &ContractViolationError{Contract: c.Name, Type: t.String()}
	for i := 0; i < c.InterfaceType.NumMethod(); i++ {
		want := c.InterfaceType.Method(i)
		got, ok := t.MethodByName(want.Name)
		if !ok {
			verr.Missing = append(verr.Missing, want.Name)
			continue
		}
		if !sameSignature(want.Type, got.Type) {
			verr.Mismatched = append(verr.Mismatched, want.Name)
		}
	}
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(c.InterfaceType) {
		verr.Reason = "methods are declared on the pointer type"
	}
	return verr
}

// sameSignature compares an interface method type with a concrete method
// type, whose first parameter is the receiver.
func sameSignature(iface, concrete reflect.Type) bool {
	if concrete.NumIn() != iface.NumIn()+1 || concrete.NumOut() != iface.NumOut() {
		return false
	}
	if concrete.IsVariadic() != iface.IsVariadic() {
		return false
	}
	for i := 0; i < iface.NumIn(); i++ {
		if iface.In(i) != concrete.In(i+1) {
			return false
		}
	}
	for i := 0; i < iface.NumOut(); i++ {
		if iface.Out(i) != concrete.Out(i) {
			return false
		}
	}
	return true
}

// promotedFromNil reports whether calling method name on v would dispatch
// through a nil embedded interface or pointer, and names that field.
func promotedFromNil(v reflect.Value, name string) (string, bool) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || declares(v.Type(), name) {
		return "", false
	}

	st := v.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous || !hasMethod(f.Type, name) {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.Pointer, reflect.Interface:
			if fv.IsNil() {
				return f.Name, true
			}
		}
		if inner, ok := promotedFromNil(fv, name); ok {
			return f.Name + "." + inner, true
		}
		return "", false
	}
	return "", false
}

func hasMethod(t reflect.Type, name string) bool {
	if _, ok := t.MethodByName(name); ok {
		return true
	}
	if t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
		_, ok := reflect.PointerTo(t).MethodByName(name)
		return ok
	}
	return false
}

// declares reports whether the struct type st, or *st, declares method name
// itself. Methods promoted from embedded fields are compiler-generated
// wrappers, whose position is reported as "<autogenerated>".
func declares(st reflect.Type, name string) bool {
	for _, t := range []reflect.Type{st, reflect.PointerTo(st)} {
		m, ok := t.MethodByName(name)
		if !ok {
			continue
		}
		fn := runtime.FuncForPC(m.Func.Pointer())
		if fn == nil {
			return true
		}
		if file, _ := fn.FileLine(fn.Entry()); file != "<autogenerated>" {
			return true
		}
	}
	return false
}
