package cutotune

import (
	"fmt"
	"strings"
)

// Arg is one named argument of a call.
type Arg struct {
	Name  string
	Value any
}

// Named builds an Arg.
func Named(name string, value any) Arg {
	return Arg{Name: name, Value: value}
}

// Args is the argument list of one call. Names are unique; Set replaces in
// place and keeps the original position.
type Args []Arg

// Get returns the value bound to name.
func (a Args) Get(name string) (any, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// Has reports whether name is bound.
func (a Args) Has(name string) bool {
	_, ok := a.Get(name)
	return ok
}

// Set returns a copy of a with name bound to value.
func (a Args) Set(name string, value any) Args {
	out := make(Args, len(a), len(a)+1)
	copy(out, a)
	for i := range out {
		if out[i].Name == name {
			out[i].Value = value
			return out
		}
	}
	return append(out, Arg{Name: name, Value: value})
}

// Names lists the bound names in order.
func (a Args) Names() []string {
	names := make([]string, len(a))
	for i, arg := range a {
		names[i] = arg.Name
	}
	return names
}

func (a Args) String() string {
	parts := make([]string, len(a))
	for i, arg := range a {
		parts[i] = fmt.Sprintf("%s=%v", arg.Name, arg.Value)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ArgAs returns the value bound to name converted to T. Tunable wrappers are
// unwrapped; an Auto marker is an error since it has no concrete value.
func ArgAs[T any](a Args, name string) (T, error) {
	var zero T
	raw, ok := a.Get(name)
	if !ok {
		return zero, fmt.Errorf("argument %q is missing", name)
	}
	if t, ok := raw.(tunable); ok {
		v, fixed := t.tunableValue()
		if !fixed {
			return zero, fmt.Errorf("argument %q is unresolved (auto)", name)
		}
		raw = v
	}
	if raw == nil {
		return zero, nil
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("argument %q: expected %T, got %T", name, zero, raw)
	}
	return v, nil
}
