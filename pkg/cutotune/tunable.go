package cutotune

import "fmt"

// Tunable is the value of a tunable parameter at a call site: either a fixed
// value chosen by the caller or Auto, which lets the dispatcher choose.
// The zero value is Auto.
type Tunable[T any] struct {
	value T
	fixed bool
}

// Fixed pins a tunable parameter to v.
func Fixed[T any](v T) Tunable[T] {
	return Tunable[T]{value: v, fixed: true}
}

// Auto asks the dispatcher to resolve the parameter.
func Auto[T any]() Tunable[T] {
	return Tunable[T]{}
}

// IsAuto reports whether the parameter is left to the dispatcher.
func (t Tunable[T]) IsAuto() bool {
	return !t.fixed
}

// Value returns the fixed value, if any.
func (t Tunable[T]) Value() (T, bool) {
	return t.value, t.fixed
}

func (t Tunable[T]) String() string {
	if !t.fixed {
		return "auto"
	}
	return fmt.Sprint(t.value)
}

func (t Tunable[T]) tunableValue() (any, bool) {
	return t.value, t.fixed
}

type tunable interface {
	tunableValue() (any, bool)
}

// overrideMode is the outcome of checking a call against the all-or-nothing rule.
type overrideMode int

const (
	// every tunable parameter is Auto: use the selected config.
	modeAuto overrideMode = iota
	// no tunable parameter is Auto: caller values win.
	modeFixed
)

// classifyTunables splits the tunable parameters of a call into Auto and
// fixed. Absent parameters count as Auto.
func classifyTunables(args Args, names []string) (auto, fixed []string) {
	for _, name := range names {
		raw, ok := args.Get(name)
		if !ok {
			auto = append(auto, name)
			continue
		}
		if t, ok := raw.(tunable); ok {
			if _, isFixed := t.tunableValue(); !isFixed {
				auto = append(auto, name)
				continue
			}
		}
		fixed = append(fixed, name)
	}
	return auto, fixed
}

// unwrap replaces fixed Tunable wrappers with their values. Auto markers are
// left in place.
func unwrap(args Args) Args {
	out := make(Args, len(args))
	for i, arg := range args {
		out[i] = arg
		if t, ok := arg.Value.(tunable); ok {
			if v, fixed := t.tunableValue(); fixed {
				out[i].Value = v
			}
		}
	}
	return out
}
