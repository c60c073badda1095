package cutotune

import (
	"encoding"
	"fmt"
	"maps"
	"math"
	"reflect"
	"slices"
	"strings"
)

// Condition decides whether a config may run for a call. It receives the
// caller's arguments overlaid with the config's own values.
type Condition func(ctx Args) bool

// Config is one assignment of values to the tunable parameters of an
// operation. It is immutable once built.
type Config struct {
	values map[string]any
	names  []string
	cond   Condition
}

// NewConfig copies values into a new Config. cond may be nil.
func NewConfig(values map[string]any, cond Condition) Config {
	v := maps.Clone(values)
	if v == nil {
		v = map[string]any{}
	}
	names := slices.Sorted(maps.Keys(v))
	return Config{values: v, names: names, cond: cond}
}

// Get returns the value of one parameter.
func (c Config) Get(name string) (any, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Names returns the parameter names in sorted order.
func (c Config) Names() []string {
	return slices.Clone(c.names)
}

// Values returns a copy of the parameter values.
func (c Config) Values() map[string]any {
	return maps.Clone(c.values)
}

// Len is the number of parameters.
func (c Config) Len() int {
	return len(c.names)
}

// IsApplicable reports whether the config may be benchmarked for a call
// with the given arguments.
func (c Config) IsApplicable(args Args) bool {
	if c.cond == nil {
		return true
	}
	return c.cond(c.overlay(args))
}

// overlay binds the config's values over args, keeping argument order and
// appending parameters the caller did not pass.
func (c Config) overlay(args Args) Args {
	out := make(Args, 0, len(args)+len(c.names))
	for _, arg := range args {
		if v, ok := c.values[arg.Name]; ok {
			arg.Value = v
		}
		out = append(out, arg)
	}
	for _, name := range c.names {
		if !out.Has(name) {
			out = append(out, Arg{Name: name, Value: c.values[name]})
		}
	}
	return out
}

// Equal compares parameter values; conditions are not compared.
func (c Config) Equal(other Config) bool {
	if !slices.Equal(c.names, other.names) {
		return false
	}
	for _, name := range c.names {
		if !reflect.DeepEqual(c.values[name], other.values[name]) {
			return false
		}
	}
	return true
}

// matches reports whether stored, a config read back from a cache file,
// holds the same values as c. Scalars are compared after converting the
// stored value to the type of c's value, since the file does not keep Go
// numeric types (1.0 reads back as an int, int64 as int, float32 as
// float64). Text-marshalled values match their text form.
func (c Config) matches(stored Config) bool {
	if !slices.Equal(c.names, stored.names) {
		return false
	}
	for _, name := range c.names {
		if !sameValue(c.values[name], stored.values[name]) {
			return false
		}
	}
	return true
}

func sameValue(want, got any) bool {
	if reflect.DeepEqual(want, got) {
		return true
	}
	if want == nil || got == nil {
		return false
	}
	if m, ok := want.(encoding.TextMarshaler); ok {
		s, isString := got.(string)
		if !isString {
			return false
		}
		text, err := m.MarshalText()
		return err == nil && string(text) == s
	}

	wv, gv := reflect.ValueOf(want), reflect.ValueOf(got)
	if !isNumeric(wv.Kind()) || !isNumeric(gv.Kind()) {
		return false
	}
	if isInteger(wv.Kind()) {
		// Integers must convert exactly: no fraction, no wrap-around.
		if isFloat(gv.Kind()) && gv.Float() != math.Trunc(gv.Float()) {
			return false
		}
		back := gv.Convert(wv.Type()).Convert(gv.Type())
		if !reflect.DeepEqual(back.Interface(), got) {
			return false
		}
	}
	return reflect.DeepEqual(gv.Convert(wv.Type()).Interface(), want)
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumeric(k reflect.Kind) bool {
	return isInteger(k) || isFloat(k)
}

func (c Config) String() string {
	parts := make([]string, len(c.names))
	for i, name := range c.names {
		parts[i] = fmt.Sprintf("%s: %v", name, c.values[name])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (c Config) sameNames(names []string) bool {
	return slices.Equal(c.names, names)
}
