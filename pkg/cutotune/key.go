package cutotune

import (
	"slices"
	"strings"
)

// Key identifies the class of calls that share one tuned config. It is the
// "; "-joined list of entries produced by the triggers.
type Key string

const keySeparator = "; "

// Entries splits the key back into its entries. Separators inside quoted
// values do not split.
func (k Key) Entries() []string {
	if k == "" {
		return nil
	}
	var (
		out     []string
		start   int
		quoted  bool
		escaped bool
	)
	s := string(k)
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case quoted && s[i] == '\\':
			escaped = true
		case s[i] == '"':
			quoted = !quoted
		case !quoted && strings.HasPrefix(s[i:], keySeparator):
			out = append(out, s[start:i])
			start = i + len(keySeparator)
			i += len(keySeparator) - 1
		}
	}
	return append(out, s[start:])
}

func (k Key) String() string {
	return string(k)
}

type keyDeriver struct {
	sig   Signature
	byArg map[string][]Accessor
	funcs []FuncTrigger
}

func newKeyDeriver(sig Signature, triggers []Trigger, funcs []FuncTrigger, tunables []string, allowInfo bool) (*keyDeriver, error) {
	k := &keyDeriver{
		sig:   sig,
		byArg: make(map[string][]Accessor),
		funcs: slices.Clone(funcs),
	}
	for _, t := range triggers {
		i := sig.index(t.Arg)
		if i < 0 {
			return nil, unknownTriggerError("trigger %q names an argument not in the signature %s", t, sig)
		}
		if slices.Contains(tunables, t.Arg) {
			return nil, unknownTriggerError("trigger %q names a tunable parameter", t)
		}
		acc := t.Accessor
		switch sig[i].Kind {
		case ScalarArg:
			if acc.kind != AccessRaw {
				return nil, unknownTriggerError("trigger %q: argument %q is not a tensor", t, t.Arg)
			}
		case TensorArg:
			if acc.kind == AccessRaw {
				if !allowInfo {
					return nil, unknownTriggerError("trigger %q: tensor argument needs an accessor", t)
				}
				acc = Info()
			}
		}
		if slices.Contains(k.byArg[t.Arg], acc) {
			continue
		}
		k.byArg[t.Arg] = append(k.byArg[t.Arg], acc)
	}
	// Info already covers every other projection of the same tensor.
	for name, accs := range k.byArg {
		if slices.Contains(accs, Info()) {
			k.byArg[name] = []Accessor{Info()}
		}
	}
	for _, f := range funcs {
		if f.Label == "" || f.Fn == nil {
			return nil, unknownTriggerError("functional trigger needs a label and a function")
		}
	}
	return k, nil
}

// derive builds the key for one call. Argument triggers come first in
// signature order, each argument's triggers in registration order, then the
// functional triggers in registration order. Arguments absent from the call
// contribute nothing.
func (k *keyDeriver) derive(args Args) (Key, error) {
	var entries []string
	for _, p := range k.sig {
		accs := k.byArg[p.Name]
		if len(accs) == 0 {
			continue
		}
		v, ok := args.Get(p.Name)
		if !ok {
			continue
		}
		for _, acc := range accs {
			projected, err := acc.project(p.Name, v)
			if err != nil {
				return "", err
			}
			if acc.kind == AccessRaw {
				entries = append(entries, p.Name+" = "+projected)
			} else {
				entries = append(entries, p.Name+"."+acc.Label()+" = "+projected)
			}
		}
	}
	for _, f := range k.funcs {
		v, err := f.Fn(args)
		if err != nil {
			return "", unknownTriggerError("functional trigger %q: %v", f.Label, err)
		}
		entries = append(entries, f.Label+" = "+formatValue(v))
	}
	return Key(strings.Join(entries, keySeparator)), nil
}

func (k *keyDeriver) triggerCount() int {
	n := len(k.funcs)
	for _, accs := range k.byArg {
		n += len(accs)
	}
	return n
}
