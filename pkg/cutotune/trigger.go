package cutotune

import (
	"fmt"
	"strconv"
	"strings"
)

// Tensor is the view of a multi-dimensional argument the key derivation
// needs. Shapes and strides are in elements.
type Tensor interface {
	DTypeName() string
	Shape() []int
	Strides() []int
}

// ParamKind says whether an operation parameter holds a tensor.
type ParamKind int

const (
	ScalarArg ParamKind = iota
	TensorArg
)

func (k ParamKind) String() string {
	if k == TensorArg {
		return "tensor"
	}
	return "scalar"
}

// ParamSpec declares one parameter of an operation.
type ParamSpec struct {
	Name string
	Kind ParamKind
}

// TensorParam declares a tensor parameter.
func TensorParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: TensorArg} }

// ScalarParam declares a scalar parameter.
func ScalarParam(name string) ParamSpec { return ParamSpec{Name: name, Kind: ScalarArg} }

// Signature is the ordered parameter list of an operation. Lookup keys are
// assembled in this order.
type Signature []ParamSpec

func (s Signature) index(name string) int {
	for i, p := range s {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Bind assigns positional values to the leading parameters.
func (s Signature) Bind(values ...any) (Args, error) {
	if len(values) > len(s) {
		return nil, fmt.Errorf("got %d positional arguments, signature has %d parameters", len(values), len(s))
	}
	args := make(Args, len(values))
	for i, v := range values {
		args[i] = Arg{Name: s[i].Name, Value: v}
	}
	return args, nil
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		parts[i] = p.Name + " " + p.Kind.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// AccessorKind enumerates the projections a trigger can apply.
type AccessorKind int

const (
	// AccessRaw uses the argument value itself; scalars only.
	AccessRaw AccessorKind = iota
	// AccessInfo uses dtype, shape and strides of a tensor together.
	AccessInfo
	AccessDtype
	AccessShape
	AccessShapeDim
	AccessStride
	AccessStrideDim
)

// Accessor selects the projection of an argument that feeds the lookup key.
type Accessor struct {
	kind AccessorKind
	dim  int
}

// Raw keys on the value itself; it is the only accessor for scalars.
func Raw() Accessor { return Accessor{kind: AccessRaw} }

// Info keys on dtype, shape and strides together.
func Info() Accessor { return Accessor{kind: AccessInfo} }

// Dtype keys on the element type.
func Dtype() Accessor { return Accessor{kind: AccessDtype} }

// Shape keys on the full shape.
func Shape() Accessor { return Accessor{kind: AccessShape} }

// ShapeDim keys on one extent. Negative dims count from the end.
func ShapeDim(dim int) Accessor { return Accessor{kind: AccessShapeDim, dim: dim} }

// Stride keys on all strides.
func Stride() Accessor { return Accessor{kind: AccessStride} }

// StrideDim keys on one stride. Negative dims count from the end.
func StrideDim(dim int) Accessor { return Accessor{kind: AccessStrideDim, dim: dim} }

// Kind reports which projection a selects.
func (a Accessor) Kind() AccessorKind { return a.kind }

// Label is the canonical spelling used inside lookup keys.
func (a Accessor) Label() string {
	switch a.kind {
	case AccessInfo:
		return "info"
	case AccessDtype:
		return "dtype"
	case AccessShape:
		return "shape"
	case AccessShapeDim:
		return "shape(" + strconv.Itoa(a.dim) + ")"
	case AccessStride:
		return "stride"
	case AccessStrideDim:
		return "stride(" + strconv.Itoa(a.dim) + ")"
	default:
		return ""
	}
}

func (a Accessor) project(name string, v any) (string, error) {
	if a.kind == AccessRaw {
		return formatValue(v), nil
	}
	t, ok := v.(Tensor)
	if !ok {
		return "", unknownTriggerError("argument %q: accessor %q needs a tensor, got %T", name, a.Label(), v)
	}
	switch a.kind {
	case AccessInfo:
		return "(" + t.DTypeName() + ", " + formatInts(t.Shape()) + ", " + formatInts(t.Strides()) + ")", nil
	case AccessDtype:
		return t.DTypeName(), nil
	case AccessShape:
		return formatInts(t.Shape()), nil
	case AccessStride:
		return formatInts(t.Strides()), nil
	case AccessShapeDim, AccessStrideDim:
		dims := t.Shape()
		if a.kind == AccessStrideDim {
			dims = t.Strides()
		}
		i := a.dim
		if i < 0 {
			i += len(dims)
		}
		if i < 0 || i >= len(dims) {
			return "", unknownTriggerError("argument %q: dimension %d out of range for rank %d", name, a.dim, len(dims))
		}
		return strconv.Itoa(dims[i]), nil
	}
	return "", unknownTriggerError("argument %q: unsupported accessor", name)
}

// Trigger names an argument and the projection of it that takes part in
// the lookup key.
type Trigger struct {
	Arg      string
	Accessor Accessor
}

// On builds a Trigger.
func On(arg string, acc Accessor) Trigger {
	return Trigger{Arg: arg, Accessor: acc}
}

func (t Trigger) String() string {
	if label := t.Accessor.Label(); label != "" {
		return t.Arg + "." + label
	}
	return t.Arg
}

// ParseTrigger parses "name" or "name.accessor", where accessor is one of
// dtype, shape, size(), shape(i), size(i), stride() or stride(i).
func ParseTrigger(s string) (Trigger, error) {
	s = strings.TrimSpace(s)
	name, acc, hasAcc := strings.Cut(s, ".")
	if name == "" {
		return Trigger{}, unknownTriggerError("empty argument name in %q", s)
	}
	if !hasAcc {
		return Trigger{Arg: name, Accessor: Raw()}, nil
	}
	a, err := parseAccessor(acc)
	if err != nil {
		return Trigger{}, unknownTriggerError("%q: %v", s, err)
	}
	return Trigger{Arg: name, Accessor: a}, nil
}

func parseAccessor(s string) (Accessor, error) {
	switch s {
	case "dtype":
		return Dtype(), nil
	case "shape", "size()", "shape()":
		return Shape(), nil
	case "stride()", "stride":
		return Stride(), nil
	}
	fn, rest, ok := strings.Cut(s, "(")
	if !ok || !strings.HasSuffix(rest, ")") {
		return Accessor{}, fmt.Errorf("unsupported accessor %q", s)
	}
	dim, err := strconv.Atoi(strings.TrimSuffix(rest, ")"))
	if err != nil {
		return Accessor{}, fmt.Errorf("bad dimension in accessor %q", s)
	}
	switch fn {
	case "size", "shape":
		return ShapeDim(dim), nil
	case "stride":
		return StrideDim(dim), nil
	}
	return Accessor{}, fmt.Errorf("unsupported accessor %q", s)
}

// FuncTrigger adds a key entry computed from the whole argument list.
type FuncTrigger struct {
	Label string
	Fn    func(args Args) (any, error)
}

func formatInts(v []int) string {
	parts := make([]string, len(v))
	for i, d := range v {
		parts[i] = strconv.Itoa(d)
	}
	if len(v) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// formatValue spells a raw or computed value for a key entry. Strings are
// always quoted so "None" and 1 stay distinct from None and the integer 1;
// any other spelling that contains the entry separator is quoted too.
func formatValue(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "None"
	case string:
		return strconv.Quote(x)
	case []int:
		return formatInts(x)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(v)
	}
	if strings.Contains(s, keySeparator) || strings.HasPrefix(s, `"`) {
		return strconv.Quote(s)
	}
	return s
}
