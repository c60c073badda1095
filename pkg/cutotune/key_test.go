package cutotune

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTrigger(t *testing.T) {
	cases := []struct {
		in   string
		want Trigger
	}{
		{"x.dtype", On("x", Dtype())},
		{"x.size()", On("x", Shape())},
		{"x.shape", On("x", Shape())},
		{"x.stride()", On("x", Stride())},
		{"x.size(-1)", On("x", ShapeDim(-1))},
		{"x.shape(0)", On("x", ShapeDim(0))},
		{"x.stride(1)", On("x", StrideDim(1))},
		{" eps ", On("eps", Raw())},
	}
	for _, tc := range cases {
		got, err := ParseTrigger(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	for _, bad := range []string{"", ".dtype", "x.device", "x.size(a)", "x.numel(1)"} {
		_, err := ParseTrigger(bad)
		require.ErrorIs(t, err, ErrUnknownTrigger, bad)
	}
}

func TestKeyFormat(t *testing.T) {
	sig := Signature{TensorParam("x"), TensorParam("y"), ScalarParam("eps"), ScalarParam("block")}
	triggers := []Trigger{
		On("y", Dtype()),
		On("x", ShapeDim(-1)),
		On("x", Dtype()),
		On("x", Dtype()),
		On("eps", Raw()),
	}
	k, err := newKeyDeriver(sig, triggers, nil, []string{"block"}, false)
	require.NoError(t, err)

	args := Args{
		Named("eps", 1e-6),
		Named("y", newFakeTensor("float16", 8)),
		Named("x", newFakeTensor("float32", 4, 16)),
	}
	key, err := k.derive(args)
	require.NoError(t, err)
	require.Equal(t, Key("x.shape(-1) = 16; x.dtype = float32; y.dtype = float16; eps = 1e-06"), key)
	require.Len(t, key.Entries(), 4)
	require.Equal(t, 4, k.triggerCount())

	// Argument order at the call site does not matter.
	reordered := Args{args[2], args[0], args[1]}
	again, err := k.derive(reordered)
	require.NoError(t, err)
	require.Equal(t, key, again)
}

func TestKeyShapesAndStrides(t *testing.T) {
	sig := Signature{TensorParam("x")}
	k, err := newKeyDeriver(sig, []Trigger{On("x", Shape()), On("x", Stride()), On("x", StrideDim(0))}, nil, nil, false)
	require.NoError(t, err)

	key, err := k.derive(Args{Named("x", newFakeTensor("bfloat16", 2, 3))})
	require.NoError(t, err)
	require.Equal(t, Key("x.shape = (2, 3); x.stride = (3, 1); x.stride(0) = 3"), key)

	key, err = k.derive(Args{Named("x", newFakeTensor("bfloat16", 4))})
	require.NoError(t, err)
	require.Equal(t, Key("x.shape = (4,); x.stride = (1,); x.stride(0) = 1"), key)
}

func TestKeyTensorInfo(t *testing.T) {
	sig := Signature{TensorParam("x")}
	k, err := newKeyDeriver(sig, []Trigger{On("x", Dtype()), On("x", Raw())}, nil, nil, true)
	require.NoError(t, err)
	require.Equal(t, 1, k.triggerCount())

	key, err := k.derive(Args{Named("x", newFakeTensor("float32", 2, 2))})
	require.NoError(t, err)
	require.Equal(t, Key("x.info = (float32, (2, 2), (2, 1))"), key)
}

func TestKeyFunctionalTrigger(t *testing.T) {
	sig := Signature{TensorParam("x"), ScalarParam("block")}
	numel := FuncTrigger{Label: "numel", Fn: func(args Args) (any, error) {
		x, err := ArgAs[fakeTensor](args, "x")
		if err != nil {
			return nil, err
		}
		n := 1
		for _, d := range x.shape {
			n *= d
		}
		return n, nil
	}}
	k, err := newKeyDeriver(sig, []Trigger{On("x", Dtype())}, []FuncTrigger{numel}, []string{"block"}, false)
	require.NoError(t, err)

	key, err := k.derive(Args{Named("x", newFakeTensor("float32", 3, 5))})
	require.NoError(t, err)
	require.Equal(t, Key("x.dtype = float32; numel = 15"), key)

	_, err = k.derive(Args{Named("x", 7)})
	require.ErrorIs(t, err, ErrUnknownTrigger)
}

func TestKeyProjectionErrors(t *testing.T) {
	sig := Signature{TensorParam("x")}
	k, err := newKeyDeriver(sig, []Trigger{On("x", ShapeDim(3))}, nil, nil, false)
	require.NoError(t, err)

	_, err = k.derive(Args{Named("x", newFakeTensor("float32", 2))})
	require.ErrorIs(t, err, ErrUnknownTrigger)

	_, err = k.derive(Args{Named("x", "not a tensor")})
	require.True(t, errors.Is(err, ErrUnknownTrigger))
}

func TestKeyAbsentArgumentIsSkipped(t *testing.T) {
	sig := Signature{TensorParam("x"), ScalarParam("n")}
	k, err := newKeyDeriver(sig, []Trigger{On("x", Dtype()), On("n", Raw())}, nil, nil, false)
	require.NoError(t, err)

	key, err := k.derive(Args{Named("x", newFakeTensor("float32", 1))})
	require.NoError(t, err)
	require.Equal(t, Key("x.dtype = float32"), key)

	key, err = k.derive(Args{Named("x", newFakeTensor("float32", 1)), Named("n", nil)})
	require.NoError(t, err)
	require.Equal(t, Key("x.dtype = float32; n = None"), key)
}

func TestKeyEmpty(t *testing.T) {
	require.Nil(t, Key("").Entries())
}

func TestKeyStringValuesStayDistinct(t *testing.T) {
	sig := Signature{ScalarParam("a"), ScalarParam("b")}
	k, err := newKeyDeriver(sig, []Trigger{On("a", Raw()), On("b", Raw())}, nil, nil, false)
	require.NoError(t, err)

	joined, err := k.derive(Args{Named("a", "x; b = y"), Named("b", "z")})
	require.NoError(t, err)
	split, err := k.derive(Args{Named("a", "x"), Named("b", "y; b = z")})
	require.NoError(t, err)
	require.NotEqual(t, joined, split)
	require.Equal(t, Key(`a = "x; b = y"; b = "z"`), joined)
	require.Equal(t, []string{`a = "x; b = y"`, `b = "z"`}, joined.Entries())
	require.Equal(t, []string{`a = "x"`, `b = "y; b = z"`}, split.Entries())

	escaped, err := k.derive(Args{Named("a", `q"; `), Named("b", nil)})
	require.NoError(t, err)
	require.Equal(t, []string{`a = "q\"; "`, "b = None"}, escaped.Entries())

	str, err := k.derive(Args{Named("a", "None"), Named("b", 1)})
	require.NoError(t, err)
	require.Equal(t, Key(`a = "None"; b = 1`), str)
}
