package tensor

import (
	"math/rand"
	"slices"
	"strconv"
	"strings"
)

// Tensor is a dense n-dimensional array of float32 values.
//
// Shape lists the extent of each dimension and Strides the number of
// elements between consecutive indices along it. Tensors built by New are
// row-major and contiguous; T returns a strided view over the same data.
//
// The dtype controls rounding on store: f16 and bf16 tensors hold values
// already rounded to half precision.
type Tensor struct {
	dtype   DType
	shape   []int
	strides []int
	offset  int
	data    []float32
}

// New allocates a zeroed contiguous tensor.
func New(dtype DType, shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("tensor: negative dimension")
		}
		n *= d
	}
	return &Tensor{
		dtype:   dtype,
		shape:   slices.Clone(shape),
		strides: rowMajor(shape),
		data:    make([]float32, n),
	}
}

// FromData wraps data as a contiguous tensor, rounding it to dtype. The
// length of data must match the shape.
func FromData(dtype DType, data []float32, shape ...int) (*Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, errNegativeDim
		}
		n *= d
	}
	if n != len(data) {
		return nil, errDataSizeMismatch
	}
	t := &Tensor{
		dtype:   dtype,
		shape:   slices.Clone(shape),
		strides: rowMajor(shape),
		data:    data,
	}
	t.round(0, len(data))
	return t, nil
}

func rowMajor(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func (t *Tensor) DType() DType { return t.dtype }
func (t *Tensor) DTypeName() string { return t.dtype.String() }
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }
func (t *Tensor) Strides() []int { return slices.Clone(t.strides) }
func (t *Tensor) Rank() int { return len(t.shape) }

// Numel is the number of elements.
func (t *Tensor) Numel() int {
	n := 1
	for _, d := range t.shape {
		n *= d
	}
	return n
}

// Dim returns the extent of dimension i; negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.shape)
	}
	return t.shape[i]
}

// IsContiguous reports whether the tensor is row-major without gaps.
func (t *Tensor) IsContiguous() bool {
	return slices.Equal(t.strides, rowMajor(t.shape))
}

// Data returns the backing slice of a contiguous tensor.
func (t *Tensor) Data() []float32 {
	if !t.IsContiguous() {
		panic("tensor: Data on a strided view")
	}
	return t.data[t.offset : t.offset+t.Numel()]
}

// At reads one element.
func (t *Tensor) At(idx ...int) float32 {
	return t.data[t.index(idx)]
}

// Set stores one element, rounded to the tensor's dtype.
func (t *Tensor) Set(v float32, idx ...int) {
	t.data[t.index(idx)] = t.dtype.Round(v)
}

func (t *Tensor) index(idx []int) int {
	if len(idx) != len(t.shape) {
		panic("tensor: index rank mismatch")
	}
	off := t.offset
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic("tensor: index out of range")
		}
		off += v * t.strides[i]
	}
	return off
}

// T returns the transpose of a 2-D tensor as a strided view.
func (t *Tensor) T() *Tensor {
	if len(t.shape) != 2 {
		panic("tensor: T needs a 2-D tensor")
	}
	return &Tensor{
		dtype:   t.dtype,
		shape:   []int{t.shape[1], t.shape[0]},
		strides: []int{t.strides[1], t.strides[0]},
		offset:  t.offset,
		data:    t.data,
	}
}

// Contiguous returns t itself when already contiguous, otherwise a
// row-major copy.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() {
		return t
	}
	out := New(t.dtype, t.shape...)
	dst := out.data
	idx := make([]int, len(t.shape))
	for i := range dst {
		dst[i] = t.data[t.index(idx)]
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < t.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Like allocates a zeroed contiguous tensor with t's dtype and shape.
func (t *Tensor) Like() *Tensor {
	return New(t.dtype, t.shape...)
}

// Rows views the tensor as a matrix whose columns are the last dimension.
func (t *Tensor) Rows() (rows, cols int) {
	if len(t.shape) == 0 {
		return 1, 1
	}
	cols = t.shape[len(t.shape)-1]
	if cols == 0 {
		return 0, 0
	}
	return t.Numel() / cols, cols
}

func (t *Tensor) round(lo, hi int) {
	if !t.dtype.IsHalf() {
		return
	}
	d := t.data[t.offset+lo : t.offset+hi]
	for i, v := range d {
		d[i] = t.dtype.Round(v)
	}
}

func (t *Tensor) String() string {
	var b strings.Builder
	b.WriteString("Tensor(")
	b.WriteString(t.dtype.String())
	b.WriteString(", [")
	for i, d := range t.shape {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Itoa(d))
	}
	b.WriteString("])")
	return b.String()
}

// FillRand fills a contiguous tensor with reproducible pseudo-random values
// in roughly (-1, 1).
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	data := t.Data()
	for i := range data {
		data[i] = t.dtype.Round(rng.Float32()*2 - 1)
	}
}

var (
	errNegativeDim      = fmtError("tensor: negative dimension")
	errDataSizeMismatch = fmtError("tensor: data length does not match shape")
	errShapeMismatch    = fmtError("tensor: shape mismatch")
	errNotContiguous    = fmtError("tensor: operand is not contiguous")
	errDTypeMismatch    = fmtError("tensor: dtype mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
