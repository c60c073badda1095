package tensor

import (
	"math"
	"slices"
)

// CheckElementwise validates operands of an element-wise binary op: equal
// shapes and dtypes, all contiguous.
func CheckElementwise(dst, x, y *Tensor) error {
	if !slices.Equal(x.shape, y.shape) || !slices.Equal(dst.shape, x.shape) {
		return errShapeMismatch
	}
	if x.dtype != y.dtype || dst.dtype != x.dtype {
		return errDTypeMismatch
	}
	if !dst.IsContiguous() || !x.IsContiguous() || !y.IsContiguous() {
		return errNotContiguous
	}
	return nil
}

// CheckRows validates operands of a row-wise op over the last dimension.
func CheckRows(dst, x *Tensor) error {
	if !slices.Equal(dst.shape, x.shape) {
		return errShapeMismatch
	}
	if dst.dtype != x.dtype {
		return errDTypeMismatch
	}
	if !dst.IsContiguous() || !x.IsContiguous() {
		return errNotContiguous
	}
	return nil
}

// Add computes dst = x + y element-wise.
func Add(dst, x, y *Tensor) error {
	if err := CheckElementwise(dst, x, y); err != nil {
		return err
	}
	AddRange(dst, x, y, 0, dst.Numel())
	return nil
}

// AddRange adds elements [lo, hi) one at a time.
func AddRange(dst, x, y *Tensor, lo, hi int) {
	d, a, b := dst.Data()[lo:hi], x.Data()[lo:hi], y.Data()[lo:hi]
	for i := range d {
		d[i] = a[i] + b[i]
	}
	dst.round(lo, hi)
}

// AddRangeUnrolled adds elements [lo, hi) processing width elements per
// step. width is one of 1, 2, 4 or 8; other values fall back to 1.
func AddRangeUnrolled(dst, x, y *Tensor, lo, hi, width int) {
	d, a, b := dst.Data()[lo:hi], x.Data()[lo:hi], y.Data()[lo:hi]
	n := len(d)
	i := 0
	switch width {
	case 8:
		for ; i+7 < n; i += 8 {
			d[i+0] = a[i+0] + b[i+0]
			d[i+1] = a[i+1] + b[i+1]
			d[i+2] = a[i+2] + b[i+2]
			d[i+3] = a[i+3] + b[i+3]
			d[i+4] = a[i+4] + b[i+4]
			d[i+5] = a[i+5] + b[i+5]
			d[i+6] = a[i+6] + b[i+6]
			d[i+7] = a[i+7] + b[i+7]
		}
	case 4:
		for ; i+3 < n; i += 4 {
			d[i+0] = a[i+0] + b[i+0]
			d[i+1] = a[i+1] + b[i+1]
			d[i+2] = a[i+2] + b[i+2]
			d[i+3] = a[i+3] + b[i+3]
		}
	case 2:
		for ; i+1 < n; i += 2 {
			d[i+0] = a[i+0] + b[i+0]
			d[i+1] = a[i+1] + b[i+1]
		}
	}
	for ; i < n; i++ {
		d[i] = a[i] + b[i]
	}
	dst.round(lo, hi)
}

// RMSNorm normalizes every row of x over its last dimension into dst.
// weight may be nil.
func RMSNorm(dst, x *Tensor, weight []float32, eps float32) error {
	if err := CheckRows(dst, x); err != nil {
		return err
	}
	rows, _ := x.Rows()
	RMSNormRows(dst, x, weight, eps, 0, rows)
	return nil
}

// RMSNormRows normalizes rows [rs, re).
func RMSNormRows(dst, x *Tensor, weight []float32, eps float32, rs, re int) {
	_, cols := x.Rows()
	if cols == 0 {
		return
	}
	src, out := x.Data(), dst.Data()
	for r := rs; r < re; r++ {
		row := src[r*cols : (r+1)*cols]
		o := out[r*cols : (r+1)*cols]
		var sum float32
		for _, v := range row {
			sum += v * v
		}
		mean := sum / float32(cols)
		scale := float32(1.0) / float32(math.Sqrt(float64(mean+eps)))
		for i := range row {
			v := row[i] * scale
			if weight != nil {
				v *= weight[i]
			}
			o[i] = v
		}
	}
	dst.round(rs*cols, re*cols)
}

// Softmax applies softmax over the last dimension of x into dst.
func Softmax(dst, x *Tensor) error {
	if err := CheckRows(dst, x); err != nil {
		return err
	}
	rows, _ := x.Rows()
	SoftmaxRows(dst, x, 0, rows)
	return nil
}

// SoftmaxRows applies softmax to rows [rs, re).
func SoftmaxRows(dst, x *Tensor, rs, re int) {
	_, cols := x.Rows()
	if cols == 0 {
		return
	}
	src, out := x.Data(), dst.Data()
	for r := rs; r < re; r++ {
		row := src[r*cols : (r+1)*cols]
		o := out[r*cols : (r+1)*cols]
		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - maxv))
			o[i] = float32(e)
			sum += e
		}
		if sum == 0 {
			continue
		}
		inv := float32(1.0 / sum)
		for i := range o {
			o[i] *= inv
		}
	}
	dst.round(rs*cols, re*cols)
}
