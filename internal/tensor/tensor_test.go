package tensor

import (
	"slices"
	"testing"
)

func TestNewLayout(t *testing.T) {
	x := New(BF16, 2, 3, 4)
	if x.DTypeName() != "bfloat16" {
		t.Fatalf("dtype name %q", x.DTypeName())
	}
	if !slices.Equal(x.Shape(), []int{2, 3, 4}) {
		t.Fatalf("shape %v", x.Shape())
	}
	if !slices.Equal(x.Strides(), []int{12, 4, 1}) {
		t.Fatalf("strides %v", x.Strides())
	}
	if x.Numel() != 24 || x.Dim(-1) != 4 {
		t.Fatalf("numel %d dim(-1) %d", x.Numel(), x.Dim(-1))
	}
	if rows, cols := x.Rows(); rows != 6 || cols != 4 {
		t.Fatalf("rows %d cols %d", rows, cols)
	}
}

func TestTransposeView(t *testing.T) {
	x, err := FromData(F32, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	xt := x.T()
	if xt.IsContiguous() {
		t.Fatal("transpose should be strided")
	}
	if !slices.Equal(xt.Strides(), []int{1, 3}) {
		t.Fatalf("strides %v", xt.Strides())
	}
	if xt.At(2, 1) != 6 {
		t.Fatalf("At(2,1) = %v", xt.At(2, 1))
	}
	c := xt.Contiguous()
	if !slices.Equal(c.Data(), []float32{1, 4, 2, 5, 3, 6}) {
		t.Fatalf("contiguous copy %v", c.Data())
	}
}

func TestFromDataSizeMismatch(t *testing.T) {
	if _, err := FromData(F32, make([]float32, 5), 2, 3); err == nil {
		t.Fatal("expected size mismatch")
	}
}

func TestParseDType(t *testing.T) {
	for _, d := range []DType{F32, F16, BF16} {
		got, err := ParseDType(d.String())
		if err != nil || got != d {
			t.Fatalf("round trip %v: %v %v", d, got, err)
		}
	}
	if _, err := ParseDType("int8"); err == nil {
		t.Fatal("expected error")
	}
}
