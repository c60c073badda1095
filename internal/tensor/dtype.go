package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the element encoding of a tensor. Values are held as float32 and
// rounded to the dtype's precision whenever they are stored.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "float32"
	case F16:
		return "float16"
	case BF16:
		return "bfloat16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ElemSize is the storage size of one element in bytes.
func (d DType) ElemSize() int {
	if d == F32 {
		return 4
	}
	return 2
}

// IsHalf reports whether the dtype is a 16-bit float.
func (d DType) IsHalf() bool {
	return d == F16 || d == BF16
}

// ParseDType accepts the names printed by String plus the short forms f32,
// f16 and bf16.
func ParseDType(s string) (DType, error) {
	switch s {
	case "float32", "f32", "fp32":
		return F32, nil
	case "float16", "f16", "fp16", "half":
		return F16, nil
	case "bfloat16", "bf16":
		return BF16, nil
	}
	return 0, fmt.Errorf("tensor: unknown dtype %q", s)
}

// Round returns v as it would be stored in d.
func (d DType) Round(v float32) float32 {
	switch d {
	case F16:
		return float16.Fromfloat32(v).Float32()
	case BF16:
		return bf16ToF32(f32ToBF16(v))
	default:
		return v
	}
}

func bf16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// f32ToBF16 rounds to nearest even.
func f32ToBF16(v float32) uint16 {
	bits := math.Float32bits(v)
	if v != v {
		return uint16(bits>>16) | 0x40
	}
	rounding := uint32(0x7fff) + (bits>>16)&1
	return uint16((bits + rounding) >> 16)
}
