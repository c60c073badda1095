package kernels

import (
	"context"

	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

const (
	vectorWidthParam = "vector_width"
	blockSizeParam   = "BLOCK_SIZE"
)

var addSignature = cutotune.Signature{
	cutotune.TensorParam("x"),
	cutotune.TensorParam("y"),
	cutotune.ScalarParam(BackendParam),
	cutotune.ScalarParam(vectorWidthParam),
	cutotune.ScalarParam(blockSizeParam),
}

func addSpace() []cutotune.Config {
	half := func(ctx cutotune.Args) bool { return isHalf(ctx, "x") }
	// Splitting below one block buys nothing.
	fits := func(ctx cutotune.Args) bool {
		x, err := tensorArg(ctx, "x")
		if err != nil {
			return false
		}
		block, err := cutotune.ArgAs[int](ctx, blockSizeParam)
		return err == nil && x.Numel() > block
	}
	fitsHalf := func(ctx cutotune.Args) bool { return half(ctx) && fits(ctx) }
	blocks := cutotune.Values(blockSizeParam, 1024, 4096, 16384)

	return cutotune.Concat(
		cutotune.CartesianProduct(nil,
			cutotune.Values(BackendParam, BackendNaive),
			cutotune.Values(vectorWidthParam, 1),
			cutotune.Values(blockSizeParam, 0)),
		cutotune.CartesianProduct(nil,
			cutotune.Values(BackendParam, BackendUnrolled),
			cutotune.Values(vectorWidthParam, 2, 4),
			cutotune.Values(blockSizeParam, 0)),
		cutotune.CartesianProduct(half,
			cutotune.Values(BackendParam, BackendUnrolled),
			cutotune.Values(vectorWidthParam, 8),
			cutotune.Values(blockSizeParam, 0)),
		cutotune.CartesianProduct(fits,
			cutotune.Values(BackendParam, BackendParallel),
			cutotune.Values(vectorWidthParam, 4),
			blocks),
		cutotune.CartesianProduct(fitsHalf,
			cutotune.Values(BackendParam, BackendParallel),
			cutotune.Values(vectorWidthParam, 8),
			blocks),
	)
}

func (s *Set) newAdd(common []cutotune.Option) (*Dispatcher, error) {
	opts := append([]cutotune.Option{
		cutotune.WithTriggers("x.dtype"),
		cutotune.WithFuncTrigger("next_power_of_2(x.numel())", func(args cutotune.Args) (any, error) {
			x, err := tensorArg(args, "x")
			if err != nil {
				return nil, err
			}
			return nextPowerOfTwo(x.Numel()), nil
		}),
		cutotune.WithDefaultConfig(map[string]any{
			BackendParam:     BackendUnrolled,
			vectorWidthParam: 4,
			blockSizeParam:   0,
		}),
	}, common...)
	return cutotune.New("add", s.add, addSignature, addSpace(), opts...)
}

func (s *Set) add(_ context.Context, args cutotune.Args) (*tensor.Tensor, error) {
	x, err := tensorArg(args, "x")
	if err != nil {
		return nil, err
	}
	y, err := tensorArg(args, "y")
	if err != nil {
		return nil, err
	}
	backend, err := cutotune.ArgAs[Backend](args, BackendParam)
	if err != nil {
		return nil, err
	}
	width, err := cutotune.ArgAs[int](args, vectorWidthParam)
	if err != nil {
		return nil, err
	}
	block, err := cutotune.ArgAs[int](args, blockSizeParam)
	if err != nil {
		return nil, err
	}

	out := x.Like()
	if err := tensor.CheckElementwise(out, x, y); err != nil {
		return nil, err
	}
	n := out.Numel()
	switch backend {
	case BackendNaive:
		return out, s.launch(func() error {
			tensor.AddRange(out, x, y, 0, n)
			return nil
		})
	case BackendParallel:
		if block <= 0 {
			block = n
		}
		for lo := 0; lo < n; lo += block {
			hi := min(lo+block, n)
			if err := s.launch(func() error {
				tensor.AddRangeUnrolled(out, x, y, lo, hi, width)
				return nil
			}); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return out, s.launch(func() error {
			tensor.AddRangeUnrolled(out, x, y, 0, n, width)
			return nil
		})
	}
}

// Add returns x + y using the tuned config for the input class.
func (s *Set) Add(ctx context.Context, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	return s.run(ctx, s.AddOp, cutotune.Args{cutotune.Named("x", x), cutotune.Named("y", y)})
}
