package kernels

import (
	"context"

	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

var (
	rmsnormSignature = cutotune.Signature{
		cutotune.TensorParam("x"),
		cutotune.ScalarParam("eps"),
		cutotune.ScalarParam(BackendParam),
		cutotune.ScalarParam(blockSizeParam),
	}
	softmaxSignature = cutotune.Signature{
		cutotune.TensorParam("x"),
		cutotune.ScalarParam(BackendParam),
		cutotune.ScalarParam(blockSizeParam),
	}
)

// rowSpace is shared by the row-wise kernels. BLOCK_SIZE counts rows per
// launched task.
func rowSpace() []cutotune.Config {
	enoughRows := func(ctx cutotune.Args) bool {
		x, err := tensorArg(ctx, "x")
		if err != nil {
			return false
		}
		block, err := cutotune.ArgAs[int](ctx, blockSizeParam)
		if err != nil {
			return false
		}
		rows, _ := x.Rows()
		return rows > block
	}
	return cutotune.Concat(
		cutotune.CartesianProduct(nil,
			cutotune.Values(BackendParam, BackendNaive),
			cutotune.Values(blockSizeParam, 0)),
		cutotune.CartesianProduct(enoughRows,
			cutotune.Values(BackendParam, BackendParallel),
			cutotune.Values(blockSizeParam, 1, 4, 16, 64)),
	)
}

var rowDefault = map[string]any{BackendParam: BackendNaive, blockSizeParam: 0}

func (s *Set) newRMSNorm(common []cutotune.Option) (*Dispatcher, error) {
	opts := append([]cutotune.Option{
		cutotune.WithTriggers("x.dtype", "x.size(-1)"),
		cutotune.WithDefaultConfig(rowDefault),
	}, common...)
	return cutotune.New("rmsnorm", s.rmsnorm, rmsnormSignature, rowSpace(), opts...)
}

func (s *Set) newSoftmax(common []cutotune.Option) (*Dispatcher, error) {
	opts := append([]cutotune.Option{
		cutotune.WithTriggers("x.dtype", "x.size(-1)"),
		cutotune.WithDefaultConfig(rowDefault),
	}, common...)
	return cutotune.New("softmax", s.softmax, softmaxSignature, rowSpace(), opts...)
}

type rowKernel func(dst, x *tensor.Tensor, rs, re int)

func (s *Set) rows(args cutotune.Args, kernel rowKernel) (*tensor.Tensor, error) {
	x, err := tensorArg(args, "x")
	if err != nil {
		return nil, err
	}
	backend, err := cutotune.ArgAs[Backend](args, BackendParam)
	if err != nil {
		return nil, err
	}
	block, err := cutotune.ArgAs[int](args, blockSizeParam)
	if err != nil {
		return nil, err
	}

	out := x.Like()
	if err := tensor.CheckRows(out, x); err != nil {
		return nil, err
	}
	rows, _ := x.Rows()
	if backend != BackendParallel || block <= 0 {
		block = max(rows, 1)
	}
	for rs := 0; rs < rows; rs += block {
		re := min(rs+block, rows)
		if err := s.launch(func() error {
			kernel(out, x, rs, re)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Set) rmsnorm(_ context.Context, args cutotune.Args) (*tensor.Tensor, error) {
	eps, err := cutotune.ArgAs[float32](args, "eps")
	if err != nil {
		return nil, err
	}
	return s.rows(args, func(dst, x *tensor.Tensor, rs, re int) {
		tensor.RMSNormRows(dst, x, nil, eps, rs, re)
	})
}

func (s *Set) softmax(_ context.Context, args cutotune.Args) (*tensor.Tensor, error) {
	return s.rows(args, tensor.SoftmaxRows)
}

// RMSNorm normalizes the rows of x using the tuned config.
func (s *Set) RMSNorm(ctx context.Context, x *tensor.Tensor, eps float32) (*tensor.Tensor, error) {
	return s.run(ctx, s.RMSNormOp, cutotune.Args{cutotune.Named("x", x), cutotune.Named("eps", eps)})
}

// Softmax applies a row-wise softmax using the tuned config.
func (s *Set) Softmax(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return s.run(ctx, s.SoftmaxOp, cutotune.Args{cutotune.Named("x", x)})
}
