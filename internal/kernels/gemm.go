package kernels

import (
	"context"
	"fmt"

	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

const (
	tileMParam = "TILE_M"
	tileNParam = "TILE_N"
	tileKParam = "TILE_K"
)

var gemmSignature = cutotune.Signature{
	cutotune.TensorParam("a"),
	cutotune.TensorParam("b"),
	cutotune.ScalarParam(BackendParam),
	cutotune.ScalarParam(tileMParam),
	cutotune.ScalarParam(tileNParam),
	cutotune.ScalarParam(tileKParam),
}

func gemmSpace() []cutotune.Config {
	// Tiles larger than the problem behave like the next smaller tile.
	fits := func(ctx cutotune.Args) bool {
		a, err := tensorArg(ctx, "a")
		if err != nil || a.Rank() != 2 {
			return false
		}
		tm, err := cutotune.ArgAs[int](ctx, tileMParam)
		if err != nil {
			return false
		}
		tk, err := cutotune.ArgAs[int](ctx, tileKParam)
		if err != nil {
			return false
		}
		return tm <= max(a.Dim(0), 16) && tk <= max(a.Dim(1), 16)
	}
	return cutotune.Concat(
		cutotune.CartesianProduct(nil,
			cutotune.Values(BackendParam, BackendNaive),
			cutotune.Values(tileMParam, 0),
			cutotune.Values(tileNParam, 0),
			cutotune.Values(tileKParam, 0)),
		cutotune.CartesianProduct(fits,
			cutotune.Values(BackendParam, BackendBlocked, BackendParallel),
			cutotune.Values(tileMParam, 16, 32, 64),
			cutotune.Values(tileNParam, 32, 64),
			cutotune.Values(tileKParam, 16, 32)),
	)
}

func (s *Set) newGemm(common []cutotune.Option) (*Dispatcher, error) {
	opts := append([]cutotune.Option{
		cutotune.WithTriggers("a.dtype", "a.size(0)", "a.size(1)", "b.size(1)"),
		cutotune.WithDefaultConfig(map[string]any{
			BackendParam: BackendBlocked,
			tileMParam:   32,
			tileNParam:   32,
			tileKParam:   16,
		}),
	}, common...)
	return cutotune.New("gemm", s.gemm, gemmSignature, gemmSpace(), opts...)
}

func (s *Set) gemm(_ context.Context, args cutotune.Args) (*tensor.Tensor, error) {
	a, err := tensorArg(args, "a")
	if err != nil {
		return nil, err
	}
	b, err := tensorArg(args, "b")
	if err != nil {
		return nil, err
	}
	backend, err := cutotune.ArgAs[Backend](args, BackendParam)
	if err != nil {
		return nil, err
	}
	var tiles tensor.GemmTiles
	for _, p := range []struct {
		name string
		dst  *int
	}{{tileMParam, &tiles.M}, {tileNParam, &tiles.N}, {tileKParam, &tiles.K}} {
		if *p.dst, err = cutotune.ArgAs[int](args, p.name); err != nil {
			return nil, err
		}
	}
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("gemm: operands must be 2-D, got %v and %v", a.Shape(), b.Shape())
	}

	c := tensor.New(a.DType(), a.Dim(0), b.Dim(1))
	if err := tensor.CheckGemm(c, a, b); err != nil {
		return nil, err
	}
	if backend == BackendNaive {
		return c, s.launch(func() error { return tensor.GemmNaive(c, a, b) })
	}

	a, b = a.Contiguous(), b.Contiguous()
	m := c.Dim(0)
	step := m
	if backend == BackendParallel && tiles.M > 0 {
		step = tiles.M
	}
	for rs := 0; rs < m; rs += step {
		re := min(rs+step, m)
		if err := s.launch(func() error {
			tensor.GemmRows(c, a, b, rs, re, tiles)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Gemm returns a*b using the tuned config for the problem shape.
func (s *Set) Gemm(ctx context.Context, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return s.run(ctx, s.GemmOp, cutotune.Args{cutotune.Named("a", a), cutotune.Named("b", b)})
}
