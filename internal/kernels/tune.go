package kernels

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/samcharles93/cutotune/pkg/cutotune"
)

// TuneResult reports the config a kernel selected for one synthetic input.
type TuneResult struct {
	Op     string
	Key    cutotune.Key
	Config cutotune.Config
	Time   time.Duration
	// Swept is true when the call ran a benchmark sweep.
	Swept bool
}

// Problem is a synthetic input class: a dtype plus a shape. For gemm the
// shape is (M, K, N); every other kernel takes the tensor shape directly.
type Problem struct {
	DType tensor.DType
	Shape []int
}

func (p Problem) String() string {
	return fmt.Sprintf("%s%v", p.DType, p.Shape)
}

// Tune runs kernel name on random inputs of the given class, tuning it on a
// cache miss, and returns the selected config.
func (s *Set) Tune(ctx context.Context, name string, p Problem) (TuneResult, error) {
	op, ok := s.Operation(name)
	if !ok {
		return TuneResult{}, fmt.Errorf("kernels: unknown kernel %q", name)
	}
	d := op.(*Dispatcher)
	args, err := syntheticArgs(d.Name(), p)
	if err != nil {
		return TuneResult{}, err
	}

	s.device.Lock()
	defer s.device.Unlock()
	before := d.Sweeps()
	if _, err := s.runLocked(ctx, d, args); err != nil {
		return TuneResult{}, err
	}
	key, err := d.Key(args)
	if err != nil {
		return TuneResult{}, err
	}
	res := TuneResult{Op: d.Name(), Key: key, Swept: d.Sweeps() > before}
	if best, ok := d.Best(key); ok {
		res.Config = best.Config
		res.Time = best.Time
	}
	return res, nil
}

func syntheticArgs(op string, p Problem) (cutotune.Args, error) {
	for _, d := range p.Shape {
		if d <= 0 {
			return nil, fmt.Errorf("kernels: %s: invalid shape %v", op, p.Shape)
		}
	}
	random := func(seed int64, shape ...int) *tensor.Tensor {
		t := tensor.New(p.DType, shape...)
		tensor.FillRand(t, seed)
		return t
	}
	switch op {
	case "add":
		if len(p.Shape) == 0 {
			return nil, fmt.Errorf("kernels: add: empty shape")
		}
		return cutotune.Args{
			cutotune.Named("x", random(1, p.Shape...)),
			cutotune.Named("y", random(2, p.Shape...)),
		}, nil
	case "rmsnorm", "softmax":
		if len(p.Shape) == 0 {
			return nil, fmt.Errorf("kernels: %s: empty shape", op)
		}
		args := cutotune.Args{cutotune.Named("x", random(1, p.Shape...))}
		if op == "rmsnorm" {
			args = append(args, cutotune.Named("eps", float32(1e-6)))
		}
		return args, nil
	case "gemm":
		if len(p.Shape) != 3 {
			return nil, fmt.Errorf("kernels: gemm: shape must be (M, K, N), got %v", p.Shape)
		}
		m, k, n := p.Shape[0], p.Shape[1], p.Shape[2]
		return cutotune.Args{
			cutotune.Named("a", random(1, m, k)),
			cutotune.Named("b", random(2, k, n)),
		}, nil
	}
	return nil, fmt.Errorf("kernels: no synthetic input for %q", op)
}

// DefaultGrid is the problem grid swept by build-cache: every kernel over
// the three dtypes and a handful of sizes.
func DefaultGrid() map[string][]Problem {
	dtypes := []tensor.DType{tensor.F32, tensor.F16, tensor.BF16}
	grid := make(map[string][]Problem)
	for _, dt := range dtypes {
		for _, n := range []int{1 << 10, 1 << 14, 1 << 18} {
			grid["add"] = append(grid["add"], Problem{DType: dt, Shape: []int{n}})
		}
		for _, hidden := range []int{256, 1024, 4096} {
			grid["rmsnorm"] = append(grid["rmsnorm"], Problem{DType: dt, Shape: []int{64, hidden}})
			grid["softmax"] = append(grid["softmax"], Problem{DType: dt, Shape: []int{64, hidden}})
		}
		for _, n := range []int{64, 128, 256} {
			grid["gemm"] = append(grid["gemm"], Problem{DType: dt, Shape: []int{n, n, n}})
		}
	}
	return grid
}
