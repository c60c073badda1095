package main

import (
	"testing"

	"github.com/samcharles93/cutotune/internal/kernels"
	"github.com/samcharles93/cutotune/internal/tensor"
)

func TestBuildPlan(t *testing.T) {
	grid := map[string][]kernels.Problem{
		"softmax": {
			{DType: tensor.F32, Shape: []int{4, 64}},
			{DType: tensor.BF16, Shape: []int{4, 64}},
		},
		"add": {
			{DType: tensor.F32, Shape: []int{1024}},
			{DType: tensor.F16, Shape: []int{1024}},
		},
	}

	t.Run("no filters keeps everything in kernel order", func(t *testing.T) {
		plan, err := buildPlan(grid, nil, nil)
		if err != nil {
			t.Fatalf("buildPlan returned error: %v", err)
		}
		if len(plan) != 4 {
			t.Fatalf("plan size: got %d want 4", len(plan))
		}
		if plan[0].kernel != "add" || plan[3].kernel != "softmax" {
			t.Fatalf("unexpected order: %+v", plan)
		}
	})

	t.Run("kernel and dtype filters", func(t *testing.T) {
		plan, err := buildPlan(grid, []string{"softmax"}, []string{"bf16"})
		if err != nil {
			t.Fatalf("buildPlan returned error: %v", err)
		}
		if len(plan) != 1 || plan[0].kernel != "softmax" || plan[0].problem.DType != tensor.BF16 {
			t.Fatalf("unexpected plan: %+v", plan)
		}
	})

	t.Run("unknown kernel", func(t *testing.T) {
		if _, err := buildPlan(grid, []string{"conv"}, nil); err == nil {
			t.Fatalf("expected error for unknown kernel")
		}
	})

	t.Run("unknown dtype", func(t *testing.T) {
		if _, err := buildPlan(grid, nil, []string{"int4"}); err == nil {
			t.Fatalf("expected error for unknown dtype")
		}
	})
}

func TestDefaultGridCoversEveryKernel(t *testing.T) {
	plan, err := buildPlan(kernels.DefaultGrid(), nil, nil)
	if err != nil {
		t.Fatalf("buildPlan returned error: %v", err)
	}
	seen := map[string]int{}
	for _, job := range plan {
		seen[job.kernel]++
	}
	for _, name := range []string{"add", "gemm", "rmsnorm", "softmax"} {
		if seen[name] == 0 {
			t.Fatalf("default grid has no %s problems", name)
		}
	}
}
