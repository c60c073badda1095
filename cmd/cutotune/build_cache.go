package main

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/samcharles93/cutotune/internal/kernels"
	"github.com/samcharles93/cutotune/internal/logger"
	"github.com/samcharles93/cutotune/internal/tensor"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
)

func buildCacheCmd() *cli.Command {
	var (
		only   []string
		dtypes []string
		fresh  bool
	)

	return &cli.Command{
		Name:   "build-cache",
		Usage:  "Tune every kernel over a grid of dtypes and shapes, then save the cache",
		Before: setupLogging,
		Flags: append(tuningFlags(),
			&cli.StringSliceFlag{
				Name:        "kernel",
				Aliases:     []string{"k"},
				Usage:       "restrict to these kernels (add, rmsnorm, softmax, gemm)",
				Destination: &only,
			},
			&cli.StringSliceFlag{
				Name:        "dtype",
				Usage:       "restrict to these dtypes (f32, f16, bf16)",
				Destination: &dtypes,
			},
			&cli.BoolFlag{
				Name:        "fresh",
				Usage:       "ignore an existing cache file instead of extending it",
				Destination: &fresh,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			plan, err := buildPlan(kernels.DefaultGrid(), only, dtypes)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if len(plan) == 0 {
				return cli.Exit("build-cache: nothing to tune", 1)
			}

			set, err := openKernelSet(ctx, cmd, !fresh)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			bar := progressbar.NewOptions(len(plan),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("tuning"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionClearOnFinish(),
			)

			start := time.Now()
			swept := 0
			for _, job := range plan {
				bar.Describe(fmt.Sprintf("%s %s", job.kernel, job.problem))
				res, err := set.Tune(ctx, job.kernel, job.problem)
				if err != nil {
					_ = bar.Exit()
					return cli.Exit(fmt.Sprintf("build-cache: %s %s: %v", job.kernel, job.problem, err), 1)
				}
				if res.Swept {
					swept++
				}
				log.Debug("tuned", "kernel", job.kernel, "key", string(res.Key), "config", res.Config.String(), "time", res.Time)
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			if err := set.Save(); err != nil {
				return cli.Exit(fmt.Sprintf("build-cache: %v", err), 1)
			}
			log.Info("cache built",
				"path", set.Cache().Path(),
				"problems", len(plan),
				"swept", swept,
				"trials", set.Cache().Len(),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}
}

type tuneJob struct {
	kernel  string
	problem kernels.Problem
}

// buildPlan flattens the grid in kernel order, keeping only the requested
// kernels and dtypes. Empty filters keep everything.
func buildPlan(grid map[string][]kernels.Problem, only, dtypes []string) ([]tuneJob, error) {
	names := make([]string, 0, len(grid))
	for name := range grid {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, k := range only {
		if _, ok := grid[strings.TrimSpace(k)]; !ok {
			return nil, fmt.Errorf("unknown kernel %q (want one of %s)", k, strings.Join(names, ", "))
		}
	}
	var keep []tensor.DType
	for _, s := range dtypes {
		dt, err := tensor.ParseDType(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		keep = append(keep, dt)
	}

	var plan []tuneJob
	for _, name := range names {
		if len(only) > 0 && !slices.ContainsFunc(only, func(k string) bool { return strings.TrimSpace(k) == name }) {
			continue
		}
		for _, p := range grid[name] {
			if len(keep) > 0 && !slices.Contains(keep, p.DType) {
				continue
			}
			plan = append(plan, tuneJob{kernel: name, problem: p})
		}
	}
	return plan, nil
}
