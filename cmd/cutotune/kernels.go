package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/cutotune/internal/kernels"
	"github.com/samcharles93/cutotune/internal/logger"
	"github.com/urfave/cli/v3"
)

// openKernelSet builds the tuned kernels from the environment, the config
// file and the tuning flags. With load set, an existing cache file is read
// even when LOAD_CUTOTUNE_CACHE is not.
func openKernelSet(ctx context.Context, cmd *cli.Command, load bool) (*kernels.Set, error) {
	cfg := LoadConfig()
	applyTuningConfig(cmd, cfg)
	env := resolveEnv(cmd, cfg)
	if load {
		env.LoadCache = true
	}

	log := logger.ForRank(logger.FromContext(ctx), env.Rank)
	set, err := kernels.NewSet(kernels.Options{
		Env:        env,
		Logger:     log,
		Workers:    int(workers),
		Warmup:     int(warmup),
		Iterations: int(iterations),
	})
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("open cache: %v", err), 1)
	}
	log.Debug("kernels ready",
		"cache", env.CacheFile,
		"trials", set.Cache().Len(),
		"workers", set.Stream().Workers(),
		"disabled", env.Disable,
	)
	return set, nil
}
