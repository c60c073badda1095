package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/samcharles93/cutotune/internal/logger"
	"github.com/urfave/cli/v3"
)

var (
	cacheFile  string
	warmup     int64
	iterations int64
	workers    int64
	logLevel   string
	logFormat  string
	debug      bool
)

func cacheFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "cache-file",
		Usage:       "path to the tuning cache (overrides CUTOTUNE_CACHE_FILE)",
		Destination: &cacheFile,
	}
}

func tuningFlags() []cli.Flag {
	return []cli.Flag{
		cacheFileFlag(),
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "untimed runs per candidate before measuring",
			Value:       5,
			Destination: &warmup,
		},
		&cli.Int64Flag{
			Name:        "iterations",
			Aliases:     []string{"iters"},
			Usage:       "timed runs per candidate",
			Value:       10,
			Destination: &iterations,
		},
		&cli.Int64Flag{
			Name:        "workers",
			Usage:       "device stream workers (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// setupLogging installs the logger selected by the logging flags, falling
// back to the config file for flags left unset.
func setupLogging(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	applyLoggingConfig(cmd, LoadConfig(), &logLevel, &logFormat)
	format, err := logger.ParseFormat(logFormat)
	if err != nil {
		return ctx, cli.Exit(err.Error(), 1)
	}
	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	return logger.WithContext(ctx, logger.ForFormat(format, os.Stderr, level)), nil
}
