package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/samcharles93/cutotune/internal/api"
	"github.com/samcharles93/cutotune/internal/logger"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		saveOnExit  bool
	)

	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the tuning cache over HTTP",
		Before: setupLogging,
		Flags: append(tuningFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.BoolFlag{
				Name:        "save-on-exit",
				Usage:       "persist the cache when the server stops",
				Value:       true,
				Destination: &saveOnExit,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyServeConfig(cmd, LoadConfig(), &addr)

			set, err := openKernelSet(ctx, cmd, true)
			if err != nil {
				return err
			}
			defer func() {
				if saveOnExit && set.Cache().Len() > 0 {
					if err := set.Save(); err != nil {
						log.Error("cache save failed", "path", set.Cache().Path(), "error", err)
					} else {
						log.Info("cache saved", "path", set.Cache().Path())
					}
				}
				_ = set.Close()
			}()

			server := api.NewServer(set, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "cache", set.Cache().Path())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
