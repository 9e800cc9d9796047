package main

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fxnlabs/kernel-cache/internal/app"
	"github.com/fxnlabs/kernel-cache/internal/config"
	"github.com/fxnlabs/kernel-cache/internal/kernelcache"
)

func warmCommand() *cli.Command {
	return &cli.Command{
		Name:  "warm",
		Usage: "Compile every kernel listed in a manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "manifest",
				Usage:    "Path to the kernel manifest",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "parallel",
				Value: runtime.NumCPU(),
				Usage: "Maximum number of kernels compiled at once",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			manifest, err := config.LoadManifest(c.String("manifest"))
			if err != nil {
				return err
			}

			var cache *kernelcache.Cache
			fxApp := fx.New(
				app.Module(cfg),
				fx.Populate(&cache),
			)
			if err := fxApp.Start(c.Context); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := fxApp.Stop(stopCtx); err != nil {
					log.Warn("Failed to stop cleanly", zap.Error(err))
				}
			}()

			return warm(c.Context, cache, manifest, c.Int("parallel"), c.App.Writer, log)
		},
	}
}

func warm(ctx context.Context, cache *kernelcache.Cache, manifest *config.Manifest, parallel int, out io.Writer, log *zap.Logger) error {
	if parallel < 1 {
		parallel = 1
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, k := range manifest.Kernels {
		g.Go(func() error {
			_, err := cache.Get(gctx, kernelcache.Request{
				Algorithm:     k.Algorithm,
				NetworkConfig: k.NetworkConfig,
				Program:       k.Program,
				Entry:         k.Entry,
				Local:         k.Local,
				Global:        k.Global,
				Params:        k.Params,
			})
			if err != nil {
				return fmt.Errorf("%s/%s: %w", k.Algorithm, k.NetworkConfig, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ALGORITHM\tNETWORK CONFIG\tPROGRAM\tENTRY")
	for _, k := range manifest.Kernels {
		kernel, err := cache.Lookup(k.Algorithm, k.NetworkConfig)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", k.Algorithm, k.NetworkConfig, kernel.Program().Name(), kernel.Entry())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stats := cache.Stats()
	log.Info("Warm-up complete",
		zap.Int("kernels", stats.Kernels),
		zap.Int("programs", stats.Programs),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}
