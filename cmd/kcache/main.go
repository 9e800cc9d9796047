package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fxnlabs/kernel-cache/internal/config"
	"github.com/fxnlabs/kernel-cache/internal/logger"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config.yaml"

func newApp() *cli.App {
	var configPath string

	return &cli.App{
		Name:    "kcache",
		Usage:   "Compile, cache and inspect GPU kernels",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Value:       defaultConfigPath,
				Usage:       "Path to the config file; defaults apply when it does not exist",
				EnvVars:     []string{"KCACHE_CONFIG"},
				Destination: &configPath,
			},
		},
		Before: func(c *cli.Context) error {
			c.App.Metadata["configPath"] = configPath
			return nil
		},
		Commands: []*cli.Command{
			initCommand(),
			warmCommand(),
			devicesCommand(),
			versionCommand(),
		},
	}
}

// loadConfig reads the --config file and builds the command logger.
func loadConfig(c *cli.Context) (*config.Config, *zap.Logger, error) {
	path := c.App.Metadata["configPath"].(string)
	cfg, err := config.LoadConfigOrDefault(path)
	if err != nil {
		return nil, nil, err
	}
	zapLogger, err := logger.New(cfg.Logger.Verbosity, cfg.Logger.Encoding)
	if err != nil {
		return nil, nil, err
	}
	return cfg, zapLogger.Named("cli"), nil
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
