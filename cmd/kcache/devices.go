package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/fxnlabs/kernel-cache/internal/gpu"
)

func devicesCommand() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "Show the driver backend and device kernels are loaded into",
		Action: func(c *cli.Context) error {
			cfg, log, err := loadConfig(c)
			if err != nil {
				return err
			}

			mgr, err := gpu.NewManager(cfg.Driver.Backend, log, nil)
			if err != nil {
				return err
			}
			defer mgr.Cleanup() //nolint:errcheck

			info := mgr.GetDeviceInfo()
			w := c.App.Writer
			fmt.Fprintf(w, "Backend:        %s\n", mgr.GetBackendType())
			fmt.Fprintf(w, "GPU available:  %t\n", mgr.IsGPUAvailable())
			fmt.Fprintf(w, "Device:         %s\n", info.Name)
			fmt.Fprintf(w, "Architecture:   %s\n", info.Arch)
			fmt.Fprintf(w, "Memory:         %s\n", humanize.IBytes(uint64(info.TotalMemory)))
			fmt.Fprintf(w, "Driver version: %s\n", info.DriverVersion)
			return nil
		},
	}
}
