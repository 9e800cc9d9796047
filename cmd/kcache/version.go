package main

import (
	"fmt"
	"runtime"

	"github.com/common-nighthawk/go-figure"
	"github.com/urfave/cli/v2"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print the version",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "short",
				Usage: "Print the version only, without the banner",
			},
		},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			if !c.Bool("short") {
				fmt.Fprintln(w, figure.NewFigure("kcache", "", true).String())
			}
			fmt.Fprintf(w, "kcache %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
