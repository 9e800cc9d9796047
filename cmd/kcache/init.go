package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/fxnlabs/kernel-cache/fixtures"
)

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file to the --config path",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Overwrite existing files",
			},
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Also write an example warm-up manifest to this path",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.App.Metadata["configPath"].(string)
			if err := writeTemplate(path, fixtures.ConfigTemplate, c.Bool("force")); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)

			if manifest := c.String("manifest"); manifest != "" {
				if err := writeTemplate(manifest, fixtures.WarmupManifest, c.Bool("force")); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "Wrote %s\n", manifest)
			}
			return nil
		},
	}
}

// writeTemplate creates path with data. An existing file is an error
// unless force is set.
func writeTemplate(path string, data []byte, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
