package main

import (
	"os"

	"github.com/urfave/cli/v2"
)

var dumpCommand = &cli.Command{
	Name:  "dump",
	Usage: "print the fully resolved configuration as YAML",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return cfg.Dump(os.Stdout)
	},
}
