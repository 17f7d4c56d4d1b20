package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vectis-project/vectis/internal/config"
	"github.com/vectis-project/vectis/internal/logging"
)

func main() {
	app := &cli.App{
		Name:  "vectis",
		Usage: "do Debian-related things in a virtual machine",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  "vendor",
				Usage: "distribution vendor to work with",
			},
			&cli.StringFlag{
				Name:  "suite",
				Usage: "release suite",
			},
			&cli.StringFlag{
				Name:    "architecture",
				Aliases: []string{"arch"},
				Usage:   "dpkg architecture",
			},
			&cli.StringFlag{
				Name:  "storage",
				Usage: "directory for VM images and tarballs",
			},
			&cli.IntFlag{
				Name:    "parallel",
				Aliases: []string{"J"},
				Usage:   "suggest a parallel build",
			},
			&cli.StringFlag{
				Name:  "worker-suite",
				Usage: "suite of the build worker",
			},
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "leave output here",
			},
			&cli.StringFlag{
				Name:  "output-parent",
				Usage: "create output directories here",
			},
		},
		Before: func(c *cli.Context) error {
			logging.Setup(c.Bool("debug"))
			return nil
		},
		Commands: []*cli.Command{
			dumpCommand,
			runCommand,
			bootstrapCommand,
			sbuildCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// stringOverrides maps global flags onto configuration keys.
var stringOverrides = map[string]string{
	"vendor":        "vendor",
	"suite":         "suite",
	"architecture":  "architecture",
	"storage":       "storage",
	"worker-suite":  "worker_suite",
	"output-dir":    "output_dir",
	"output-parent": "output_parent",
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	for flag, key := range stringOverrides {
		if c.IsSet(flag) {
			cfg.Set(key, c.String(flag))
		}
	}
	if c.IsSet("parallel") {
		cfg.Set("parallel", c.Int("parallel"))
	}

	return cfg, nil
}

// currentSuite resolves the suite to operate on, falling back to the
// vendor's default suite when none was chosen.
func currentSuite(cfg *config.Config) (*config.Suite, error) {
	suite, err := cfg.Suite()
	if err != nil {
		return nil, err
	}
	if suite != nil {
		return suite, nil
	}

	vendor, err := cfg.Vendor()
	if err != nil {
		return nil, err
	}
	name, err := vendor.DefaultSuite()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("--suite must be specified")
	}
	return cfg.GetSuite(vendor, name, true)
}

// checkMirrors verifies that every ancestor of the suite has a mirror,
// before any long-running work starts.
func checkMirrors(cfg *config.Config, suite *config.Suite) error {
	mirrors, err := cfg.Mirrors()
	if err != nil {
		return err
	}
	for _, ancestor := range suite.Hierarchy() {
		if _, ok, err := mirrors.LookupSuite(ancestor); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("no mirror configured for %s", ancestor)
		}
	}
	return nil
}
