package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vectis-project/vectis/internal/config"
	"github.com/vectis-project/vectis/internal/virt"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a command in a virtual machine for the selected suite",
	ArgsUsage: "-- PROGRAM [ARG...]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "shell-command",
			Aliases: []string{"c"},
			Usage:   "run this shell one-liner instead of a program",
		},
		&cli.StringFlag{
			Name:  "chdir",
			Usage: "directory inside the testbed to run in",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}

		argv := c.Args().Slice()
		shellCommand := c.String("shell-command")
		if shellCommand == "" && len(argv) == 0 {
			return fmt.Errorf(
				"usage: vectis run -- PROGRAM [ARG...] or vectis run -c 'shell one-liner'")
		}

		suite, err := currentSuite(cfg)
		if err != nil {
			return err
		}
		if err := checkMirrors(cfg, suite); err != nil {
			return err
		}

		outputDir, err := ensureOutputDir(cfg)
		if err != nil {
			return err
		}

		workerArgv, err := suiteQemuArgv(cfg)
		if err != nil {
			return err
		}

		logrus.WithFields(logrus.Fields{
			"suite":  suite.String(),
			"worker": workerArgv,
		}).Info("booting testbed")

		w, err := virt.Open(workerArgv)
		if err != nil {
			return err
		}
		defer w.Close()

		guestOut := path.Join(w.Scratch(), "out-"+uuid.New().String())
		if err := w.CheckCall([]string{"mkdir", "-p", guestOut}); err != nil {
			return err
		}

		inner := argv
		if shellCommand != "" {
			inner = append([]string{"sh", "-c", shellCommand}, argv...)
		}
		command := guestCommand(c.String("chdir"),
			[]string{"VECTIS_OUTPUT=" + guestOut}, inner)

		if err := w.CheckCall(command); err != nil {
			return err
		}

		if err := w.CopyToHost(guestOut, outputDir); err != nil {
			return err
		}
		logrus.WithField("dir", outputDir).Info("output copied")
		return w.Close()
	},
}

// guestCommand assembles a testbed argv with optional environment
// variables and an optional working directory. The directory change goes
// through a shell wrapper because env --chdir does not exist on the
// older suites the testbeds run.
func guestCommand(chdir string, env []string, argv []string) []string {
	command := argv
	if len(env) > 0 {
		command = append(append([]string{"env"}, env...), argv...)
	}
	if chdir != "" {
		command = append([]string{
			"sh", "-c", `cd "$1" && shift && exec "$@"`, "sh", chdir,
		}, command...)
	}
	return command
}

func ensureOutputDir(cfg *config.Config) (string, error) {
	outputDir, err := cfg.OutputDir()
	if err != nil {
		return "", err
	}
	if outputDir == "" {
		parent, err := cfg.OutputParent()
		if err != nil {
			return "", err
		}
		timestamp := time.Now().UTC().Format("20060102t150405")
		outputDir = filepath.Join(parent, "vectis-run_"+timestamp)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	return outputDir, nil
}

// suiteQemuArgv builds the virtualization command line for the image of
// the currently selected suite, as opposed to a build worker's image.
func suiteQemuArgv(cfg *config.Config) ([]string, error) {
	image, err := cfg.QemuImage()
	if err != nil {
		return nil, err
	}

	argv := []string{"qemu"}
	ramSize, err := cfg.QemuRAMSize()
	if err != nil {
		return nil, err
	}
	if ramSize > 0 {
		argv = append(argv,
			"--ram-size="+strconv.FormatInt(ramSize/(1024*1024), 10))
	}
	parallel, err := cfg.Parallel()
	if err != nil {
		return nil, err
	}
	argv = append(argv, "--cpus="+strconv.Itoa(parallel), image)
	return argv, nil
}
