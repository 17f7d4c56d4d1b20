package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vectis-project/vectis/internal/config"
)

var bootstrapCommand = &cli.Command{
	Name: "bootstrap",
	Usage: "create an autopkgtest virtual machine without an existing " +
		"one (must be run as root)",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "size",
			Usage: "size of the image to create",
		},
		&cli.StringFlag{
			Name:  "bootstrap-mirror",
			Usage: "mirror to use for the initial debootstrap",
		},
		&cli.StringFlag{
			Name:  "qemu-image",
			Usage: "virtual machine image to create",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.IsSet("size") {
			cfg.Set("qemu_image_size", c.String("size"))
		}
		if c.IsSet("qemu-image") {
			cfg.Set("write_qemu_image", c.String("qemu-image"))
		}

		suite, err := bootstrapSuite(cfg)
		if err != nil {
			return err
		}

		uri := c.String("bootstrap-mirror")
		if uri == "" {
			mirrors, err := cfg.Mirrors()
			if err != nil {
				return err
			}
			found, ok, err := mirrors.LookupSuite(suite)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no mirror configured for %s", suite)
			}
			uri = found
		}

		argv, err := vmdebootstrapArgv(cfg, suite, uri)
		if err != nil {
			return err
		}

		out, err := bootstrapImagePath(cfg, suite)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}

		scratch, err := os.MkdirTemp("", "vectis-bootstrap-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(scratch)

		raw := filepath.Join(scratch, "image.raw")
		argv = append(argv, "--image="+raw)

		full := append([]string{"sudo"}, argv...)
		logrus.WithField("argv", full).Info("running vmdebootstrap")
		cmd := exec.Command(full[0], full[1:]...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("vmdebootstrap failed: %w", err)
		}

		convert := exec.Command(
			"qemu-img", "convert", "-f", "raw", "-O", "qcow2", raw, out)
		convert.Stdout = os.Stderr
		convert.Stderr = os.Stderr
		if err := convert.Run(); err != nil {
			return fmt.Errorf("qemu-img convert failed: %w", err)
		}

		logrus.WithField("image", out).Info("image created")
		return nil
	},
}

// bootstrapSuite picks the suite to bootstrap: the explicit suite if
// given, otherwise the configured worker suite.
func bootstrapSuite(cfg *config.Config) (*config.Suite, error) {
	suite, err := cfg.Suite()
	if err != nil {
		return nil, err
	}
	if suite != nil {
		return suite, nil
	}
	suite, err = cfg.WorkerSuite(config.ContextDefault)
	if err != nil {
		return nil, err
	}
	if suite == nil {
		return nil, fmt.Errorf("--suite must be specified")
	}
	return suite, nil
}

func bootstrapImagePath(cfg *config.Config, suite *config.Suite) (string, error) {
	if value, err := cfg.Get("write_qemu_image"); err != nil {
		return "", err
	} else if value != nil {
		if name, ok := value.(string); ok && name != "" {
			if filepath.IsAbs(name) {
				return name, nil
			}
		}
	}

	storage, err := cfg.Storage()
	if err != nil {
		return "", err
	}
	architecture, err := cfg.Architecture()
	if err != nil {
		return "", err
	}
	image, err := cfg.Get("qemu_image")
	if err != nil {
		return "", err
	}
	name, _ := image.(string)
	hierarchy := suite.Hierarchy()
	root := hierarchy[len(hierarchy)-1]
	return filepath.Join(
		storage, architecture, suite.Vendor().String(), root.String(), name), nil
}

// vmdebootstrapArgv builds the vmdebootstrap invocation for a suite.
// AUTOPKGTEST_APT_PROXY=DIRECT keeps apt-cacher-ng in non-proxy mode so
// extra apt sources can be added later without going through it.
func vmdebootstrapArgv(
	cfg *config.Config,
	suite *config.Suite,
	uri string,
) ([]string, error) {
	size, err := cfg.QemuImageSize()
	if err != nil {
		return nil, err
	}
	architecture, err := cfg.Architecture()
	if err != nil {
		return nil, err
	}
	script, err := cfg.DebootstrapScript()
	if err != nil {
		return nil, err
	}

	argv := []string{
		"env",
		"AUTOPKGTEST_APT_PROXY=DIRECT",
		"MIRROR=" + uri,
		"RELEASE=" + suite.String(),

		"vmdebootstrap",
		"--log=/dev/stderr",
		"--verbose",
		"--serial-console",
		"--distribution=" + script,
		"--user=user",
		"--hostname=host",
		"--sparse",
		"--size=" + size,
		"--mirror=" + uri,
		"--arch=" + architecture,
		"--grub",
		"--no-extlinux",
	}

	kernel, err := cfg.KernelPackage(architecture)
	if err != nil {
		return nil, err
	}
	if kernel != "" {
		argv = append(argv, "--kernel-package="+kernel)
	}

	options, err := cfg.VmdebootstrapOptions()
	if err != nil {
		return nil, err
	}
	argv = append(argv, options...)

	return argv, nil
}
