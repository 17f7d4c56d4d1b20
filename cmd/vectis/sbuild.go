package main

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vectis-project/vectis/internal/apt"
	"github.com/vectis-project/vectis/internal/config"
	"github.com/vectis-project/vectis/internal/virt"
)

var sbuildCommand = &cli.Command{
	Name:      "sbuild",
	Usage:     "build a Debian package with sbuild in a worker VM",
	ArgsUsage: "CHANGES_OR_DSC_OR_DIR...",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "versions-since",
			Usage: "populate the .changes file with versions since this",
		},
		&cli.IntFlag{
			Name:    "force-parallel",
			Aliases: []string{"j"},
			Usage:   "force a parallel build",
		},
		&cli.BoolFlag{
			Name:    "indep",
			Aliases: []string{"i"},
			Usage:   "build architecture-independent packages",
		},
		&cli.BoolFlag{
			Name:  "source-only",
			Usage: "only build a source package",
		},
		&cli.StringSliceFlag{
			Name:  "extra-repository",
			Usage: "add an apt source inside the build environment",
		},
		&cli.StringFlag{
			Name:    "output-builds",
			Aliases: []string{"build-area"},
			Usage:   "leave build products here",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return fmt.Errorf("at least one .dsc must be specified")
		}

		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if c.IsSet("force-parallel") {
			cfg.Set("force_parallel", c.Int("force-parallel"))
		}

		suite, err := currentSuite(cfg)
		if err != nil {
			return err
		}
		if err := checkMirrors(cfg, suite); err != nil {
			return err
		}

		mirrors, err := cfg.Mirrors()
		if err != nil {
			return err
		}
		components, err := cfg.Components()
		if err != nil {
			return err
		}
		sources, err := apt.SourcesForSuite(mirrors, suite, components, true)
		if err != nil {
			return err
		}

		workerArgv, err := cfg.Worker(config.ContextSbuild)
		if err != nil {
			return err
		}

		logrus.WithField("worker", workerArgv).Info("booting build worker")
		w, err := virt.Open(workerArgv)
		if err != nil {
			return err
		}
		defer w.Close()

		if err := installSbuild(w); err != nil {
			return err
		}

		outputDir := c.String("output-builds")
		if outputDir == "" {
			outputDir, err = ensureOutputDir(cfg)
			if err != nil {
				return err
			}
		}

		for _, dsc := range c.Args().Slice() {
			if err := buildOne(c, cfg, w, suite, sources, dsc, outputDir); err != nil {
				return err
			}
		}

		return w.Close()
	},
}

func installSbuild(w *virt.Worker) error {
	logrus.Info("installing sbuild")
	return w.CheckCall([]string{
		"env", "DEBIAN_FRONTEND=noninteractive",
		"apt-get", "-y", "--no-install-recommends", "install",
		"sbuild", "schroot",
	})
}

func buildOne(
	c *cli.Context,
	cfg *config.Config,
	w *virt.Worker,
	suite *config.Suite,
	sources []apt.Source,
	dsc string,
	outputDir string,
) error {
	logrus.WithField("source", dsc).Info("building")

	guestDir := path.Join(w.Scratch(), "build-"+uuid.New().String())
	if err := w.CheckCall([]string{"mkdir", "-p", guestDir}); err != nil {
		return err
	}

	guestDsc := path.Join(guestDir, filepath.Base(dsc))
	if err := w.CopyToGuest(dsc, guestDsc); err != nil {
		return err
	}
	for _, companion := range dscCompanions(dsc) {
		if err := w.CopyToGuest(companion,
			path.Join(guestDir, filepath.Base(companion))); err != nil {
			return err
		}
	}

	argv, err := sbuildArgv(c, cfg, suite, sources)
	if err != nil {
		return err
	}
	argv = append(argv, guestDsc)

	command := guestCommand(guestDir, nil, argv)
	if err := w.CheckCall(command); err != nil {
		return err
	}

	return w.CopyToHost(guestDir, outputDir)
}

// dscCompanions lists the files a .dsc references, as far as we can tell
// without parsing it: everything next to it with the same name stem.
func dscCompanions(dsc string) []string {
	dir := filepath.Dir(dsc)
	stem := strings.TrimSuffix(filepath.Base(dsc), ".dsc")
	matches, err := filepath.Glob(filepath.Join(dir, stem+".*"))
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		if !strings.HasSuffix(m, ".dsc") {
			out = append(out, m)
		}
	}
	return out
}

func sbuildArgv(
	c *cli.Context,
	cfg *config.Config,
	suite *config.Suite,
	sources []apt.Source,
) ([]string, error) {
	aptSuite, err := suite.AptSuite()
	if err != nil {
		return nil, err
	}

	argv := []string{
		"sbuild",
		"--verbose",
		"-d", aptSuite,
		"--no-run-lintian",
	}

	resolver, err := suite.SbuildResolver()
	if err != nil {
		return nil, err
	}
	argv = append(argv, resolver...)

	dpkgOptions, err := dpkgBuildpackageOptions(c, cfg)
	if err != nil {
		return nil, err
	}
	for _, opt := range dpkgOptions {
		argv = append(argv, "--debbuildopt="+opt)
	}

	if c.Bool("indep") {
		argv = append(argv, "--arch-all-only")
	}
	if c.Bool("source-only") {
		argv = append(argv, "--source", "--no-arch-any", "--no-arch-all")
	}

	for _, source := range sources {
		argv = append(argv, "--extra-repository="+source.String())
	}
	for _, line := range c.StringSlice("extra-repository") {
		argv = append(argv, "--extra-repository="+line)
	}

	return argv, nil
}

// dpkgBuildpackageOptions computes the options forwarded to
// dpkg-buildpackage. A forced parallelism (from the command line or the
// suite) takes priority over the suggested one.
func dpkgBuildpackageOptions(
	c *cli.Context,
	cfg *config.Config,
) ([]string, error) {
	var argv []string

	if since := c.String("versions-since"); since != "" {
		argv = append(argv, "-v"+since)
	}

	forceParallel := 0
	if value, err := cfg.Get("force_parallel"); err != nil {
		return nil, err
	} else if value != nil {
		if forceParallel, err = strconv.Atoi(fmt.Sprint(value)); err != nil {
			return nil, fmt.Errorf("invalid force_parallel %v", value)
		}
	}
	parallel, err := cfg.Parallel()
	if err != nil {
		return nil, err
	}
	switch {
	case forceParallel > 0:
		argv = append(argv, "-j"+strconv.Itoa(forceParallel))
	case parallel == 1:
		argv = append(argv, "-j1")
	case parallel > 1:
		argv = append(argv, "-J"+strconv.Itoa(parallel))
	default:
		argv = append(argv, "-Jauto")
	}

	sourceOptions, err := dpkgSourceOptions(cfg)
	if err != nil {
		return nil, err
	}
	for _, opt := range sourceOptions {
		argv = append(argv, "--source-option="+opt)
	}

	return argv, nil
}

func dpkgSourceOptions(cfg *config.Config) ([]string, error) {
	var argv []string

	diffIgnore, err := cfg.Get("dpkg_source_diff_ignore")
	if err != nil {
		return nil, err
	}
	switch value := diffIgnore.(type) {
	case nil:
	case bool:
		if value {
			argv = append(argv, "-i")
		}
	default:
		argv = append(argv, fmt.Sprintf("-i%v", value))
	}

	tarIgnore, err := cfg.Get("dpkg_source_tar_ignore")
	if err != nil {
		return nil, err
	}
	switch value := tarIgnore.(type) {
	case nil:
	case bool:
		if value {
			argv = append(argv, "-I")
		}
	default:
		for _, pattern := range asStringList(value) {
			argv = append(argv, "-I"+pattern)
		}
	}

	extend, err := cfg.Get("dpkg_source_extend_diff_ignore")
	if err != nil {
		return nil, err
	}
	for _, pattern := range asStringList(extend) {
		argv = append(argv, "--extend-diff-ignore="+pattern)
	}

	return argv, nil
}

func asStringList(value interface{}) []string {
	switch value := value.(type) {
	case nil:
		return nil
	case string:
		return strings.Fields(value)
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(value)}
	}
}
