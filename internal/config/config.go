package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Context selects which worker-related configuration keys apply: the
// context-prefixed key is tried first, then the unprefixed one, then the
// worker vendor's default.
type Context string

const (
	ContextDefault       Context = ""
	ContextLXC           Context = "lxc"
	ContextLXD           Context = "lxd"
	ContextPiuparts      Context = "piuparts"
	ContextSbuild        Context = "sbuild"
	ContextVmdebootstrap Context = "vmdebootstrap"
)

func (c Context) prefix() string {
	if c == ContextDefault {
		return ""
	}
	return string(c) + "_"
}

// Config combines explicit overrides, per-directory configuration and
// vendor/suite resolution into one coherent key lookup. It owns the
// Vendor and Suite identity caches: asking twice for the same vendor, or
// for the same (vendor, resolved suite name), returns the same object.
type Config struct {
	layers    []*Layer
	overrides map[string]interface{}
	vendors   map[string]*Vendor
	suites    map[suiteKey]*Suite
	resolving map[suiteKey]bool
	pathBased *Directory
}

type suiteKey struct {
	vendor string
	name   string
}

// New builds a Config from explicit configuration layers, ordered highest
// priority first; the hard-coded defaults layer is appended automatically.
// currentDirectory selects which directory overrides apply; empty means
// the process working directory.
func New(layers []*Layer, currentDirectory string) (*Config, error) {
	defaults, err := DefaultsLayer()
	if err != nil {
		return nil, err
	}

	stack := make([]*Layer, 0, len(layers)+1)
	stack = append(stack, layers...)
	stack = append(stack, defaults)

	if currentDirectory == "" {
		currentDirectory, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}

	c := &Config{
		layers:    stack,
		overrides: make(map[string]interface{}),
		vendors:   make(map[string]*Vendor),
		suites:    make(map[suiteKey]*Suite),
		resolving: make(map[suiteKey]bool),
	}

	// Walk up from the working directory until some layer has an entry
	// for it: "/" is always present in the hard-coded defaults, so this
	// terminates for any absolute path.
	dir := currentDirectory
	for {
		if c.anyLayerHasDirectory(dir) {
			break
		}
		parent := filepath.Dir(dir)
		if len(parent) >= len(dir) {
			return nil, errorf("no directory configuration found above %q", currentDirectory)
		}
		dir = parent
	}
	c.pathBased = newDirectory(dir, c.layers)

	return c, nil
}

// Load discovers configuration layers from the XDG search path and builds
// a Config for the process working directory.
func Load() (*Config, error) {
	layers, err := DiscoverLayers()
	if err != nil {
		return nil, err
	}
	return New(layers, "")
}

func (c *Config) anyLayerHasDirectory(path string) bool {
	for _, layer := range c.layers {
		if _, ok := layer.Directories[path]; ok {
			return true
		}
	}
	return false
}

func (c *Config) String() string {
	return "configuration"
}

// RelevantDirectory returns the directory scope selected at construction.
func (c *Config) RelevantDirectory() *Directory {
	return c.pathBased
}

// Set installs an in-process override for key, taking precedence over
// every configuration source. Typically filled in from parsed
// command-line arguments.
func (c *Config) Set(key string, value interface{}) {
	c.overrides[key] = value
}

// Unset removes an override installed with Set.
func (c *Config) Unset(key string) {
	delete(c.overrides, key)
}

// Get resolves a configuration key. Precedence: overrides, then the
// relevant directory, then the current suite (unless the key is vendor or
// suite itself), then the current vendor, with "vendor" itself read
// straight from the layered defaults to avoid recursion.
func (c *Config) Get(key string) (interface{}, error) {
	if !schemaHas(c.layers, key) {
		return nil, &NotConfiguredError{Entity: c.String(), Key: key}
	}

	if value, ok := c.overrides[key]; ok {
		return value, nil
	}

	if value, ok, err := c.pathBased.get(key); err != nil {
		return nil, err
	} else if ok {
		return value, nil
	}

	if key != "vendor" && key != "suite" {
		suite, err := c.Suite()
		if err != nil {
			return nil, err
		}
		if suite != nil {
			return suite.Get(key)
		}
	}

	if key != "vendor" {
		vendor, err := c.Vendor()
		if err != nil {
			return nil, err
		}
		return vendor.Get(key)
	}

	for _, layer := range c.layers {
		if value, ok := layer.Defaults["vendor"]; ok {
			return value, nil
		}
	}

	return nil, fmt.Errorf("internal error: the defaults do not specify a vendor")
}

// GetVendor returns the Vendor with the given name, constructing and
// caching it on first use. Construction validates every suite wildcard
// declared for the vendor, so a malformed pattern fails here, eagerly.
func (c *Config) GetVendor(name string) (*Vendor, error) {
	if vendor, ok := c.vendors[name]; ok {
		return vendor, nil
	}
	vendor, err := newVendor(name, c.layers)
	if err != nil {
		return nil, err
	}
	c.vendors[name] = vendor
	return vendor, nil
}

// Vendor resolves the current vendor. It is recomputed on every call so
// that overrides take effect immediately.
func (c *Config) Vendor() (*Vendor, error) {
	value, err := c.Get("vendor")
	if err != nil {
		return nil, err
	}
	return c.GetVendor(asString(value))
}

// Suite resolves the current suite, or nil when none is configured.
func (c *Config) Suite() (*Suite, error) {
	value, err := c.Get("suite")
	if err != nil {
		return nil, err
	}
	switch value := value.(type) {
	case nil:
		return nil, nil
	case *Suite:
		return value, nil
	}

	vendor, err := c.Vendor()
	if err != nil {
		return nil, err
	}
	return c.GetSuite(vendor, asString(value), true)
}

// GetSuite resolves a suite name for a vendor: aliases are followed (with
// cycle detection), "base-pocket" names are synthesized from "*-pocket"
// wildcard patterns when the base resolves, and an explicit "base" key
// (optionally "vendor/suite"-qualified) links the new suite to its
// ancestor. With create false, a name with no configuration entry
// resolves to nil rather than a synthesized suite.
func (c *Config) GetSuite(vendor *Vendor, name string, create bool) (*Suite, error) {
	if name == "" {
		return nil, nil
	}

	original := name

	if s, ok := c.suites[suiteKey{vendor.name, name}]; ok {
		return s, nil
	}
	if c.resolving[suiteKey{vendor.name, name}] {
		return nil, errorf("suite %s/%s is its own ancestor", vendor, name)
	}

	var raw map[string]interface{}
	seen := make(map[string]bool)
	for {
		raw = nil
		for _, layer := range c.layers {
			raw = layer.suiteEntry(vendor.name, name)
			if len(raw) > 0 {
				break
			}
		}

		if raw == nil {
			break
		}
		alias, ok := raw["alias_for"]
		if !ok {
			break
		}

		name = asString(alias)
		if seen[name] {
			return nil, errorf("%s/%s is an alias for itself", vendor, name)
		}
		seen[name] = true
	}

	if s, ok := c.suites[suiteKey{vendor.name, name}]; ok {
		return s, nil
	}

	pattern := name
	var base *Suite

	if raw == nil && strings.Contains(name, "-") {
		basePart, pocket, _ := strings.Cut(name, "-")
		b, err := c.GetSuite(vendor, basePart, false)
		if err != nil {
			return nil, err
		}
		if b != nil {
			base = b
			pattern = "*-" + pocket

			found := false
			for _, layer := range c.layers {
				if entry := layer.suiteEntry(vendor.name, pattern); entry != nil {
					raw = entry
					found = true
					break
				}
			}
			if found {
				name = b.String() + "-" + pocket
			} else {
				pattern = name
			}
		}
	}

	if raw == nil && !create {
		return nil, nil
	}

	c.resolving[suiteKey{vendor.name, original}] = true
	c.resolving[suiteKey{vendor.name, name}] = true
	defer func() {
		delete(c.resolving, suiteKey{vendor.name, original})
		delete(c.resolving, suiteKey{vendor.name, name})
	}()

	var err error
	for _, layer := range c.layers {
		entry := layer.suiteEntry(vendor.name, pattern)
		if entry == nil {
			continue
		}
		baseValue, ok := entry["base"]
		if !ok {
			continue
		}

		baseName := asString(baseValue)
		baseVendor := vendor
		if vendorName, suiteName, qualified := strings.Cut(baseName, "/"); qualified {
			baseVendor, err = c.GetVendor(vendorName)
			if err != nil {
				return nil, err
			}
			baseName = suiteName
		}

		base, err = c.GetSuite(baseVendor, c.substituteBase(baseName, base), true)
		if err != nil {
			return nil, err
		}
		break
	}

	s := newSuite(name, vendor, c.layers, base, pattern)
	c.suites[suiteKey{vendor.name, original}] = s
	c.suites[suiteKey{vendor.name, name}] = s
	return s, nil
}

// substituteBase replaces "*" in an explicit base name with the suite
// already inferred from a pocket split, so "base: */updates-base" style
// declarations can reference the wildcard match.
func (c *Config) substituteBase(name string, inferred *Suite) string {
	if strings.Contains(name, "*") && inferred != nil {
		return strings.ReplaceAll(name, "*", inferred.String())
	}
	return name
}

// Mirrors builds the mirror lookup table from the resolved configuration.
func (c *Config) Mirrors() (*Mirrors, error) {
	value, err := c.Get("mirrors")
	if err != nil {
		return nil, err
	}
	return NewMirrors(value)
}

func (c *Config) Parallel() (int, error) {
	return getInt(c, "parallel")
}

func (c *Config) Architecture() (string, error) {
	value, err := c.Get("architecture")
	if err != nil {
		return "", err
	}
	return asString(value), nil
}

func (c *Config) Components() ([]string, error) {
	return getStringSet(c, "components")
}

func (c *Config) ExtraComponents() ([]string, error) {
	return getStringSet(c, "extra_components")
}

func (c *Config) AllComponents() ([]string, error) {
	components, err := c.Components()
	if err != nil {
		return nil, err
	}
	extra, err := c.ExtraComponents()
	if err != nil {
		return nil, err
	}
	return unionStringSets(components, extra), nil
}

func (c *Config) SbuildIndepTogether() (bool, error) {
	return getBool(c, "sbuild_indep_together")
}

func (c *Config) SbuildSourceTogether() (bool, error) {
	return getBool(c, "sbuild_source_together")
}

func (c *Config) SbuildResolver() ([]string, error) {
	value, err := c.Get("sbuild_resolver")
	if err != nil {
		return nil, err
	}
	return asStringSlice(value), nil
}

// Storage is the directory for VM images and chroot tarballs, defaulting
// to vectis's XDG cache directory.
func (c *Config) Storage() (string, error) {
	return c.getFilename("storage", filepath.Join(xdgCacheHome(), "vectis"))
}

func (c *Config) OutputDir() (string, error) {
	return c.getFilename("output_dir", "")
}

func (c *Config) OutputParent() (string, error) {
	return c.getFilename("output_parent", "")
}

func (c *Config) LinkBuilds() ([]string, error) {
	return c.getFilenames("link_builds")
}

// VmdebootstrapOptions returns the extra arguments to pass through to
// vmdebootstrap for the current suite.
func (c *Config) VmdebootstrapOptions() ([]string, error) {
	value, err := c.Get("vmdebootstrap_options")
	if err != nil {
		return nil, err
	}
	return asStringSlice(value), nil
}

// QemuImageSize must resolve to a string somewhere in the stack; the
// hard-coded defaults provide one, so only an explicit null can break it.
func (c *Config) QemuImageSize() (string, error) {
	return getMandatoryString(c, "qemu_image_size")
}

// QemuRAMSize returns the configured RAM size in bytes, or 0 when unset.
func (c *Config) QemuRAMSize() (int64, error) {
	value, err := c.Get("qemu_ram_size")
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}
	return parseByteSize(asString(value))
}

// DebootstrapScript names the debootstrap suite script, defaulting to the
// current suite's full name.
func (c *Config) DebootstrapScript() (string, error) {
	value, err := c.Get("debootstrap_script")
	if err != nil {
		return "", err
	}
	if value != nil {
		return asString(value), nil
	}

	suite, err := c.Suite()
	if err != nil || suite == nil {
		return "", err
	}
	return suite.String(), nil
}

// AptKey resolves the configured keyring like Suite.AptKey does.
func (c *Config) AptKey() (string, error) {
	value, err := c.Get("apt_key")
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}

	key := asString(value)
	if strings.Contains(key, "/") {
		return key, nil
	}
	return filepath.Join(KeysDir, key), nil
}

// KernelPackage returns the kernel package for an architecture. The raw
// value is either a single name for every architecture or a mapping from
// architecture to name, with the empty key as the fallback.
func (c *Config) KernelPackage(architecture string) (string, error) {
	value, err := c.Get("kernel_package")
	if err != nil {
		return "", err
	}

	switch value := value.(type) {
	case nil:
		return "", nil
	case map[string]interface{}:
		if v, ok := value[architecture]; ok {
			return asString(v), nil
		}
		if v, ok := value[""]; ok {
			return asString(v), nil
		}
		return "", nil
	default:
		return asString(value), nil
	}
}

// WorkerVendor resolves the vendor whose machines run the given worker
// context, falling back from the context-prefixed key to the shared
// worker_vendor default.
func (c *Config) WorkerVendor(ctx Context) (*Vendor, error) {
	value, err := c.Get(ctx.prefix() + "worker_vendor")
	if err != nil {
		return nil, err
	}
	if value == nil && ctx != ContextDefault {
		value, err = c.Get("worker_vendor")
		if err != nil {
			return nil, err
		}
	}
	return c.GetVendor(asString(value))
}

// WorkerArchitecture resolves the dpkg architecture of the worker for the
// given context, falling back to the shared worker architecture and
// finally the build architecture.
func (c *Config) WorkerArchitecture(ctx Context) (string, error) {
	value, err := c.Get(ctx.prefix() + "worker_architecture")
	if err != nil {
		return "", err
	}
	if value != nil {
		return asString(value), nil
	}
	if ctx != ContextDefault {
		return c.WorkerArchitecture(ContextDefault)
	}
	return c.Architecture()
}

// WorkerSuite resolves the suite whose machines run the given worker
// context: the context-prefixed key, then the shared worker_suite, then
// the worker vendor's default_worker_suite. A nil result means no worker
// suite is configured anywhere.
func (c *Config) WorkerSuite(ctx Context) (*Suite, error) {
	value, err := c.Get(ctx.prefix() + "worker_suite")
	if err != nil {
		return nil, err
	}
	if value == nil && ctx != ContextDefault {
		value, err = c.Get("worker_suite")
		if err != nil {
			return nil, err
		}
	}

	vendor, err := c.WorkerVendor(ctx)
	if err != nil {
		return nil, err
	}

	if value == nil {
		value, err = vendor.Get("default_worker_suite")
		if err != nil {
			return nil, err
		}
	}
	if value == nil {
		return nil, nil
	}
	if suite, ok := value.(*Suite); ok {
		return suite, nil
	}
	return c.GetSuite(vendor, asString(value), true)
}

// QemuImage is the path of the VM image for the current vendor and suite.
// A bare filename is placed under the storage hierarchy.
func (c *Config) QemuImage() (string, error) {
	value, err := c.Get("qemu_image")
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", errorf("qemu_image must be configured")
	}

	image := asString(value)
	if strings.Contains(image, "/") {
		return image, nil
	}

	suite, err := c.Suite()
	if err != nil {
		return "", err
	}
	if suite == nil {
		return "", errorf("suite must be configured to locate qemu_image %q", image)
	}
	vendor, err := c.Vendor()
	if err != nil {
		return "", err
	}
	architecture, err := c.Architecture()
	if err != nil {
		return "", err
	}
	return c.imagePath(architecture, vendor, suite, image)
}

// WorkerQemuImage is the path of the VM image for the given worker
// context, falling back to the worker vendor's qemu_image.
func (c *Config) WorkerQemuImage(ctx Context) (string, error) {
	value, err := c.Get(ctx.prefix() + "worker_qemu_image")
	if err != nil {
		return "", err
	}

	vendor, err := c.WorkerVendor(ctx)
	if err != nil {
		return "", err
	}

	if value == nil {
		value, err = vendor.Get("qemu_image")
		if err != nil {
			return "", err
		}
	}
	if value == nil {
		return "", errorf("%sworker_qemu_image must be configured", ctx.prefix())
	}

	image := asString(value)
	if strings.Contains(image, "/") {
		return image, nil
	}

	suite, err := c.WorkerSuite(ctx)
	if err != nil {
		return "", err
	}
	if suite == nil {
		return "", errorf("%sworker_suite must be configured to locate image %q", ctx.prefix(), image)
	}
	architecture, err := c.WorkerArchitecture(ctx)
	if err != nil {
		return "", err
	}
	return c.imagePath(architecture, vendor, suite, image)
}

func (c *Config) imagePath(architecture string, vendor *Vendor, suite *Suite, image string) (string, error) {
	storage, err := c.Storage()
	if err != nil {
		return "", err
	}
	root := suite.hierarchy[len(suite.hierarchy)-1]
	return filepath.Join(storage, architecture, vendor.String(), root.String(), image), nil
}

// Worker returns the argv used to start the worker for the given context.
// When unset, a qemu worker is synthesized from the resolved RAM size,
// parallelism and worker image.
func (c *Config) Worker(ctx Context) ([]string, error) {
	value, err := c.Get(ctx.prefix() + "worker")
	if err != nil {
		return nil, err
	}
	if value != nil {
		return asStringSlice(value), nil
	}

	argv := []string{"qemu"}

	ramSize, err := c.QemuRAMSize()
	if err != nil {
		return nil, err
	}
	if ramSize > 0 {
		argv = append(argv, fmt.Sprintf("--ram-size=%d", ramSize/(1024*1024)))
	}

	parallel, err := c.Parallel()
	if err != nil {
		return nil, err
	}
	argv = append(argv, fmt.Sprintf("--cpus=%d", parallel))

	image, err := c.WorkerQemuImage(ctx)
	if err != nil {
		return nil, err
	}
	argv = append(argv, image)

	return argv, nil
}

func (c *Config) getFilename(key, fallback string) (string, error) {
	value, err := c.Get(key)
	if err != nil {
		return "", err
	}

	name := ""
	if value != nil {
		name = asString(value)
	} else {
		name = fallback
	}
	if name == "" {
		return "", nil
	}
	return expandPath(name), nil
}

func (c *Config) getFilenames(key string) ([]string, error) {
	value, err := c.Get(key)
	if err != nil {
		return nil, err
	}

	names := asStringSlice(value)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, expandPath(name))
	}
	return out, nil
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

func parseByteSize(value string) (int64, error) {
	suffixes := []struct {
		suffix string
		factor int64
	}{
		{"GiB", 1024 * 1024 * 1024},
		{"MiB", 1024 * 1024},
		{"KiB", 1024},
		{"G", 1024 * 1024 * 1024},
		{"M", 1024 * 1024},
		{"K", 1024},
	}
	for _, s := range suffixes {
		if strings.HasSuffix(value, s.suffix) {
			n, err := asInt(strings.TrimSuffix(value, s.suffix))
			if err != nil {
				return 0, errorf("invalid size %q: %v", value, err)
			}
			return int64(n) * s.factor, nil
		}
	}
	n, err := asInt(value)
	if err != nil {
		return 0, errorf("invalid size %q: %v", value, err)
	}
	return int64(n), nil
}

// SchemaKeys returns every key the hard-coded defaults layer defines,
// sorted. Only these keys can ever be retrieved with Get.
func (c *Config) SchemaKeys() []string {
	defaults := c.layers[len(c.layers)-1].Defaults
	keys := make([]string, 0, len(defaults))
	for key := range defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Dump writes every key in the configuration schema with its resolved
// value as YAML. Keys that fail to resolve are emitted as comments.
func (c *Config) Dump(w io.Writer) error {
	keys := c.SchemaKeys()

	resolved := make(map[string]interface{}, len(keys))
	for _, key := range keys {
		value, err := c.Get(key)
		if err != nil {
			if _, err := fmt.Fprintf(w, "# %s: %v\n", key, err); err != nil {
				return err
			}
			continue
		}

		switch value := value.(type) {
		case *Suite:
			resolved[key] = value.String()
		case *Vendor:
			resolved[key] = value.String()
		default:
			resolved[key] = value
		}
	}

	data, err := yaml.Marshal(resolved)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
