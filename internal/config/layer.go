package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// A Layer is one source of configuration values. Layers are immutable once
// constructed; a []*Layer ordered highest-priority-first is the unit passed
// to every entity in this package, and the last element is always the
// hard-coded defaults layer.
type Layer struct {
	Defaults    map[string]interface{}
	Vendors     map[string]*VendorLayer
	Directories map[string]map[string]interface{}
}

// VendorLayer is the per-vendor subtree of a Layer: vendor-level values
// plus a table of suite entries keyed by suite name or wildcard pattern.
type VendorLayer struct {
	Values map[string]interface{}
	Suites map[string]map[string]interface{}
}

func (v *VendorLayer) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	v.Values = make(map[string]interface{})
	for key, value := range raw {
		if key != "suites" {
			v.Values[key] = value
			continue
		}

		suites, ok := value.(map[string]interface{})
		if !ok && value != nil {
			return fmt.Errorf("suites must be a mapping, got %T", value)
		}
		v.Suites = make(map[string]map[string]interface{}, len(suites))
		for name, entry := range suites {
			switch entry := entry.(type) {
			case nil:
				// "name:" with no body reads as an absent entry
				v.Suites[name] = nil
			case map[string]interface{}:
				v.Suites[name] = entry
			default:
				return fmt.Errorf("suite %q must be a mapping, got %T", name, entry)
			}
		}
	}

	return nil
}

func (l *Layer) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Defaults    map[string]interface{}            `yaml:"defaults"`
		Vendors     map[string]*VendorLayer           `yaml:"vendors"`
		Directories map[string]map[string]interface{} `yaml:"directories"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	l.Defaults = raw.Defaults
	l.Vendors = raw.Vendors
	l.Directories = raw.Directories
	return nil
}

// ParseLayer decodes one YAML configuration document into a Layer.
func ParseLayer(data []byte) (*Layer, error) {
	var l Layer
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("cannot parse configuration: %w", err)
	}
	return &l, nil
}

func (l *Layer) vendorValues(vendor string) map[string]interface{} {
	if v, ok := l.Vendors[vendor]; ok && v != nil {
		return v.Values
	}
	return nil
}

// suiteEntry returns the raw suite entry for (vendor, name), or nil when
// the layer has no such entry. An explicitly empty entry ("sid: {}") is
// returned as an empty non-nil map, which matters for suite resolution.
func (l *Layer) suiteEntry(vendor, name string) map[string]interface{} {
	if v, ok := l.Vendors[vendor]; ok && v != nil {
		return v.Suites[name]
	}
	return nil
}

func (l *Layer) directory(path string) map[string]interface{} {
	return l.Directories[path]
}

// schemaHas reports whether key is part of the configuration schema: the
// lowest-priority layer's defaults section is the universe of known keys.
func schemaHas(layers []*Layer, key string) bool {
	if len(layers) == 0 {
		return false
	}
	_, ok := layers[len(layers)-1].Defaults[key]
	return ok
}

// DiscoverLayers reads vectis.yaml from the XDG configuration search path.
// The returned slice is ordered most-specific-first, ready to be stacked
// on top of the hard-coded defaults.
func DiscoverLayers() ([]*Layer, error) {
	configDirs := filepath.SplitList(envOr("XDG_CONFIG_DIRS", "/etc/xdg"))

	// least specific first, so that each file found is inserted in front
	// of the ones read before it
	var search []string
	for i := len(configDirs) - 1; i >= 0; i-- {
		search = append(search, configDirs[i])
	}
	search = append(search, xdgConfigHome())

	var layers []*Layer
	for _, dir := range search {
		path := filepath.Join(dir, "vectis", "vectis.yaml")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		layer, err := ParseLayer(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		layers = append([]*Layer{layer}, layers...)
	}

	return layers, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func xdgConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return filepath.Join(home, ".config")
}

func xdgCacheHome() string {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/"
	}
	return filepath.Join(home, ".cache")
}
