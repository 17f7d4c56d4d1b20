package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// KeysDir is where keyring filenames without a directory component are
// looked up, mirroring the keyrings shipped alongside the tool.
var KeysDir = "/usr/share/vectis/keys"

// Suite is a release or pocket belonging to a Vendor. Its identity is the
// (vendor, resolved name) pair; Config guarantees that two requests for
// the same pair return the same *Suite.
type Suite struct {
	name   string
	vendor *Vendor
	layers []*Layer

	// base is the suite this one inherits from, or nil. The base chain
	// is a tree: at most one parent, no cycles.
	base *Suite

	// pattern is the raw key matched in the configuration tree. It
	// differs from name when the suite was synthesized from a wildcard,
	// e.g. name "xenial-security" matched via pattern "*-security".
	pattern string

	// hierarchy is self plus every transitive base, self first.
	hierarchy []*Suite
}

func newSuite(name string, vendor *Vendor, layers []*Layer, base *Suite, pattern string) *Suite {
	if pattern == "" {
		pattern = name
	}

	s := &Suite{
		name:    name,
		vendor:  vendor,
		layers:  layers,
		base:    base,
		pattern: pattern,
	}
	for ancestor := s; ancestor != nil; ancestor = ancestor.base {
		s.hierarchy = append(s.hierarchy, ancestor)
	}
	return s
}

func (s *Suite) Name() string {
	return s.name
}

func (s *Suite) String() string {
	return s.name
}

func (s *Suite) Vendor() *Vendor {
	return s.vendor
}

func (s *Suite) Base() *Suite {
	return s.base
}

// Hierarchy returns this suite followed by its transitive base suites.
func (s *Suite) Hierarchy() []*Suite {
	return s.hierarchy
}

// Pattern returns the raw configuration key this suite was matched from.
func (s *Suite) Pattern() string {
	return s.pattern
}

// structural keys are always permitted in suite lookups even when absent
// from the defaults schema: they describe the suite itself rather than
// user-configurable behavior.
func structuralSuiteKey(key string) bool {
	switch key {
	case "apt_suite", "apt_trusted", "archive", "base":
		return true
	}
	return false
}

// lookup scans the layers for a value set on this suite's own pattern,
// optionally falling back to its vendor's own values. The first layer
// that sets the key at all wins, even if it sets it to null; a nil result
// means "not set at this hierarchy level".
func (s *Suite) lookup(key string, inheritFromVendor bool) (interface{}, error) {
	if !schemaHas(s.layers, key) && !structuralSuiteKey(key) {
		return nil, &NotConfiguredError{Entity: s.describe(), Key: key}
	}

	for _, layer := range s.layers {
		if entry := layer.suiteEntry(s.vendor.name, s.pattern); entry != nil {
			if value, ok := entry[key]; ok {
				return value, nil
			}
		}
	}

	if inheritFromVendor {
		for _, layer := range s.layers {
			if values := layer.vendorValues(s.vendor.name); values != nil {
				if value, ok := values[key]; ok {
					return value, nil
				}
			}
		}
	}

	return nil, nil
}

func (s *Suite) describe() string {
	return fmt.Sprintf("suite %s/%s", s.vendor.name, s.name)
}

// Get resolves a key for this suite: each hierarchy level is consulted in
// turn, suite-specific values before that level's vendor-level values,
// before moving on to the next ancestor; the final fallback is the owning
// vendor's full resolution including the global defaults.
func (s *Suite) Get(key string) (interface{}, error) {
	if key == "base" {
		if s.base == nil {
			return nil, nil
		}
		return s.base.String(), nil
	}

	for _, ancestor := range s.hierarchy {
		value, err := ancestor.lookup(key, true)
		if err != nil {
			return nil, err
		}
		if value != nil {
			return value, nil
		}
	}

	return s.vendor.Get(key)
}

// AptSuite is the literal apt distribution string used on the wire. It
// defaults to the suite name; a configured value containing "*" has the
// "*" replaced by the base suite's name, so that a "*-security" pattern
// can declare apt_suite "*/updates".
func (s *Suite) AptSuite() (string, error) {
	value, err := s.lookup("apt_suite", false)
	if err != nil {
		return "", err
	}
	if value == nil {
		return s.name, nil
	}

	aptSuite := asString(value)
	if strings.Contains(aptSuite, "*") && s.base != nil {
		aptSuite = strings.ReplaceAll(aptSuite, "*", s.base.String())
	}
	return aptSuite, nil
}

// AptTrusted reports whether apt sources for this suite carry the
// [trusted=yes] option.
func (s *Suite) AptTrusted() (bool, error) {
	value, err := s.lookup("apt_trusted", false)
	if err != nil {
		return false, err
	}
	if value == nil {
		return false, nil
	}
	b, ok := value.(bool)
	if !ok {
		return false, errorf("invalid value for %q: %v is not a boolean value", "apt_trusted", value)
	}
	return b, nil
}

// Archive is the package-archive identity used for mirror selection,
// defaulting to the vendor's name.
func (s *Suite) Archive() (string, error) {
	value, err := s.lookup("archive", true)
	if err != nil {
		return "", err
	}
	if value == nil {
		return s.vendor.String(), nil
	}
	return asString(value), nil
}

// URIs are the canonical archive URIs for this suite, falling back to the
// vendor-level value: uris are vendor-scoped by convention, not inherited
// through the suite hierarchy.
func (s *Suite) URIs() ([]string, error) {
	value, err := s.Get("uris")
	if err != nil {
		return nil, err
	}
	uris := asStringSlice(value)
	if len(uris) == 0 {
		vendorValue, err := s.vendor.Get("uris")
		if err != nil {
			return nil, err
		}
		uris = asStringSlice(vendorValue)
	}
	return uris, nil
}

// AptKey resolves the keyring for this suite. A value containing "/" is
// used as-is; a bare filename is looked up in KeysDir.
func (s *Suite) AptKey() (string, error) {
	value, err := s.Get("apt_key")
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

func (s *Suite) SbuildResolver() ([]string, error) {
	value, err := s.Get("sbuild_resolver")
	if err != nil {
		return nil, err
	}
	return asStringSlice(value), nil
}

func (s *Suite) ForceParallel() (int, error) {
	value, err := s.Get("force_parallel")
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, nil
	}
	return asInt(value)
}

func (s *Suite) Components() ([]string, error) {
	return getStringSet(s, "components")
}

func (s *Suite) ExtraComponents() ([]string, error) {
	return getStringSet(s, "extra_components")
}

func (s *Suite) AllComponents() ([]string, error) {
	components, err := s.Components()
	if err != nil {
		return nil, err
	}
	extra, err := s.ExtraComponents()
	if err != nil {
		return nil, err
	}
	return unionStringSets(components, extra), nil
}
