package config

import (
	"fmt"
	"strings"
)

// Vendor is an OS distribution family: debian, ubuntu, or any unknown name
// the user asks for. Unknown vendors are valid and resolve everything from
// the global defaults.
type Vendor struct {
	name   string
	layers []*Layer
}

// newVendor validates every suite wildcard declared for this vendor, in
// any layer, before the vendor can be used: a suite key containing "*"
// must have exactly the form "*-suffix".
func newVendor(name string, layers []*Layer) (*Vendor, error) {
	for _, layer := range layers {
		vl, ok := layer.Vendors[name]
		if !ok || vl == nil {
			continue
		}
		for pattern := range vl.Suites {
			if !strings.Contains(pattern, "*") {
				continue
			}
			if !strings.HasPrefix(pattern, "*-") || strings.Contains(pattern[2:], "*") {
				return nil, errorf("suite wildcards must be of the form *-something, not %q", pattern)
			}
		}
	}

	return &Vendor{name: name, layers: layers}, nil
}

func (v *Vendor) Name() string {
	return v.name
}

func (v *Vendor) String() string {
	return v.name
}

// Get resolves a vendor-scoped key: vendor-level values from the highest
// layer that sets one, falling back to the global defaults across layers.
func (v *Vendor) Get(key string) (interface{}, error) {
	if !schemaHas(v.layers, key) {
		return nil, &NotConfiguredError{Entity: fmt.Sprintf("vendor %s", v.name), Key: key}
	}

	for _, layer := range v.layers {
		if values := layer.vendorValues(v.name); values != nil {
			if value, ok := values[key]; ok {
				return value, nil
			}
		}
	}

	for _, layer := range v.layers {
		if value, ok := layer.Defaults[key]; ok {
			return value, nil
		}
	}

	// schemaHas guarantees the key exists in the last layer's defaults
	return nil, fmt.Errorf("internal error: %q missing from defaults layer", key)
}

func (v *Vendor) DefaultSuite() (string, error) {
	value, err := v.Get("default_suite")
	if err != nil {
		return "", err
	}
	return asString(value), nil
}

func (v *Vendor) DefaultWorkerSuite() (string, error) {
	value, err := v.Get("default_worker_suite")
	if err != nil {
		return "", err
	}
	return asString(value), nil
}

func (v *Vendor) Components() ([]string, error) {
	return getStringSet(v, "components")
}

func (v *Vendor) ExtraComponents() ([]string, error) {
	return getStringSet(v, "extra_components")
}

func (v *Vendor) AllComponents() ([]string, error) {
	components, err := v.Components()
	if err != nil {
		return nil, err
	}
	extra, err := v.ExtraComponents()
	if err != nil {
		return nil, err
	}
	return unionStringSets(components, extra), nil
}
