package config

import (
	"fmt"
)

// Directory is a path-keyed override scope: when the current working
// directory is (or is under) this path, its values take precedence over
// everything except explicit in-process overrides. It takes part in no
// hierarchy of its own.
type Directory struct {
	path   string
	layers []*Layer
}

func newDirectory(path string, layers []*Layer) *Directory {
	return &Directory{path: path, layers: layers}
}

func (d *Directory) Path() string {
	return d.path
}

func (d *Directory) String() string {
	return fmt.Sprintf("directory %s", d.path)
}

// Get resolves a key from this directory's override entries. A key the
// directory does not override resolves to (nil, false, nil).
func (d *Directory) get(key string) (interface{}, bool, error) {
	if !schemaHas(d.layers, key) {
		return nil, false, &NotConfiguredError{Entity: d.String(), Key: key}
	}

	for _, layer := range d.layers {
		if entry := layer.directory(d.path); entry != nil {
			if value, ok := entry[key]; ok {
				return value, true, nil
			}
		}
	}

	return nil, false, nil
}

// Get resolves a key from this directory's override entries, failing with
// a NotConfiguredError when the directory does not override it.
func (d *Directory) Get(key string) (interface{}, error) {
	value, ok, err := d.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &NotConfiguredError{Entity: d.String(), Key: key}
	}
	return value, nil
}

// Contains reports whether this directory overrides the given key.
func (d *Directory) Contains(key string) bool {
	_, ok, err := d.get(key)
	return err == nil && ok
}
