package config

import (
	"os"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Mirrors maps archive URIs, archive names or patterns to mirror URI
// templates. The empty key is the wildcard entry matching anything else;
// keys containing "*" are glob patterns tried after all exact matches.
// Templates may reference ${archive}, substituted at lookup time.
type Mirrors struct {
	exact    map[string]string
	patterns []mirrorPattern
	wildcard string
	haveWild bool
}

type mirrorPattern struct {
	raw      string
	compiled glob.Glob
	template string
}

// NewMirrors builds a mirror table from the raw "mirrors" configuration
// value. A YAML null key is treated like the empty-string wildcard key.
func NewMirrors(raw interface{}) (*Mirrors, error) {
	m := &Mirrors{exact: make(map[string]string)}

	add := func(key interface{}, value string) error {
		k := ""
		if key != nil {
			k = asString(key)
		}
		if k == "" || k == "null" {
			m.wildcard = value
			m.haveWild = true
			return nil
		}
		if strings.Contains(k, "*") {
			compiled, err := glob.Compile(k)
			if err != nil {
				return errorf("invalid mirror pattern %q: %v", k, err)
			}
			m.patterns = append(m.patterns, mirrorPattern{raw: k, compiled: compiled, template: value})
			return nil
		}
		m.exact[k] = value
		return nil
	}

	switch raw := raw.(type) {
	case nil:
	case map[string]interface{}:
		for k, v := range raw {
			if err := add(k, asString(v)); err != nil {
				return nil, err
			}
		}
	case map[interface{}]interface{}:
		for k, v := range raw {
			if err := add(k, asString(v)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errorf("mirrors must be a mapping, got %T", raw)
	}

	// deterministic pattern order regardless of map iteration
	sort.Slice(m.patterns, func(i, j int) bool {
		return m.patterns[i].raw < m.patterns[j].raw
	})

	return m, nil
}

func (m *Mirrors) lookupTemplate(suite *Suite) (string, bool, error) {
	uris, err := suite.URIs()
	if err != nil {
		return "", false, err
	}

	for _, uri := range uris {
		if t, ok := m.exact[uri]; ok {
			return t, true, nil
		}
		if t, ok := m.exact[strings.TrimRight(uri, "/")]; ok {
			return t, true, nil
		}
	}

	archive, err := suite.Archive()
	if err != nil {
		return "", false, err
	}
	if t, ok := m.exact[archive]; ok {
		return t, true, nil
	}

	for _, p := range m.patterns {
		for _, uri := range uris {
			if p.compiled.Match(uri) {
				return p.template, true, nil
			}
		}
		if p.compiled.Match(archive) {
			return p.template, true, nil
		}
	}

	if m.haveWild {
		return m.wildcard, true, nil
	}

	return "", false, nil
}

// LookupSuite resolves the concrete mirror URI for a suite. A miss is not
// an error: the caller decides whether an unconfigured mirror is fatal.
func (m *Mirrors) LookupSuite(suite *Suite) (string, bool, error) {
	template, ok, err := m.lookupTemplate(suite)
	if err != nil || !ok {
		return "", false, err
	}

	archive, err := suite.Archive()
	if err != nil {
		return "", false, err
	}

	mirror := os.Expand(template, func(name string) string {
		if name == "archive" {
			return archive
		}
		return ""
	})
	return mirror, true, nil
}
