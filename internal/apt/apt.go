// Package apt renders sources.list entries for a resolved suite and its
// ancestor chain.
package apt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vectis-project/vectis/internal/config"
)

// SourceType distinguishes binary and source package lines.
type SourceType string

const (
	Deb    SourceType = "deb"
	DebSrc SourceType = "deb-src"
)

// Source is one sources.list line.
type Source struct {
	Type       SourceType
	Trusted    bool
	URI        string
	Suite      string
	Components []string
}

func (s *Source) options() string {
	if s.Trusted {
		return "[trusted=yes] "
	}
	return ""
}

func (s *Source) String() string {
	return fmt.Sprintf("%s %s%s %s %s",
		s.Type, s.options(), s.URI, s.Suite,
		strings.Join(s.Components, " "))
}

// PiupartsMirrorOption renders the source in the form piuparts expects
// for its --mirror option.
func (s *Source) PiupartsMirrorOption() string {
	return fmt.Sprintf("%s%s %s %s",
		s.options(), s.URI, s.Suite,
		strings.Join(s.Components, " "))
}

// SourcesForSuite builds the sources.list lines for a suite and all of
// its ancestors. When components is non-empty, each ancestor's entry is
// limited to the components it actually carries; otherwise the
// ancestor's own default components are used. With sourcePackages set, a
// deb-src line accompanies every deb line.
func SourcesForSuite(
	mirrors *config.Mirrors,
	suite *config.Suite,
	components []string,
	sourcePackages bool,
) ([]Source, error) {
	var sources []Source

	for _, ancestor := range suite.Hierarchy() {
		var filtered []string
		if len(components) > 0 {
			all, err := ancestor.AllComponents()
			if err != nil {
				return nil, err
			}
			filtered = intersect(components, all)
		} else {
			var err error
			filtered, err = ancestor.Components()
			if err != nil {
				return nil, err
			}
		}

		uri, ok, err := mirrors.LookupSuite(ancestor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no mirror configured for %s", ancestor)
		}

		aptSuite, err := ancestor.AptSuite()
		if err != nil {
			return nil, err
		}
		trusted, err := ancestor.AptTrusted()
		if err != nil {
			return nil, err
		}

		source := Source{
			Type:       Deb,
			Trusted:    trusted,
			URI:        uri,
			Suite:      aptSuite,
			Components: filtered,
		}
		sources = append(sources, source)

		if sourcePackages {
			source.Type = DebSrc
			sources = append(sources, source)
		}
	}

	return sources, nil
}

func intersect(want, have []string) []string {
	haveSet := make(map[string]bool, len(have))
	for _, c := range have {
		haveSet[c] = true
	}
	var out []string
	for _, c := range want {
		if haveSet[c] {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
