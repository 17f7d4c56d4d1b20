package config_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectis-project/vectis/internal/config"
)

func lookupFor(t *testing.T, mirrorsYAML, vendor, suite string) (string, bool) {
	t.Helper()
	cfg, err := config.New([]*config.Layer{mustLayer(t, mirrorsYAML)}, "/")
	require.NoError(t, err)

	v, err := cfg.GetVendor(vendor)
	require.NoError(t, err)
	s, err := cfg.GetSuite(v, suite, true)
	require.NoError(t, err)
	mirrors, err := cfg.Mirrors()
	require.NoError(t, err)

	mirror, ok, err := mirrors.LookupSuite(s)
	require.NoError(t, err)
	return mirror, ok
}

func TestMirrorExactURI(t *testing.T) {
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        http://deb.debian.org/debian: http://local/debian
`, "debian", "sid")
	require.True(t, ok)
	assert.Equal(t, "http://local/debian", mirror)
}

func TestMirrorTrailingSlash(t *testing.T) {
	// a suite URI with a trailing slash still matches a key without one
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        http://deb.debian.org/debian: http://local/debian
vendors:
    debian:
        uris:
            - http://deb.debian.org/debian/
`, "debian", "sid")
	require.True(t, ok)
	assert.Equal(t, "http://local/debian", mirror)
}

func TestMirrorByArchive(t *testing.T) {
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        security.debian.org: http://local/security
`, "debian", "sid-security")
	require.True(t, ok)
	assert.Equal(t, "http://local/security", mirror)
}

func TestMirrorGlobPattern(t *testing.T) {
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        "*.debian.org": http://local/${archive}
`, "debian", "sid-security")
	require.True(t, ok)
	assert.Equal(t, "http://local/security.debian.org", mirror)
}

func TestMirrorWildcard(t *testing.T) {
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        "": http://cache/${archive}
`, "debian", "sid")
	require.True(t, ok)
	assert.Equal(t, "http://cache/debian", mirror)
}

func TestMirrorNullKeyIsWildcard(t *testing.T) {
	// a YAML null key behaves like the empty-string wildcard
	mirror, ok := lookupFor(t, `
defaults:
    mirrors:
        null: http://cache/${archive}
`, "debian", "sid")
	require.True(t, ok)
	assert.Equal(t, "http://cache/debian", mirror)
}

func TestMirrorMiss(t *testing.T) {
	_, ok := lookupFor(t, `
defaults:
    mirrors:
        steamos: http://localhost/steamos
`, "debian", "sid")
	assert.False(t, ok)
}

func TestMirrorPrecedence(t *testing.T) {
	// exact URI beats archive beats pattern beats wildcard
	const layered = `
defaults:
    mirrors:
        http://deb.debian.org/debian: http://by-uri/
        debian: http://by-archive/
        "deb*": http://by-pattern/
        "": http://by-wildcard/
`
	mirror, ok := lookupFor(t, layered, "debian", "sid")
	require.True(t, ok)
	assert.Equal(t, "http://by-uri/", mirror)
}

func TestMirrorLookupsAreDeterministic(t *testing.T) {
	const layered = `
defaults:
    mirrors:
        "d*": http://one/
        "de*": http://two/
`
	var results []string
	for i := 0; i < 8; i++ {
		mirror, ok := lookupFor(t, layered, "debian", "sid")
		require.True(t, ok)
		results = append(results, mirror)
	}
	for _, r := range results[1:] {
		if diff := cmp.Diff(results[0], r); diff != "" {
			t.Fatalf("lookup changed between runs:\n%s", diff)
		}
	}
}